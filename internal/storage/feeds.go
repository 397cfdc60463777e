package storage

import (
	"context"
)

type FeedSubscription struct {
	GuildID       string     `db:"guild_id"`
	ChannelID     string     `db:"channel_id"`
	SourceURL     string     `db:"source_url"`
	ReplyTemplate string     `db:"reply_template"`
	SeenIDs       StringList `db:"seen_ids"`
}

// Seen appends id to the seen set, keeping the most recent MaxFeedSeenIDs.
func (f *FeedSubscription) Seen(id string) {
	f.SeenIDs = append(f.SeenIDs.Without(id), id)
	if len(f.SeenIDs) > MaxFeedSeenIDs {
		f.SeenIDs = f.SeenIDs[len(f.SeenIDs)-MaxFeedSeenIDs:]
	}
}

func (c conn) AddFeedSubscription(ctx context.Context, f FeedSubscription) error {
	_, err := c.exec(ctx, "add feed subscription", `
		INSERT INTO feed_subscriptions (guild_id, channel_id, source_url, reply_template, seen_ids)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, channel_id, source_url) DO UPDATE SET reply_template = excluded.reply_template
	`, f.GuildID, f.ChannelID, f.SourceURL, f.ReplyTemplate, f.SeenIDs)
	return err
}

func (c conn) UpdateFeedSeen(ctx context.Context, f FeedSubscription) error {
	_, err := c.exec(ctx, "update feed seen", `
		UPDATE feed_subscriptions SET seen_ids = ? WHERE guild_id = ? AND channel_id = ? AND source_url = ?
	`, f.SeenIDs, f.GuildID, f.ChannelID, f.SourceURL)
	return err
}

func (c conn) RemoveFeedSubscription(ctx context.Context, guildID, channelID, sourceURL string) (bool, error) {
	n, err := c.exec(ctx, "remove feed subscription", `
		DELETE FROM feed_subscriptions WHERE guild_id = ? AND channel_id = ? AND source_url = ?
	`, guildID, channelID, sourceURL)
	return n > 0, err
}

func (c conn) RemoveChannelFeeds(ctx context.Context, guildID, channelID string) (int64, error) {
	return c.exec(ctx, "remove channel feeds", `DELETE FROM feed_subscriptions WHERE guild_id = ? AND channel_id = ?`, guildID, channelID)
}

func (c conn) ListFeedSubscriptions(ctx context.Context) ([]FeedSubscription, error) {
	var subs []FeedSubscription
	err := c.all(ctx, "list feed subscriptions", &subs, `
		SELECT guild_id, channel_id, source_url, reply_template, seen_ids
		FROM feed_subscriptions ORDER BY guild_id, channel_id, source_url
	`)
	return subs, err
}

func (c conn) ListGuildFeedSubscriptions(ctx context.Context, guildID string) ([]FeedSubscription, error) {
	var subs []FeedSubscription
	err := c.all(ctx, "list guild feed subscriptions", &subs, `
		SELECT guild_id, channel_id, source_url, reply_template, seen_ids
		FROM feed_subscriptions WHERE guild_id = ? ORDER BY channel_id, source_url
	`, guildID)
	return subs, err
}
