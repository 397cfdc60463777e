package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildwarden/internal/fault"
	"guildwarden/internal/platform"
	"guildwarden/internal/reactions"
)

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	ctx, cancel := b.eventContext()
	defer cancel()

	name := ""
	if r.User != nil {
		name = r.User.Username
	}
	b.logger.Info("gateway ready", zap.String("user", name), zap.Int("guilds", len(r.Guilds)))

	if b.Config.Features.ShardSanityCheck {
		if err := b.checkShard(r); err != nil {
			b.Ops.Integrity(ctx, "shard sanity check", err)
		}
	}
	if err := b.registerCommands(ctx); err != nil {
		b.Ops.Failure(ctx, "register commands", err)
	}

	ids := make([]string, 0, len(r.Guilds))
	for _, g := range r.Guilds {
		ids = append(ids, g.ID)
	}
	if err := b.Surface.SyncLocalCommands(ctx, ids, b.ownsGuild); err != nil {
		b.Ops.Failure(ctx, "sync local commands", err)
	}
}

func (b *Bot) ownsGuild(guildID string) bool {
	return platform.ShardFor(guildID, b.Config.ShardCount) == b.Config.ShardID
}

// checkShard compares the identify the gateway acknowledged, and the guilds
// it delivered, with the configured shard.
func (b *Bot) checkShard(r *discordgo.Ready) error {
	if r.Shard != nil && (r.Shard[0] != b.Config.ShardID || r.Shard[1] != b.Config.ShardCount) {
		return fault.Newf(fault.IntegrityViolation, "gateway assigned shard %d/%d, configured %d/%d",
			r.Shard[0], r.Shard[1], b.Config.ShardID, b.Config.ShardCount)
	}
	for _, g := range r.Guilds {
		if !b.ownsGuild(g.ID) {
			return fault.Newf(fault.IntegrityViolation, "guild %s does not belong to shard %d", g.ID, b.Config.ShardID)
		}
	}
	return nil
}

func (b *Bot) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil {
		return
	}
	b.Cache.InvalidateGuild(g.ID)
	b.Cache.InvalidateRoles(g.ID)
	ctx, cancel := b.eventContext()
	defer cancel()
	b.guard(ctx, "guild-available", func() error {
		return b.Invites.Refresh(ctx, g.ID)
	})
}

func (b *Bot) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Guild == nil {
		return
	}
	b.Cache.InvalidateGuild(g.ID)
	b.Cache.InvalidateRoles(g.ID)
	if !g.Unavailable {
		b.logger.Info("removed from guild", zap.String("guild_id", g.ID))
	}
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil || m.GuildID == "" || m.Author.ID == b.Platform.BotUserID() {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()

	if b.Flows.Feed(ctx, m.Message) {
		return
	}
	b.remember(m.Message)
	b.guard(ctx, "message", func() error {
		_, err := b.Chain.Process(ctx, m.Message)
		return err
	})
}

func (b *Bot) onMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.Message == nil || m.GuildID == "" || m.BeforeUpdate == nil {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	b.guard(ctx, "message-edit", func() error {
		return b.messageEdited(ctx, m.BeforeUpdate, m.Message)
	})
}

func (b *Bot) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if m.Message == nil || m.GuildID == "" {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	b.guard(ctx, "message-delete", func() error {
		return b.messageDeleted(ctx, m.GuildID, m.ChannelID, m.ID, m.BeforeDelete)
	})
}

func (b *Bot) onReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	b.reaction(r.MessageReaction, true)
}

func (b *Bot) onReactionRemove(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
	b.reaction(r.MessageReaction, false)
}

func (b *Bot) reaction(r *discordgo.MessageReaction, added bool) {
	if r == nil || r.GuildID == "" {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	b.guard(ctx, "reaction", func() error {
		return b.Reactions.Handle(ctx, reactions.FromReaction(r, added))
	})
}

func (b *Bot) onMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.User == nil {
		return
	}
	b.Cache.InvalidateMember(m.GuildID, m.User.ID)
	b.Cache.InvalidateGuild(m.GuildID)
	ctx, cancel := b.eventContext()
	defer cancel()
	b.guard(ctx, "member-join", func() error {
		return b.memberJoined(ctx, m.Member)
	})
}

func (b *Bot) onMemberUpdate(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if m.Member == nil || m.User == nil {
		return
	}
	b.Cache.InvalidateMember(m.GuildID, m.User.ID)
}

func (b *Bot) onMemberRemove(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
	if m.Member == nil || m.User == nil {
		return
	}
	b.Cache.InvalidateMember(m.GuildID, m.User.ID)
	b.Cache.InvalidateGuild(m.GuildID)
	ctx, cancel := b.eventContext()
	defer cancel()
	b.guard(ctx, "member-leave", func() error {
		return b.memberLeft(ctx, m.GuildID, m.User)
	})
}

func (b *Bot) onChannelUpdate(_ *discordgo.Session, c *discordgo.ChannelUpdate) {
	if c.Channel != nil {
		b.Cache.InvalidateChannel(c.ID)
	}
}

func (b *Bot) onChannelDelete(_ *discordgo.Session, c *discordgo.ChannelDelete) {
	if c.Channel == nil || c.GuildID == "" {
		return
	}
	b.Cache.InvalidateChannel(c.ID)
	ctx, cancel := b.eventContext()
	defer cancel()
	b.guard(ctx, "channel-delete", func() error {
		return b.channelDeleted(ctx, c.GuildID, c.ID)
	})
}

// channelDeleted drops rows that only made sense while the channel existed.
func (b *Bot) channelDeleted(ctx context.Context, guildID, channelID string) error {
	feeds, err := b.Store.RemoveChannelFeeds(ctx, guildID, channelID)
	if err != nil {
		return err
	}
	ticket, err := b.Store.DeleteTicket(ctx, guildID, channelID)
	if err != nil {
		return err
	}
	if feeds > 0 || ticket {
		b.logger.Info("cleaned up after deleted channel", zap.String("channel_id", channelID), zap.Int64("feeds", feeds), zap.Bool("ticket", ticket))
	}
	return nil
}

func (b *Bot) onRoleCreate(_ *discordgo.Session, r *discordgo.GuildRoleCreate) {
	b.Cache.InvalidateRoles(r.GuildID)
}

func (b *Bot) onRoleUpdate(_ *discordgo.Session, r *discordgo.GuildRoleUpdate) {
	b.Cache.InvalidateRoles(r.GuildID)
}

func (b *Bot) onRoleDelete(_ *discordgo.Session, r *discordgo.GuildRoleDelete) {
	b.Cache.InvalidateRoles(r.GuildID)
}

func (b *Bot) onInviteCreate(_ *discordgo.Session, i *discordgo.InviteCreate) {
	b.refreshInvites(i.GuildID)
}

func (b *Bot) onInviteDelete(_ *discordgo.Session, i *discordgo.InviteDelete) {
	b.refreshInvites(i.GuildID)
}

func (b *Bot) refreshInvites(guildID string) {
	if guildID == "" {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	b.guard(ctx, "invites", func() error {
		return b.Invites.Refresh(ctx, guildID)
	})
}

func (b *Bot) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Interaction == nil {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	b.Surface.Handle(ctx, i.Interaction)
}

// onRateLimit reports 429s. discordgo does not surface the global flag on
// this event, so every hit is counted per bucket.
func (b *Bot) onRateLimit(_ *discordgo.Session, rl *discordgo.RateLimit) {
	if rl.TooManyRequests == nil {
		return
	}
	bucket := rl.Bucket
	if bucket == "" {
		bucket = rl.URL
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	b.Ops.RateLimited(ctx, bucket, rl.RetryAfter, false)
}
