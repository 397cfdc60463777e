package bot

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildwarden/internal/platform"
	"guildwarden/internal/render"
	"guildwarden/internal/storage"
)

// auditWindow is how long repeats of one entry fold into the same notice.
const auditWindow = 10 * time.Minute

type auditAggregate struct {
	channelID string
	messageID string
	count     int
	lastAt    time.Time
}

// notifyAudit mirrors an audit entry to the tenant log channel. Identical
// entries within auditWindow edit the previous notice and bump its count.
func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	if entry.GuildID == "" {
		return
	}
	settings, err := b.Store.GuildSettings(ctx, entry.GuildID)
	if err != nil {
		b.logger.Debug("loading settings for audit notice failed", zap.String("guild_id", entry.GuildID), zap.Error(err))
		return
	}
	channelID := settings.LogChannel
	if channelID == "" {
		return
	}

	key := entry.GuildID + "|" + entry.Level + "|" + entry.Event + "|" + entry.Details + "|" + entry.UserID
	now := b.Clock.Now()

	b.auditMu.Lock()
	b.sweepAuditLocked(now)
	agg := b.auditAgg[key]
	if agg != nil && agg.channelID == channelID && now.Sub(agg.lastAt) <= auditWindow {
		agg.count++
		agg.lastAt = now
		count, messageID := agg.count, agg.messageID
		b.auditMu.Unlock()

		edit := discordgo.NewMessageEdit(channelID, messageID).SetEmbed(b.auditEmbed(entry, count))
		if _, err := b.Platform.EditMessage(ctx, edit); err == nil {
			return
		}
		b.auditMu.Lock()
		delete(b.auditAgg, key)
	}
	b.auditMu.Unlock()

	msg, err := b.Platform.SendMessage(ctx, channelID, platform.Embed(b.auditEmbed(entry, 1)))
	if err != nil || msg == nil {
		b.logger.Debug("audit notice not delivered", zap.String("channel_id", channelID), zap.Error(err))
		return
	}
	b.auditMu.Lock()
	b.auditAgg[key] = &auditAggregate{channelID: channelID, messageID: msg.ID, count: 1, lastAt: now}
	b.auditMu.Unlock()
}

func (b *Bot) sweepAuditLocked(now time.Time) {
	for key, agg := range b.auditAgg {
		if now.Sub(agg.lastAt) > auditWindow {
			delete(b.auditAgg, key)
		}
	}
}

func (b *Bot) auditEmbed(entry storage.AuditLog, count int) *discordgo.MessageEmbed {
	user := "system"
	if entry.UserID != "" {
		user = render.Mention(entry.UserID)
	}
	fields := []*discordgo.MessageEmbedField{
		render.Field("Event", entry.Event, false),
		render.Field("Level", entry.Level, true),
		render.Field("User", user, true),
	}
	if count > 1 {
		fields = append(fields, render.Field("Count", strconv.Itoa(count), true))
	}
	if entry.Details != "" {
		fields = append(fields, render.Field("Details", entry.Details, false))
	}
	embed := b.Embeds.Action("Audit log", "", fields...)
	embed.Timestamp = time.Unix(entry.CreatedAt, 0).UTC().Format(time.RFC3339)
	return embed
}
