// Package antilink removes links posted by members without Manage Messages
// and applies the tenant's link punishment.
package antilink

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildwarden/internal/core"
	"guildwarden/internal/fault"
	"guildwarden/internal/moderation"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/pipeline"
	"guildwarden/internal/platform"
	"guildwarden/internal/render"
	"guildwarden/internal/storage"
	"guildwarden/internal/utils"
	"guildwarden/internal/warnings"
)

const Reason = "Posting links"

type Module struct {
	*core.Bundle
	logger     *zap.Logger
	moderation *moderation.Service
	warnings   *warnings.Service
}

func New(b *core.Bundle, mod *moderation.Service, warn *warnings.Service) *Module {
	return &Module{Bundle: b, logger: b.Logger.Named("antilink"), moderation: mod, warnings: warn}
}

func (m *Module) Name() string { return "anti-link" }

func (m *Module) Handle(ctx context.Context, msg *pipeline.Message) (pipeline.Outcome, error) {
	if !msg.Settings.LinkFilter || msg.Moderator {
		return pipeline.NotHandled, nil
	}
	urls := utils.ExtractURLs(msg.Content)
	if len(urls) == 0 {
		return pipeline.NotHandled, nil
	}

	if err := m.Platform.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil && !fault.Is(err, fault.EntityMissing) {
		return pipeline.Handled, err
	}

	detail := urls[0]
	if normalized, _, err := utils.NormalizeURL(urls[0]); err == nil {
		detail = normalized
	}
	m.Audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.Author.ID, "anti_link", fmt.Sprintf("links=%d first=%s punishment=%s", len(urls), detail, msg.Settings.LinkPunishment))

	m.Notify(ctx, msg.ChannelID, &discordgo.MessageSend{
		Content:         fmt.Sprintf("%s, links are not allowed here.", render.Mention(msg.Author.ID)),
		AllowedMentions: platform.UserMentions(),
	})

	if err := m.punish(ctx, msg); err != nil {
		if fault.Is(err, fault.PermissionDenied) {
			m.Notify(ctx, msg.ChannelID, platform.Embed(m.Embeds.Failure("Link punishment failed", err)))
			return pipeline.Handled, nil
		}
		return pipeline.Handled, err
	}
	return pipeline.Handled, nil
}

func (m *Module) punish(ctx context.Context, msg *pipeline.Message) error {
	botID := m.Platform.BotUserID()
	switch msg.Settings.LinkPunishment {
	case storage.LinkPunishWarn:
		result, err := m.warnings.Add(ctx, msg.GuildID, botID, msg.Author.ID, Reason)
		if err != nil {
			return err
		}
		if result.Escalation != nil && result.Escalation.Err != nil {
			return result.Escalation.Err
		}
		return nil
	case storage.LinkPunishKick:
		return m.moderation.Kick(ctx, msg.GuildID, botID, msg.Author.ID, Reason)
	case storage.LinkPunishBan:
		return m.moderation.Ban(ctx, msg.GuildID, botID, msg.Author.ID, Reason)
	default:
		return nil
	}
}

// Describe renders the policy for the settings overview.
func Describe(settings storage.GuildSettings) string {
	if !settings.LinkFilter {
		return "off"
	}
	return "on, punishment " + strings.ToLower(string(settings.LinkPunishment))
}
