// Package core holds the capability bundle handed to every component at
// construction. Nothing in the repository reaches for process globals.
package core

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildwarden/internal/analytics"
	"guildwarden/internal/cache"
	"guildwarden/internal/clock"
	"guildwarden/internal/config"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/platform"
	"guildwarden/internal/render"
	"guildwarden/internal/scheduler"
	"guildwarden/internal/storage"
)

type Bundle struct {
	Config    config.Config
	Store     *storage.Store
	Platform  platform.Client
	Scheduler *scheduler.Scheduler
	Cache     *cache.Tenant
	Logger    *zap.Logger
	Clock     clock.Clock
	Audit     *audit.Logger
	Ops       *analytics.Service
	Embeds    *render.Embeds
}

// New wires the derived capabilities from the primitive ones.
func New(cfg config.Config, store *storage.Store, client platform.Client, c clock.Clock, logger *zap.Logger) *Bundle {
	return &Bundle{
		Config:   cfg,
		Store:    store,
		Platform: client,
		Scheduler: scheduler.New(store, c, logger.Named("scheduler"), scheduler.Options{
			ArmPacing:  cfg.Scheduler.ArmPacing,
			RetryDelay: cfg.Scheduler.RetryDelay,
		}),
		Cache:  cache.New(client, c, cfg.Features.LazyMemberChunking),
		Logger: logger,
		Clock:  c,
		Audit:  audit.NewLogger(store, logger.Named("audit"), c),
		Ops:    analytics.New(store, client, c, logger.Named("ops"), cfg.OperatorChannel),
		Embeds: render.New(cfg.EmbedColors, c),
	}
}

// Notify posts msg to channelID. Failures are logged and swallowed; a notice
// is never worth failing the caller for.
func (b *Bundle) Notify(ctx context.Context, channelID string, msg *discordgo.MessageSend) {
	if channelID == "" {
		return
	}
	if _, err := b.Platform.SendMessage(ctx, channelID, msg); err != nil {
		b.Logger.Debug("notice not delivered", zap.String("channel_id", channelID), zap.Error(err))
	}
}

// DM sends msg to the user, ignoring users with closed DMs.
func (b *Bundle) DM(ctx context.Context, userID string, msg *discordgo.MessageSend) {
	if _, err := b.Platform.SendDM(ctx, userID, msg); err != nil {
		b.Logger.Debug("dm not delivered", zap.String("user_id", userID), zap.Error(err))
	}
}
