// Package pipeline runs every inbound guild message through an ordered chain
// of filters. The first filter that handles a message stops the chain;
// leveling accrual runs afterwards regardless.
package pipeline

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"guildwarden/internal/core"
	"guildwarden/internal/leveling"
	"guildwarden/internal/platform"
	"guildwarden/internal/storage"
)

type Outcome int

const (
	NotHandled Outcome = iota
	Handled
)

// Message is an inbound message together with the tenant settings it is
// judged against.
type Message struct {
	*discordgo.Message
	Settings storage.GuildSettings
	// Moderator is true when the author holds Manage Messages in the channel.
	Moderator bool
}

// RoleIDs returns the author's roles as carried by the event.
func (m *Message) RoleIDs() []string {
	if m.Member == nil {
		return nil
	}
	return m.Member.Roles
}

type Filter interface {
	Name() string
	Handle(ctx context.Context, msg *Message) (Outcome, error)
}

var metricFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guildwarden_pipeline_handled_total",
	Help: "Messages handled per filter",
}, []string{"filter"})

type Chain struct {
	*core.Bundle
	logger   *zap.Logger
	filters  []Filter
	leveling *leveling.Service
}

func New(b *core.Bundle, lvl *leveling.Service, filters ...Filter) *Chain {
	return &Chain{Bundle: b, logger: b.Logger.Named("pipeline"), filters: filters, leveling: lvl}
}

// Process runs the chain for one message. It returns the name of the filter
// that handled it, or an empty string.
func (c *Chain) Process(ctx context.Context, raw *discordgo.Message) (string, error) {
	if raw == nil || raw.Author == nil || raw.Author.Bot || raw.GuildID == "" {
		return "", nil
	}

	settings, err := c.Store.GuildSettings(ctx, raw.GuildID)
	if err != nil {
		return "", err
	}
	msg := &Message{Message: raw, Settings: settings}
	if settings.LinkFilter || settings.FloodFilter || settings.WordBlock {
		msg.Moderator = c.canManageMessages(ctx, raw)
	}

	handledBy := ""
	for _, f := range c.filters {
		outcome, err := f.Handle(ctx, msg)
		if err != nil {
			c.report(ctx, f.Name(), err)
		}
		if outcome == Handled {
			handledBy = f.Name()
			metricFiltered.WithLabelValues(handledBy).Inc()
			break
		}
	}

	if c.leveling != nil && settings.Leveling {
		_, err := c.leveling.Accrue(ctx, leveling.Message{
			GuildID:   raw.GuildID,
			ChannelID: raw.ChannelID,
			UserID:    raw.Author.ID,
			RoleIDs:   msg.RoleIDs(),
		})
		if err != nil {
			c.report(ctx, "leveling", err)
		}
	}
	return handledBy, nil
}

func (c *Chain) canManageMessages(ctx context.Context, raw *discordgo.Message) bool {
	perms, err := c.Platform.ChannelPermissions(ctx, raw.Author.ID, raw.ChannelID)
	if err != nil {
		c.logger.Debug("permission lookup failed", zap.String("channel_id", raw.ChannelID), zap.Error(err))
		return false
	}
	return platform.HasPermission(perms, discordgo.PermissionManageMessages)
}

// report applies the uniform error policy; a failing filter never stops the
// filters after it.
func (c *Chain) report(ctx context.Context, filter string, err error) {
	c.Ops.Failure(ctx, "pipeline/"+filter, err)
}
