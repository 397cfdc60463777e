// Package antiflood deletes a message once its exact content has been posted
// in the channel more often than the tenant allows within the flood window.
package antiflood

import (
	"context"
	"fmt"
	"strings"
	"time"

	"guildwarden/internal/core"
	"guildwarden/internal/fault"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/pipeline"
	"guildwarden/internal/platform"
	"guildwarden/internal/utils"
)

const (
	Window = 5 * time.Minute
	// sweepAt bounds how many idle content keys are kept before sweeping.
	sweepAt = 4096
)

type Module struct {
	*core.Bundle
	windows *utils.Windows
}

func New(b *core.Bundle) *Module {
	return &Module{Bundle: b, windows: utils.NewWindows(Window, sweepAt)}
}

func (m *Module) Name() string { return "anti-flood" }

// Handle counts the message against every recent message in the channel with
// the same content, whoever posted it.
func (m *Module) Handle(ctx context.Context, msg *pipeline.Message) (pipeline.Outcome, error) {
	if !msg.Settings.FloodFilter || msg.Moderator {
		return pipeline.NotHandled, nil
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return pipeline.NotHandled, nil
	}

	key := msg.GuildID + ":" + msg.ChannelID + ":" + content
	count := m.windows.Add(key, m.Clock.Now())
	if count <= msg.Settings.FloodLimit {
		return pipeline.NotHandled, nil
	}

	if err := m.Platform.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil && !fault.Is(err, fault.EntityMissing) {
		return pipeline.Handled, err
	}
	m.Audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.Author.ID, "anti_flood", fmt.Sprintf("count=%d limit=%d channel=%s", count, msg.Settings.FloodLimit, msg.ChannelID))
	m.DM(ctx, msg.Author.ID, platform.Embed(m.Embeds.Warning("Message removed",
		fmt.Sprintf("The same message was sent more than %d times in a few minutes, so yours was deleted.", msg.Settings.FloodLimit))))
	return pipeline.Handled, nil
}
