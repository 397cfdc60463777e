package bot

import (
	"context"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// registerCommands reconciles the global command set with the surface's
// definitions: known names are edited, new ones created, stale ones removed.
// Guild-scoped commands belong to the custom command sync and are left alone.
func (b *Bot) registerCommands(ctx context.Context) error {
	if b.session == nil || b.session.State == nil || b.session.State.User == nil {
		return nil
	}
	appID := b.session.State.User.ID
	defs := b.Surface.Definitions()
	opt := discordgo.WithContext(ctx)

	existing, err := b.session.ApplicationCommands(appID, "", opt)
	if err != nil {
		for _, cmd := range defs {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd, opt); err != nil {
				return errors.WrapIfWithDetails(err, "create command", "command", cmd.Name)
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand, len(existing))
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{}, len(defs))
	for _, cmd := range defs {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd, opt); err != nil {
				return errors.WrapIfWithDetails(err, "edit command", "command", cmd.Name)
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd, opt); err != nil {
			return errors.WrapIfWithDetails(err, "create command", "command", cmd.Name)
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		if err := b.session.ApplicationCommandDelete(appID, "", cmd.ID, opt); err != nil {
			b.logger.Warn("removing stale command failed", zap.String("command", cmd.Name), zap.Error(err))
		}
	}
	b.logger.Info("global commands registered", zap.Int("count", len(defs)))
	return nil
}
