// Package reactions routes reaction events to reaction roles, suggestion
// tallies and giveaway entry gates.
package reactions

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildwarden/internal/core"
	"guildwarden/internal/fault"
	"guildwarden/internal/giveaway"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/pipeline"
	"guildwarden/internal/platform"
	"guildwarden/internal/render"
	"guildwarden/internal/storage"
)

type Router struct {
	*core.Bundle
	logger    *zap.Logger
	giveaways *giveaway.Service
}

func New(b *core.Bundle, giveaways *giveaway.Service) *Router {
	return &Router{Bundle: b, logger: b.Logger.Named("reactions"), giveaways: giveaways}
}

// Event is a reaction add or remove in a guild.
type Event struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Emoji     string
	Added     bool
}

// FromReaction converts a gateway reaction.
func FromReaction(r *discordgo.MessageReaction, added bool) Event {
	return Event{
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji.APIName(),
		Added:     added,
	}
}

func (r *Router) Handle(ctx context.Context, ev Event) error {
	if ev.GuildID == "" || ev.UserID == r.Platform.BotUserID() {
		return nil
	}
	if err := r.reactionRoles(ctx, ev); err != nil {
		return err
	}
	if ev.Added && ev.Emoji == giveaway.JoinEmoji {
		if err := r.giveawayGate(ctx, ev); err != nil {
			return err
		}
	}
	return r.suggestionTally(ctx, ev)
}

func (r *Router) reactionRoles(ctx context.Context, ev Event) error {
	rows, err := r.Store.ReactionRolesForMessage(ctx, ev.GuildID, ev.MessageID)
	if err != nil {
		return err
	}
	for _, rr := range rows {
		if rr.Emoji != ev.Emoji {
			continue
		}
		verb, change := "removed", r.Platform.RemoveRole
		if ev.Added {
			verb, change = "given", r.Platform.AddRole
		}
		if err := change(ctx, ev.GuildID, ev.UserID, rr.RoleID); err != nil {
			if fault.Is(err, fault.EntityMissing) {
				continue
			}
			r.DM(ctx, ev.UserID, platform.Embed(r.Embeds.Error("Reaction role", "I could not update your roles. A moderator needs to check my permissions.")))
			if fault.Is(err, fault.PermissionDenied) {
				continue
			}
			return err
		}
		name := rr.RoleID
		if role, ok, _ := r.Cache.Role(ctx, ev.GuildID, rr.RoleID); ok {
			name = role.Name
		}
		r.DM(ctx, ev.UserID, platform.Embed(r.Embeds.Success("Reaction role", fmt.Sprintf("The role **%s** was %s.", name, verb))))
	}
	return nil
}

func (r *Router) giveawayGate(ctx context.Context, ev Event) error {
	g, found, err := r.Store.GiveawayByMessage(ctx, ev.GuildID, ev.MessageID)
	if err != nil || !found {
		return err
	}
	req, err := g.Requirement()
	if err != nil {
		r.Ops.Failure(ctx, "reactions.giveaway", err)
		return nil
	}
	ok, reason, err := r.giveaways.Eligible(ctx, ev.GuildID, ev.UserID, req)
	if err != nil || ok {
		return err
	}
	if err := r.Platform.RemoveReaction(ctx, ev.ChannelID, ev.MessageID, ev.Emoji, ev.UserID); err != nil && !fault.Is(err, fault.EntityMissing) {
		r.logger.Debug("removing ineligible entry failed", zap.Error(err))
	}
	r.DM(ctx, ev.UserID, platform.Embed(r.Embeds.Warning("Giveaway entry refused",
		fmt.Sprintf("You cannot enter the giveaway for **%s**: %s.", g.Reward, reason))))
	return nil
}

func (r *Router) suggestionTally(ctx context.Context, ev Event) error {
	settings, err := r.Store.GuildSettings(ctx, ev.GuildID)
	if err != nil {
		return err
	}
	if settings.SuggestionChannel == "" || ev.ChannelID != settings.SuggestionChannel {
		return nil
	}
	if ev.Emoji != settings.SuggestionUp && ev.Emoji != settings.SuggestionDown {
		return nil
	}

	msg, err := r.Platform.Message(ctx, ev.ChannelID, ev.MessageID)
	if fault.Is(err, fault.EntityMissing) {
		return nil
	}
	if err != nil {
		return err
	}
	if msg.Author == nil || msg.Author.ID != r.Platform.BotUserID() || len(msg.Embeds) == 0 {
		return nil
	}

	up, err := r.votes(ctx, ev, settings.SuggestionUp)
	if err != nil {
		return err
	}
	down, err := r.votes(ctx, ev, settings.SuggestionDown)
	if err != nil {
		return err
	}

	embed := *msg.Embeds[0]
	embed.Footer = &discordgo.MessageEmbedFooter{Text: Tally(settings.SuggestionUp, settings.SuggestionDown, up, down)}
	embeds := append([]*discordgo.MessageEmbed{&embed}, msg.Embeds[1:]...)
	_, err = r.Platform.EditMessage(ctx, discordgo.NewMessageEdit(ev.ChannelID, ev.MessageID).SetEmbeds(embeds))
	return err
}

// votes counts reactions with emoji, leaving out the bot's seed reaction.
func (r *Router) votes(ctx context.Context, ev Event, emoji string) (int, error) {
	users, err := r.Platform.ReactionUsers(ctx, ev.ChannelID, ev.MessageID, emoji)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, u := range users {
		if u.ID != r.Platform.BotUserID() {
			n++
		}
	}
	return n, nil
}

// Tally renders the ballot footer.
func Tally(upEmoji, downEmoji string, up, down int) string {
	if up+down == 0 {
		return pipeline.NoVotesFooter
	}
	percent := 100 * up / (up + down)
	return fmt.Sprintf("%s %d%% · %s %d%% · %d votes", upEmoji, percent, downEmoji, 100-percent, up+down)
}

// Bind attaches a reaction role to an existing message and seeds the emoji.
func (r *Router) Bind(ctx context.Context, rr storage.ReactionRole, moderatorID string) error {
	if rr.Emoji == "" || rr.RoleID == "" {
		return fault.Input("an emoji and a role are required")
	}
	if _, err := r.Platform.Message(ctx, rr.ChannelID, rr.MessageID); err != nil {
		if fault.Is(err, fault.EntityMissing) {
			return fault.Missing("that message does not exist in %s", render.ChannelMention(rr.ChannelID))
		}
		return err
	}
	if err := r.Platform.AddReaction(ctx, rr.ChannelID, rr.MessageID, rr.Emoji); err != nil {
		if fault.Is(err, fault.EntityMissing) || fault.Is(err, fault.IntegrityViolation) {
			return fault.Input("I cannot react with %s, use an emoji from this server or a standard one", rr.Emoji)
		}
		return err
	}
	if err := r.Store.AddReactionRole(ctx, rr); err != nil {
		return err
	}
	r.Audit.Log(ctx, audit.LevelInfo, rr.GuildID, moderatorID, "reaction_role_added", fmt.Sprintf("message=%s emoji=%s role=%s", rr.MessageID, rr.Emoji, rr.RoleID))
	return nil
}

func (r *Router) Unbind(ctx context.Context, rr storage.ReactionRole, moderatorID string) error {
	removed, err := r.Store.RemoveReactionRole(ctx, rr.GuildID, rr.MessageID, rr.Emoji, rr.RoleID)
	if err != nil {
		return err
	}
	if !removed {
		return fault.Missing("no such reaction role")
	}
	r.Audit.Log(ctx, audit.LevelInfo, rr.GuildID, moderatorID, "reaction_role_removed", fmt.Sprintf("message=%s emoji=%s role=%s", rr.MessageID, rr.Emoji, rr.RoleID))
	return nil
}

func (r *Router) List(ctx context.Context, guildID string) ([]storage.ReactionRole, error) {
	return r.Store.ListReactionRoles(ctx, guildID)
}
