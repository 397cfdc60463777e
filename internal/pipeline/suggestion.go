package pipeline

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildwarden/internal/core"
	"guildwarden/internal/fault"
	"guildwarden/internal/platform"
)

// NoVotesFooter is the tally shown on a fresh suggestion.
const NoVotesFooter = "No votes yet"

// Suggestion reposts messages from the suggestion channel as a ballot.
type Suggestion struct {
	*core.Bundle
	logger *zap.Logger
}

func NewSuggestion(b *core.Bundle) *Suggestion {
	return &Suggestion{Bundle: b, logger: b.Logger.Named("suggestions")}
}

func (s *Suggestion) Name() string { return "suggestion" }

func (s *Suggestion) Handle(ctx context.Context, msg *Message) (Outcome, error) {
	settings := msg.Settings
	if settings.SuggestionChannel == "" || msg.ChannelID != settings.SuggestionChannel || msg.Content == "" {
		return NotHandled, nil
	}

	if err := s.Platform.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil && !fault.Is(err, fault.EntityMissing) {
		return Handled, err
	}

	embed := s.Embeds.Action("Suggestion", msg.Content)
	embed.Author = &discordgo.MessageEmbedAuthor{Name: msg.Author.Username, IconURL: msg.Author.AvatarURL("")}
	embed.Footer = &discordgo.MessageEmbedFooter{Text: NoVotesFooter}
	posted, err := s.Platform.SendMessage(ctx, msg.ChannelID, platform.Embed(embed))
	if err != nil {
		return Handled, err
	}

	for _, emoji := range []string{settings.SuggestionUp, settings.SuggestionDown} {
		if err := s.Platform.AddReaction(ctx, msg.ChannelID, posted.ID, emoji); err != nil {
			s.logger.Debug("seeding ballot failed", zap.String("emoji", emoji), zap.Error(err))
		}
	}
	if settings.SuggestionThreads {
		if _, err := s.Platform.StartThread(ctx, msg.ChannelID, posted.ID, "Discussion"); err != nil {
			s.logger.Debug("opening comment thread failed", zap.Error(err))
		}
	}
	return Handled, nil
}
