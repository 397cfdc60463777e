package pipeline

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"guildwarden/internal/core"
	"guildwarden/internal/platform"
)

// Responder replies with the first auto response whose trigger matches.
type Responder struct {
	*core.Bundle
}

func NewResponder(b *core.Bundle) *Responder { return &Responder{Bundle: b} }

func (r *Responder) Name() string { return "auto-responder" }

func (r *Responder) Handle(ctx context.Context, msg *Message) (Outcome, error) {
	if msg.Content == "" {
		return NotHandled, nil
	}
	rules, err := r.Store.ListAutoResponses(ctx, msg.GuildID)
	if err != nil {
		return NotHandled, err
	}
	for _, rule := range rules {
		if !rule.Matches(msg.Content) {
			continue
		}
		reply := platform.Text(rule.Reply)
		if rule.Image != "" {
			reply.Embeds = []*discordgo.MessageEmbed{{Image: &discordgo.MessageEmbedImage{URL: rule.Image}}}
		}
		reply.Reference = msg.Reference()
		_, err := r.Platform.SendMessage(ctx, msg.ChannelID, reply)
		return Handled, err
	}
	return NotHandled, nil
}
