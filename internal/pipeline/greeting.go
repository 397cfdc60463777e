package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"guildwarden/internal/core"
	"guildwarden/internal/platform"
	"guildwarden/internal/render"
)

// Greeting answers a direct mention of the bot with a status embed.
type Greeting struct {
	*core.Bundle
}

func NewGreeting(b *core.Bundle) *Greeting { return &Greeting{Bundle: b} }

func (g *Greeting) Name() string { return "greeting" }

func (g *Greeting) Handle(ctx context.Context, msg *Message) (Outcome, error) {
	if msg.MentionEveryone || !mentionsDirectly(msg.Content, g.Platform.BotUserID()) {
		return NotHandled, nil
	}

	shard, shards := g.Platform.Shard()
	fields := []*discordgo.MessageEmbedField{
		render.Field("Latency", fmt.Sprintf("%dms", g.Platform.Latency().Milliseconds()), true),
		render.Field("Shard", fmt.Sprintf("%d/%d", shard+1, shards), true),
	}
	if guild, ok, err := g.Cache.Guild(ctx, msg.GuildID); err == nil && ok {
		fields = append(fields, render.Field("Members", strconv.Itoa(guild.MemberCount), true))
	}
	description := "Use `/settings show` to see what is enabled here."
	if g.Config.SupportURL != "" {
		description += "\nSupport: " + g.Config.SupportURL
	}
	embed := g.Embeds.Action("Hello!", description, fields...)
	_, err := g.Platform.SendMessage(ctx, msg.ChannelID, platform.Embed(embed))
	return Handled, err
}

// mentionsDirectly reports whether content mentions userID itself, as
// opposed to a reply ping or a role broadcast.
func mentionsDirectly(content, userID string) bool {
	return strings.Contains(content, "<@"+userID+">") || strings.Contains(content, "<@!"+userID+">")
}
