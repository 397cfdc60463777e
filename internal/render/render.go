// Package render builds the embeds every component replies with.
package render

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"guildwarden/internal/clock"
	"guildwarden/internal/config"
	"guildwarden/internal/fault"
)

const (
	ColorGreen = 0x22C55E
	ColorGrey  = 0x6B7280
)

type Embeds struct {
	colors config.EmbedColors
	clock  clock.Clock
}

func New(colors config.EmbedColors, c clock.Clock) *Embeds {
	return &Embeds{colors: colors, clock: c}
}

func (e *Embeds) build(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   e.clock.Now().UTC().Format("2006-01-02T15:04:05Z07:00"),
		Fields:      fields,
	}
}

func (e *Embeds) Action(title, description string, fields ...*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return e.build(title, description, e.colors.Action, fields)
}

func (e *Embeds) Success(title, description string, fields ...*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return e.build(title, description, e.colors.Success, fields)
}

func (e *Embeds) Warning(title, description string, fields ...*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return e.build(title, description, e.colors.Warning, fields)
}

func (e *Embeds) Error(title, description string, fields ...*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return e.build(title, description, e.colors.Error, fields)
}

// Failure renders err for the invoking user. Internal detail never leaks.
func (e *Embeds) Failure(title string, err error) *discordgo.MessageEmbed {
	return e.Error(title, fault.Message(err))
}

func Field(name, value string, inline bool) *discordgo.MessageEmbedField {
	if value == "" {
		value = "-"
	}
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline}
}

// Template replaces {key} placeholders. Unknown placeholders are left alone.
func Template(text string, values map[string]string) string {
	if text == "" || len(values) == 0 {
		return text
	}
	pairs := make([]string, 0, len(values)*2)
	for key, value := range values {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func Mention(userID string) string {
	return "<@" + userID + ">"
}

func RoleMention(roleID string) string {
	return "<@&" + roleID + ">"
}

func ChannelMention(channelID string) string {
	return "<#" + channelID + ">"
}
