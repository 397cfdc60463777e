package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"guildwarden/internal/fault"
	"guildwarden/internal/render"
	"guildwarden/internal/storage"
)

// maxDescription stays under the 4096 limit on embed descriptions.
const maxDescription = 4000

func errMessage(err error) string {
	return fault.Message(err)
}

func clip(text string) string {
	if len(text) <= maxDescription {
		return text
	}
	cut := strings.LastIndex(text[:maxDescription], "\n")
	if cut < 0 {
		cut = maxDescription
	}
	return text[:cut] + "\n…"
}

func describePolicy(p storage.PunishmentPolicy) string {
	out := fmt.Sprintf("%d warnings: %s", p.WarnCount, p.Action)
	if p.DurationSeconds > 0 {
		out += " for " + (time.Duration(p.DurationSeconds) * time.Second).String()
	}
	return out
}

func describeProfile(p storage.LevelingProfile) []*discordgo.MessageEmbedField {
	levels := make([]int, 0, len(p.RewardRoles))
	for level := range p.RewardRoles {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	rewards := make([]string, 0, len(levels))
	for _, level := range levels {
		rewards = append(rewards, fmt.Sprintf("level %d: %s", level, render.RoleMention(p.RewardRoles[level])))
	}

	roles := make([]string, 0, len(p.Multipliers))
	for roleID := range p.Multipliers {
		roles = append(roles, roleID)
	}
	sort.Strings(roles)
	multipliers := make([]string, 0, len(roles))
	for _, roleID := range roles {
		multipliers = append(multipliers, render.RoleMention(roleID)+": "+strconv.Itoa(p.Multipliers[roleID])+" xp")
	}

	alert := "off"
	switch p.Alert.Mode {
	case storage.AlertChannel, storage.AlertBoth:
		alert = string(p.Alert.Mode) + " in " + render.ChannelMention(p.Alert.ChannelID)
	case storage.AlertDM:
		alert = "direct message"
	}

	return []*discordgo.MessageEmbedField{
		render.Field("Rewards", orNone(strings.Join(rewards, "\n")), false),
		render.Field("Multipliers", orNone(strings.Join(multipliers, "\n")), false),
		render.Field("Alerts", alert, false),
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
