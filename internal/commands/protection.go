package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"

	"guildwarden/internal/fault"
	"guildwarden/internal/modules/antilink"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/storage"
)

const maxFloodLimit = 20

func (s *Surface) registerProtection() {
	s.Register(command("anti-link", "Delete messages with links",
		sub("enable", "Turn the link filter on"),
		sub("disable", "Turn the link filter off"),
		sub("configure", "Choose what happens to the author",
			choices(str("punishment", "Punishment on top of deleting the message", true), "none", "warn", "kick", "ban")),
	), map[string]route{
		"enable":    {required: discordgo.PermissionManageServer, handle: s.setting("Anti-link on", func(g *storage.GuildSettings) { g.LinkFilter = true })},
		"disable":   {required: discordgo.PermissionManageServer, handle: s.setting("Anti-link off", func(g *storage.GuildSettings) { g.LinkFilter = false })},
		"configure": {title: "Anti-link", required: discordgo.PermissionManageServer, handle: s.antiLinkConfigure},
	})

	s.Register(command("anti-flood", "Delete repeated messages",
		sub("enable", "Turn the flood filter on"),
		sub("disable", "Turn the flood filter off"),
		sub("configure", "How many identical messages are allowed",
			integer("limit", fmt.Sprintf("Allowed repeats within five minutes, 1-%d", maxFloodLimit), true)),
	), map[string]route{
		"enable":    {required: discordgo.PermissionManageServer, handle: s.setting("Anti-flood on", func(g *storage.GuildSettings) { g.FloodFilter = true })},
		"disable":   {required: discordgo.PermissionManageServer, handle: s.setting("Anti-flood off", func(g *storage.GuildSettings) { g.FloodFilter = false })},
		"configure": {title: "Anti-flood", required: discordgo.PermissionManageServer, handle: s.antiFloodConfigure},
	})

	s.Register(command("anti-ghost-ping", "Reveal deleted mentions",
		sub("enable", "Announce deleted messages that mentioned someone"),
		sub("disable", "Stop announcing ghost pings"),
	), map[string]route{
		"enable":  {required: discordgo.PermissionManageServer, handle: s.setting("Anti-ghost-ping on", func(g *storage.GuildSettings) { g.GhostPing = true })},
		"disable": {required: discordgo.PermissionManageServer, handle: s.setting("Anti-ghost-ping off", func(g *storage.GuildSettings) { g.GhostPing = false })},
	})

	s.Register(command("word-block", "Blocked words",
		sub("enable", "Delete messages with blocked words"),
		sub("disable", "Stop filtering words"),
		sub("add", "Block a word", str("word", "The word", true)),
		sub("remove", "Unblock a word", str("word", "The word", true)),
		sub("list", "Show blocked words"),
	), map[string]route{
		"enable":  {required: discordgo.PermissionManageMessages, handle: s.setting("Word block on", func(g *storage.GuildSettings) { g.WordBlock = true })},
		"disable": {required: discordgo.PermissionManageMessages, handle: s.setting("Word block off", func(g *storage.GuildSettings) { g.WordBlock = false })},
		"add":     {title: "Word block", required: discordgo.PermissionManageMessages, handle: s.wordAdd},
		"remove":  {title: "Word block", required: discordgo.PermissionManageMessages, handle: s.wordRemove},
		"list":    {title: "Blocked words", required: discordgo.PermissionManageMessages, handle: s.wordList},
	})
}

func (s *Surface) antiLinkConfigure(ctx context.Context, in *Invocation) (Reply, error) {
	punishment, ok := storage.ParseLinkPunishment(in.String("punishment"))
	if !ok {
		return Reply{}, fault.Input("unknown punishment %q", in.String("punishment"))
	}
	settings, err := s.Store.UpdateGuildSettings(ctx, in.GuildID, func(g *storage.GuildSettings) error {
		g.LinkPunishment = punishment
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "settings_changed", "anti-link punishment "+string(punishment))
	return Reply{Embed: s.Embeds.Success("Anti-link", "Link filter: "+antilink.Describe(settings)+".")}, nil
}

func (s *Surface) antiFloodConfigure(ctx context.Context, in *Invocation) (Reply, error) {
	limit := in.Int("limit", 0)
	if limit < 1 || limit > maxFloodLimit {
		return Reply{}, fault.Input("the limit must be between 1 and %d", maxFloodLimit)
	}
	settings, err := s.Store.UpdateGuildSettings(ctx, in.GuildID, func(g *storage.GuildSettings) error {
		g.FloodLimit = limit
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "settings_changed", fmt.Sprintf("anti-flood limit %d", limit))
	return Reply{Embed: s.Embeds.Success("Anti-flood", fmt.Sprintf("Up to %d identical messages are allowed, the filter is %s.", limit, onOff(settings.FloodFilter)))}, nil
}

func (s *Surface) wordAdd(ctx context.Context, in *Invocation) (Reply, error) {
	word, err := s.WordBlock.Add(ctx, in.GuildID, in.String("word"))
	if err != nil {
		return Reply{}, err
	}
	settings, err := s.Store.GuildSettings(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	desc := fmt.Sprintf("Blocked `%s`.", word)
	if !settings.WordBlock {
		desc += " The filter is off, turn it on with /word-block enable."
	}
	return Reply{Embed: s.Embeds.Success("Word block", desc)}, nil
}

func (s *Surface) wordRemove(ctx context.Context, in *Invocation) (Reply, error) {
	word, err := in.Require("word")
	if err != nil {
		return Reply{}, err
	}
	if err := s.WordBlock.Remove(ctx, in.GuildID, word); err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Word block", fmt.Sprintf("Unblocked `%s`.", word))}, nil
}

func (s *Surface) wordList(ctx context.Context, in *Invocation) (Reply, error) {
	words, err := s.Store.ListWordBlocks(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	if len(words) == 0 {
		return Reply{Embed: s.Embeds.Action("Blocked words", "No words are blocked.")}, nil
	}
	sort.Strings(words)
	return Reply{Embed: s.Embeds.Action(fmt.Sprintf("Blocked words (%d)", len(words)), clip("`"+strings.Join(words, "`, `")+"`"))}, nil
}
