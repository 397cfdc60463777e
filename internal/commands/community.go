package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"guildwarden/internal/fault"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/render"
	"guildwarden/internal/storage"
)

const (
	DefaultWelcome = "Welcome {user} to {server}! You are member #{count}."
	DefaultGoodbye = "{user} left {server}."
	maxGreeting    = 1000
	reportWindow   = 7 * 24 * time.Hour
)

func (s *Surface) registerCommunity() {
	s.Register(command("welcome", "Greet new members",
		sub("configure", "Post a message when someone joins",
			channel("channel", "Where to greet", true),
			str("message", "Template with {user} {server} {count}", false)),
		sub("disable", "Stop greeting"),
	), map[string]route{
		"configure": {required: discordgo.PermissionManageServer, handle: s.greetingConfigure(true)},
		"disable": {required: discordgo.PermissionManageServer, handle: s.setting("Welcome off", func(g *storage.GuildSettings) {
			g.WelcomeChannel = ""
		})},
	})

	s.Register(command("goodbye", "Say goodbye to leaving members",
		sub("configure", "Post a message when someone leaves",
			channel("channel", "Where to post", true),
			str("message", "Template with {user} {server} {count}", false)),
		sub("disable", "Stop posting goodbyes"),
	), map[string]route{
		"configure": {required: discordgo.PermissionManageServer, handle: s.greetingConfigure(false)},
		"disable": {required: discordgo.PermissionManageServer, handle: s.setting("Goodbye off", func(g *storage.GuildSettings) {
			g.GoodbyeChannel = ""
		})},
	})

	s.Register(command("startrole", "Role for new members",
		sub("set", "Give a role to everybody who joins", role("role", "The role", true)),
		sub("clear", "Stop giving a role on join"),
	), map[string]route{
		"set":   {title: "Start role", required: discordgo.PermissionManageRoles, handle: s.startRole},
		"clear": {required: discordgo.PermissionManageRoles, handle: s.setting("Start role cleared", func(g *storage.GuildSettings) { g.StartRole = "" })},
	})

	s.Register(command("logs", "Server log channel",
		sub("configure", "Mirror edits, deletions, joins and bot actions", channel("channel", "Log channel", true)),
		sub("disable", "Stop mirroring"),
		sub("report", "Summarise the last week of bot actions"),
	), map[string]route{
		"configure": {title: "Logs", required: discordgo.PermissionManageServer, handle: s.logsConfigure},
		"disable":   {required: discordgo.PermissionManageServer, handle: s.setting("Logs off", func(g *storage.GuildSettings) { g.LogChannel = "" })},
		"report":    {title: "Activity report", required: discordgo.PermissionViewAuditLogs, handle: s.logsReport},
	})

	s.Register(command("feed-subscribe", "Post new items from a website feed",
		sub("add", "Follow a feed",
			str("url", "Feed or website address", true),
			channel("channel", "Where to post, defaults to this channel", false),
			str("message", "Text posted before each link", false)),
		sub("remove", "Stop following a feed",
			str("url", "Feed address", true),
			channel("channel", "Channel it posts to, defaults to this channel", false)),
		sub("list", "Show followed feeds"),
	), map[string]route{
		"add":    {title: "Feeds", required: discordgo.PermissionManageServer, handle: s.feedAdd},
		"remove": {title: "Feeds", required: discordgo.PermissionManageServer, handle: s.feedRemove},
		"list":   {title: "Feeds", required: discordgo.PermissionManageServer, handle: s.feedList},
	})
}

func (s *Surface) greetingConfigure(welcome bool) Handler {
	return func(ctx context.Context, in *Invocation) (Reply, error) {
		ch, err := in.Require("channel")
		if err != nil {
			return Reply{}, err
		}
		msg := in.String("message")
		if len(msg) > maxGreeting {
			return Reply{}, fault.Input("the message can be at most %d characters", maxGreeting)
		}
		if err := s.requireChannel(ctx, ch); err != nil {
			return Reply{}, err
		}
		title := "Goodbye"
		_, err = s.Store.UpdateGuildSettings(ctx, in.GuildID, func(g *storage.GuildSettings) error {
			if welcome {
				title = "Welcome"
				g.WelcomeChannel, g.WelcomeMessage = ch, msg
			} else {
				g.GoodbyeChannel, g.GoodbyeMessage = ch, msg
			}
			return nil
		})
		if err != nil {
			return Reply{}, err
		}
		s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "settings_changed", in.Path()+" "+ch)
		preview := msg
		if preview == "" {
			preview = DefaultGoodbye
			if welcome {
				preview = DefaultWelcome
			}
		}
		return Reply{Embed: s.Embeds.Success(title, "Messages go to "+render.ChannelMention(ch)+".",
			render.Field("Template", preview, false))}, nil
	}
}

func (s *Surface) requireChannel(ctx context.Context, channelID string) error {
	_, ok, err := s.Cache.Channel(ctx, channelID)
	if err != nil {
		return err
	}
	if !ok {
		return fault.Missing("I cannot see %s", render.ChannelMention(channelID))
	}
	return nil
}

func (s *Surface) startRole(ctx context.Context, in *Invocation) (Reply, error) {
	roleID, err := in.Require("role")
	if err != nil {
		return Reply{}, err
	}
	r, ok, err := s.Cache.Role(ctx, in.GuildID, roleID)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		return Reply{}, fault.Missing("that role does not exist")
	}
	if r.Managed || r.ID == in.GuildID {
		return Reply{}, fault.Input("%s cannot be given out", render.RoleMention(r.ID))
	}
	_, err = s.Store.UpdateGuildSettings(ctx, in.GuildID, func(g *storage.GuildSettings) error {
		g.StartRole = roleID
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "settings_changed", "start role "+roleID)
	return Reply{Embed: s.Embeds.Success("Start role", "New members get "+render.RoleMention(roleID)+".")}, nil
}

func (s *Surface) logsConfigure(ctx context.Context, in *Invocation) (Reply, error) {
	ch, err := in.Require("channel")
	if err != nil {
		return Reply{}, err
	}
	if err := s.requireChannel(ctx, ch); err != nil {
		return Reply{}, err
	}
	_, err = s.Store.UpdateGuildSettings(ctx, in.GuildID, func(g *storage.GuildSettings) error {
		g.LogChannel = ch
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "settings_changed", "log channel "+ch)
	return Reply{Embed: s.Embeds.Success("Logs", "Logging to "+render.ChannelMention(ch)+".")}, nil
}

func (s *Surface) logsReport(ctx context.Context, in *Invocation) (Reply, error) {
	report, err := s.Ops.Report(ctx, in.GuildID, s.Clock.Now().Add(-reportWindow))
	if err != nil {
		return Reply{}, err
	}
	if report.Total == 0 {
		return Reply{Embed: s.Embeds.Action("Activity report", "Nothing was logged in the last 7 days.")}, nil
	}
	return Reply{Embed: s.Embeds.Action("Activity report", fmt.Sprintf("%d entries in the last 7 days.", report.Total),
		render.Field("By level", countLines(report.ByLevel), true),
		render.Field("By event", countLines(report.ByEvent), true),
	)}, nil
}

// countLines renders counts largest first.
func countLines(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > 15 {
		keys = keys[:15]
	}
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("`%s` %d", k, counts[k]))
	}
	return strings.Join(lines, "\n")
}

func (s *Surface) feedAdd(ctx context.Context, in *Invocation) (Reply, error) {
	sub := storage.FeedSubscription{
		GuildID:       in.GuildID,
		ChannelID:     in.Channel("channel"),
		SourceURL:     in.String("url"),
		ReplyTemplate: in.String("message"),
	}
	if err := s.Feeds.Subscribe(ctx, sub, in.UserID()); err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Feeds", "New items will be posted in "+render.ChannelMention(sub.ChannelID)+".")}, nil
}

func (s *Surface) feedRemove(ctx context.Context, in *Invocation) (Reply, error) {
	url, err := in.Require("url")
	if err != nil {
		return Reply{}, err
	}
	if err := s.Feeds.Unsubscribe(ctx, in.GuildID, in.Channel("channel"), url, in.UserID()); err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Feeds", "Unsubscribed.")}, nil
}

func (s *Surface) feedList(ctx context.Context, in *Invocation) (Reply, error) {
	subs, err := s.Feeds.List(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	if len(subs) == 0 {
		return Reply{Embed: s.Embeds.Action("Feeds", "No feeds followed.")}, nil
	}
	lines := make([]string, 0, len(subs))
	for _, sub := range subs {
		lines = append(lines, fmt.Sprintf("%s in %s", sub.SourceURL, render.ChannelMention(sub.ChannelID)))
	}
	return Reply{Embed: s.Embeds.Action("Feeds", clip(strings.Join(lines, "\n")))}, nil
}
