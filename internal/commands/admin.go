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
	"guildwarden/internal/render"
	"guildwarden/internal/storage"
)

func (s *Surface) registerAdmin() {
	s.Register(command("permissions", "Let roles use moderation commands",
		sub("grant", "Allow a role to run a command",
			role("role", "The role", true),
			str("command", "Command, e.g. \"warn add\"", true)),
		sub("revoke", "Take a command back from a role",
			role("role", "The role", true),
			str("command", "Command, e.g. \"warn add\"", true)),
		sub("list", "Show granted commands"),
	), map[string]route{
		"grant":  {title: "Permissions", required: discordgo.PermissionAdministrator, handle: s.permissionGrant},
		"revoke": {title: "Permissions", required: discordgo.PermissionAdministrator, handle: s.permissionRevoke},
		"list":   {title: "Permissions", required: discordgo.PermissionManageServer, handle: s.permissionList},
	})

	s.Register(command("global-ban", "Bot operators only",
		sub("add", "Forbid a user from using the bot anywhere",
			user("user", "The user", true),
			str("reason", "Why", false)),
		sub("remove", "Lift a global ban", user("user", "The user", true)),
		sub("list", "Show global bans"),
	), map[string]route{
		"add":    {title: "Global ban", owner: true, handle: s.globalBanAdd},
		"remove": {title: "Global ban", owner: true, handle: s.globalBanRemove},
		"list":   {title: "Global bans", owner: true, handle: s.globalBanList},
	})

	s.Register(command("settings", "Server configuration",
		sub("show", "Show what is enabled here"),
		sub("music-add", "Restrict music commands to a role", role("role", "The role", true)),
		sub("music-remove", "Remove a role from the music allow-list", role("role", "The role", true)),
	), map[string]route{
		"show":         {title: "Settings", required: discordgo.PermissionManageServer, handle: s.settingsShow},
		"music-add":    {title: "Music roles", required: discordgo.PermissionManageServer, handle: s.musicRole(true)},
		"music-remove": {title: "Music roles", required: discordgo.PermissionManageServer, handle: s.musicRole(false)},
	})
}

func (s *Surface) permissionGrant(ctx context.Context, in *Invocation) (Reply, error) {
	roleID, err := in.Require("role")
	if err != nil {
		return Reply{}, err
	}
	cmd := strings.TrimPrefix(in.String("command"), "/")
	if err := s.Perms.Grant(ctx, in.GuildID, roleID, cmd, s.Grantable()); err != nil {
		return Reply{}, err
	}
	s.Audit.Log(ctx, audit.LevelWarn, in.GuildID, in.UserID(), "permission_granted", "role="+roleID+" command="+cmd)
	return Reply{Embed: s.Embeds.Success("Permissions", fmt.Sprintf("%s can now use /%s.", render.RoleMention(roleID), strings.ToLower(cmd)))}, nil
}

func (s *Surface) permissionRevoke(ctx context.Context, in *Invocation) (Reply, error) {
	roleID, err := in.Require("role")
	if err != nil {
		return Reply{}, err
	}
	cmd := strings.TrimPrefix(in.String("command"), "/")
	if err := s.Perms.Revoke(ctx, in.GuildID, roleID, cmd); err != nil {
		return Reply{}, err
	}
	s.Audit.Log(ctx, audit.LevelWarn, in.GuildID, in.UserID(), "permission_revoked", "role="+roleID+" command="+cmd)
	return Reply{Embed: s.Embeds.Success("Permissions", fmt.Sprintf("%s can no longer use /%s.", render.RoleMention(roleID), strings.ToLower(cmd)))}, nil
}

func (s *Surface) permissionList(ctx context.Context, in *Invocation) (Reply, error) {
	grants, err := s.Store.ListPermissionGrants(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	var lines []string
	for _, g := range grants {
		if len(g.Commands) == 0 {
			continue
		}
		cmds := append([]string(nil), g.Commands...)
		sort.Strings(cmds)
		lines = append(lines, render.RoleMention(g.RoleID)+": /"+strings.Join(cmds, ", /"))
	}
	if len(lines) == 0 {
		return Reply{Embed: s.Embeds.Action("Permissions", "No commands are granted. Members need the listed channel permissions.")}, nil
	}
	return Reply{Embed: s.Embeds.Action("Permissions", clip(strings.Join(lines, "\n")))}, nil
}

func (s *Surface) globalBanAdd(ctx context.Context, in *Invocation) (Reply, error) {
	target, err := in.Require("user")
	if err != nil {
		return Reply{}, err
	}
	if s.Perms.IsOwner(target) {
		return Reply{}, fault.Input("bot operators cannot be banned")
	}
	reason := in.String("reason")
	if reason == "" {
		reason = "No reason given"
	}
	err = s.Store.AddGlobalBan(ctx, storage.GlobalBan{UserID: target, Reason: reason, CreatedAt: s.Clock.Now().Unix()})
	if err != nil {
		return Reply{}, err
	}
	s.Audit.Log(ctx, audit.LevelCrit, "", in.UserID(), "global_ban_added", "user="+target+" reason="+reason)
	return Reply{Embed: s.Embeds.Success("Global ban", render.Mention(target)+" can no longer use the bot.")}, nil
}

func (s *Surface) globalBanRemove(ctx context.Context, in *Invocation) (Reply, error) {
	target, err := in.Require("user")
	if err != nil {
		return Reply{}, err
	}
	removed, err := s.Store.RemoveGlobalBan(ctx, target)
	if err != nil {
		return Reply{}, err
	}
	if !removed {
		return Reply{}, fault.Missing("%s is not banned", render.Mention(target))
	}
	s.Audit.Log(ctx, audit.LevelCrit, "", in.UserID(), "global_ban_removed", "user="+target)
	return Reply{Embed: s.Embeds.Success("Global ban", render.Mention(target)+" can use the bot again.")}, nil
}

func (s *Surface) globalBanList(ctx context.Context, _ *Invocation) (Reply, error) {
	bans, err := s.Store.ListGlobalBans(ctx)
	if err != nil {
		return Reply{}, err
	}
	if len(bans) == 0 {
		return Reply{Embed: s.Embeds.Action("Global bans", "Nobody is banned.")}, nil
	}
	lines := make([]string, 0, len(bans))
	for _, b := range bans {
		lines = append(lines, fmt.Sprintf("%s <t:%d:d> %s", render.Mention(b.UserID), b.CreatedAt, b.Reason))
	}
	return Reply{Embed: s.Embeds.Action("Global bans", clip(strings.Join(lines, "\n")))}, nil
}

func (s *Surface) settingsShow(ctx context.Context, in *Invocation) (Reply, error) {
	g, err := s.Store.GuildSettings(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	flood := "off"
	if g.FloodFilter {
		flood = fmt.Sprintf("on, %d repeats allowed", g.FloodLimit)
	}
	suggestions := "off"
	if g.SuggestionChannel != "" {
		suggestions = render.ChannelMention(g.SuggestionChannel) + " " + g.SuggestionUp + " " + g.SuggestionDown
		if g.SuggestionThreads {
			suggestions += ", with threads"
		}
	}
	music := "everybody"
	if len(g.MusicRoles) > 0 {
		music = roleList(g.MusicRoles)
	}
	startRole := "none"
	if g.StartRole != "" {
		startRole = render.RoleMention(g.StartRole)
	}
	return Reply{Embed: s.Embeds.Action("Settings", "",
		render.Field("Anti-link", antilink.Describe(g), true),
		render.Field("Anti-flood", flood, true),
		render.Field("Word block", onOff(g.WordBlock), true),
		render.Field("Anti-ghost-ping", onOff(g.GhostPing), true),
		render.Field("Leveling", onOff(g.Leveling), true),
		render.Field("Suggestions", suggestions, true),
		render.Field("Logs", channelOrNone(g.LogChannel), true),
		render.Field("Welcome", channelOrNone(g.WelcomeChannel), true),
		render.Field("Goodbye", channelOrNone(g.GoodbyeChannel), true),
		render.Field("Start role", startRole, true),
		render.Field("Music", music, true),
	)}, nil
}

func (s *Surface) musicRole(add bool) Handler {
	return func(ctx context.Context, in *Invocation) (Reply, error) {
		roleID, err := in.Require("role")
		if err != nil {
			return Reply{}, err
		}
		g, err := s.Store.UpdateGuildSettings(ctx, in.GuildID, func(g *storage.GuildSettings) error {
			if add {
				if contains(g.MusicRoles, roleID) {
					return fault.Input("%s is already allowed", render.RoleMention(roleID))
				}
				g.MusicRoles = append(g.MusicRoles, roleID)
				return nil
			}
			if !contains(g.MusicRoles, roleID) {
				return fault.Missing("%s is not on the list", render.RoleMention(roleID))
			}
			g.MusicRoles = g.MusicRoles.Without(roleID)
			return nil
		})
		if err != nil {
			return Reply{}, err
		}
		s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "settings_changed", in.Path()+" "+roleID)
		if len(g.MusicRoles) == 0 {
			return Reply{Embed: s.Embeds.Success("Music roles", "Everybody may use music commands.")}, nil
		}
		return Reply{Embed: s.Embeds.Success("Music roles", "Music commands are limited to "+roleList(g.MusicRoles)+".")}, nil
	}
}
