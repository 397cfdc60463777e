// Package permissions decides whether an invoker may run a protected
// command: global bans first, then channel permissions, then per-role
// command grants stored by the tenant.
package permissions

import (
	"context"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"

	"guildwarden/internal/core"
	"guildwarden/internal/fault"
)

// BannedMessage is shown to globally banned invokers.
const BannedMessage = "You are banned from using this bot."

type Request struct {
	GuildID   string
	ChannelID string
	UserID    string
	RoleIDs   []string
	// Command is the grantable command id, e.g. "moderation ban".
	Command  string
	Required int64
	// Music applies the tenant's music role allow-list.
	Music bool
}

type Resolver struct {
	*core.Bundle
}

func New(b *core.Bundle) *Resolver {
	return &Resolver{Bundle: b}
}

// Check returns nil when req may proceed and a PermissionDenied error naming
// what is missing otherwise.
func (r *Resolver) Check(ctx context.Context, req Request) error {
	if _, banned, err := r.Store.GlobalBan(ctx, req.UserID); err != nil {
		return err
	} else if banned {
		return fault.Denied(BannedMessage)
	}

	if req.Required != 0 {
		ok, err := r.allowed(ctx, req)
		if err != nil {
			return err
		}
		if !ok {
			return fault.Denied("you need the %s permission to use /%s", Names(req.Required), req.Command)
		}
	}

	if req.Music {
		settings, err := r.Store.GuildSettings(ctx, req.GuildID)
		if err != nil {
			return err
		}
		if len(settings.MusicRoles) > 0 && !anyRole(req.RoleIDs, settings.MusicRoles) {
			return fault.Denied("music commands are limited to specific roles on this server")
		}
	}
	return nil
}

func (r *Resolver) allowed(ctx context.Context, req Request) (bool, error) {
	perms, err := r.Platform.ChannelPermissions(ctx, req.UserID, req.ChannelID)
	if err != nil && !fault.Is(err, fault.EntityMissing) {
		return false, err
	}
	if err == nil && perms&req.Required == req.Required {
		return true, nil
	}
	if err == nil && perms&discordgo.PermissionAdministrator != 0 {
		return true, nil
	}
	if req.Command == "" || len(req.RoleIDs) == 0 {
		return false, nil
	}

	grants, err := r.Store.ListPermissionGrants(ctx, req.GuildID)
	if err != nil {
		return false, err
	}
	for _, grant := range grants {
		if grant.Commands.Contains(req.Command) && contains(req.RoleIDs, grant.RoleID) {
			return true, nil
		}
	}
	return false, nil
}

// IsOwner reports whether userID operates the bot itself.
func (r *Resolver) IsOwner(userID string) bool {
	return contains(r.Config.OwnerIDs, userID)
}

// Grant lets roleID run command regardless of its channel permissions.
// known lists the grantable command ids.
func (r *Resolver) Grant(ctx context.Context, guildID, roleID, command string, known []string) error {
	command = strings.ToLower(strings.TrimSpace(command))
	if !contains(known, command) {
		return fault.Input("unknown command %q", command)
	}
	return r.Store.GrantCommand(ctx, guildID, roleID, command)
}

func (r *Resolver) Revoke(ctx context.Context, guildID, roleID, command string) error {
	removed, err := r.Store.RevokeCommand(ctx, guildID, roleID, strings.ToLower(strings.TrimSpace(command)))
	if err != nil {
		return err
	}
	if !removed {
		return fault.Missing("that role was not granted %s", command)
	}
	return nil
}

var permissionNames = []struct {
	bit  int64
	name string
}{
	{discordgo.PermissionAdministrator, "Administrator"},
	{discordgo.PermissionManageServer, "Manage Server"},
	{discordgo.PermissionManageRoles, "Manage Roles"},
	{discordgo.PermissionManageChannels, "Manage Channels"},
	{discordgo.PermissionManageMessages, "Manage Messages"},
	{discordgo.PermissionBanMembers, "Ban Members"},
	{discordgo.PermissionKickMembers, "Kick Members"},
	{discordgo.PermissionModerateMembers, "Timeout Members"},
	{discordgo.PermissionViewAuditLogs, "View Audit Log"},
}

// Names renders the permission bits of mask for humans.
func Names(mask int64) string {
	var names []string
	for _, p := range permissionNames {
		if mask&p.bit != 0 {
			names = append(names, p.name)
		}
	}
	if len(names) == 0 {
		return "required"
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func anyRole(have, allowed []string) bool {
	for _, id := range have {
		if contains(allowed, id) {
			return true
		}
	}
	return false
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
