package commands

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildwarden/internal/fault"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/scheduler"
	"guildwarden/internal/storage"
)

var localName = regexp.MustCompile(`^[a-z0-9]{1,32}$`)

const (
	maxLocalReply       = 2000
	maxLocalDescription = 100
)

type syncOp string

const (
	syncCreate syncOp = "create"
	syncDelete syncOp = "delete"
)

// syncPayload is the scheduler payload for a deferred registration change.
type syncPayload struct {
	Op        syncOp `json:"op"`
	Name      string `json:"name"`
	CommandID string `json:"command_id,omitempty"`
}

func (s *Surface) registerLocalCommands() {
	s.Register(command("custom-command", "Server-specific commands with a fixed reply",
		sub("add", "Create a command",
			str("name", "Lowercase letters and digits", true),
			str("reply", "What the command answers", true),
			str("description", "Shown in the command picker", false)),
		sub("remove", "Delete a command", str("name", "The command", true)),
		sub("list", "Show this server's commands"),
	), map[string]route{
		"add":    {title: "Custom commands", required: discordgo.PermissionManageServer, handle: s.localAdd},
		"remove": {title: "Custom commands", required: discordgo.PermissionManageServer, handle: s.localRemove},
		"list":   {title: "Custom commands", handle: s.localList},
	})
	s.Scheduler.Register(scheduler.KindLocalCommandSync, scheduler.Handler{Run: s.syncLocal})
}

// ValidateLocalName checks a custom command name against the naming rules
// and every global command.
func (s *Surface) ValidateLocalName(name string) error {
	if !localName.MatchString(name) {
		return fault.Input("command names are 1 to 32 lowercase letters or digits")
	}
	if s.Builtin(name) {
		return fault.Input("/%s is a built-in command", name)
	}
	return nil
}

func localDefinition(cmd storage.LocalCommand) *discordgo.ApplicationCommand {
	desc := cmd.Description
	if desc == "" {
		desc = "Custom command"
	}
	return &discordgo.ApplicationCommand{Name: cmd.Name, Description: desc}
}

func (s *Surface) localAdd(ctx context.Context, in *Invocation) (Reply, error) {
	name := strings.TrimPrefix(in.String("name"), "/")
	if err := s.ValidateLocalName(name); err != nil {
		return Reply{}, err
	}
	reply, err := in.Require("reply")
	if err != nil {
		return Reply{}, err
	}
	if len(reply) > maxLocalReply {
		return Reply{}, fault.Input("the reply can be at most %d characters", maxLocalReply)
	}
	desc := in.String("description")
	if len(desc) > maxLocalDescription {
		return Reply{}, fault.Input("the description can be at most %d characters", maxLocalDescription)
	}
	cmd := storage.LocalCommand{GuildID: in.GuildID, Name: name, Description: desc, Reply: reply}
	if err := s.Store.AddLocalCommand(ctx, cmd); err != nil {
		return Reply{}, err
	}

	created, err := s.Platform.CreateCommand(ctx, in.GuildID, localDefinition(cmd))
	switch {
	case err == nil:
		if err := s.Store.SetLocalCommandID(ctx, in.GuildID, name, created.ID); err != nil {
			return Reply{}, err
		}
	case fault.Retryable(err):
		if err := s.deferSync(ctx, in.GuildID, syncPayload{Op: syncCreate, Name: name}); err != nil {
			return Reply{}, err
		}
		s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "local_command_added", name+" (pending)")
		return Reply{Embed: s.Embeds.Success("Custom commands", fmt.Sprintf("Saved /%s, it will show up once the platform accepts it.", name))}, nil
	default:
		if _, derr := s.Store.DeleteLocalCommand(ctx, in.GuildID, name); derr != nil {
			s.logger.Warn("rolling back custom command failed", zap.String("name", name), zap.Error(derr))
		}
		return Reply{}, err
	}
	s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "local_command_added", name)
	return Reply{Embed: s.Embeds.Success("Custom commands", fmt.Sprintf("Created /%s.", name))}, nil
}

func (s *Surface) localRemove(ctx context.Context, in *Invocation) (Reply, error) {
	name := strings.TrimPrefix(in.String("name"), "/")
	cmd, found, err := s.Store.LocalCommand(ctx, in.GuildID, name)
	if err != nil {
		return Reply{}, err
	}
	if !found {
		return Reply{}, fault.Missing("there is no custom command /%s", name)
	}
	if _, err := s.Store.DeleteLocalCommand(ctx, in.GuildID, name); err != nil {
		return Reply{}, err
	}
	if cmd.CommandID != "" {
		err := s.Platform.DeleteCommand(ctx, in.GuildID, cmd.CommandID)
		switch {
		case err == nil, fault.Is(err, fault.EntityMissing):
		case fault.Retryable(err):
			if err := s.deferSync(ctx, in.GuildID, syncPayload{Op: syncDelete, Name: name, CommandID: cmd.CommandID}); err != nil {
				return Reply{}, err
			}
		default:
			return Reply{}, err
		}
	}
	s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "local_command_removed", name)
	return Reply{Embed: s.Embeds.Success("Custom commands", fmt.Sprintf("Deleted /%s.", name))}, nil
}

func (s *Surface) localList(ctx context.Context, in *Invocation) (Reply, error) {
	cmds, err := s.Store.ListLocalCommands(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	if len(cmds) == 0 {
		return Reply{Embed: s.Embeds.Action("Custom commands", "This server has none.")}, nil
	}
	lines := make([]string, 0, len(cmds))
	for _, c := range cmds {
		line := "/" + c.Name
		if c.CommandID == "" {
			line += " (pending)"
		}
		lines = append(lines, line)
	}
	return Reply{Embed: s.Embeds.Action(fmt.Sprintf("Custom commands (%d/%d)", len(cmds), storage.MaxLocalCommands), strings.Join(lines, "\n"))}, nil
}

func (s *Surface) deferSync(ctx context.Context, guildID string, p syncPayload) error {
	return s.Scheduler.Schedule(ctx, scheduler.KindLocalCommandSync, guildID, string(p.Op)+":"+p.Name, s.Clock.Now(), p)
}

// syncLocal retries a registration change the platform refused earlier.
func (s *Surface) syncLocal(ctx context.Context, task scheduler.Task) error {
	var p syncPayload
	if err := task.Decode(&p); err != nil {
		return err
	}
	switch p.Op {
	case syncCreate:
		cmd, found, err := s.Store.LocalCommand(ctx, task.GuildID, p.Name)
		if err != nil || !found || cmd.CommandID != "" {
			return err
		}
		created, err := s.Platform.CreateCommand(ctx, task.GuildID, localDefinition(cmd))
		if err != nil {
			return err
		}
		return s.Store.SetLocalCommandID(ctx, task.GuildID, p.Name, created.ID)
	case syncDelete:
		err := s.Platform.DeleteCommand(ctx, task.GuildID, p.CommandID)
		if fault.Is(err, fault.EntityMissing) {
			return nil
		}
		return err
	}
	return fault.Newf(fault.IntegrityViolation, "unknown local command sync op %q", p.Op)
}

// SyncLocalCommands runs at startup with the guilds this shard serves. Rows
// of owned guilds the bot is no longer in are deleted, and rows never
// registered are registered. Rows of guilds owns rejects are left alone.
func (s *Surface) SyncLocalCommands(ctx context.Context, guildIDs []string, owns func(guildID string) bool) error {
	present := make(map[string]bool, len(guildIDs))
	for _, id := range guildIDs {
		present[id] = true
	}
	cmds, err := s.Store.ListAllLocalCommands(ctx)
	if err != nil {
		return err
	}
	purged := make(map[string]bool)
	for _, cmd := range cmds {
		if owns != nil && !owns(cmd.GuildID) {
			continue
		}
		if !present[cmd.GuildID] {
			if purged[cmd.GuildID] {
				continue
			}
			purged[cmd.GuildID] = true
			n, err := s.Store.DeleteGuildLocalCommands(ctx, cmd.GuildID)
			if err != nil {
				return err
			}
			s.logger.Info("dropped custom commands of a departed guild", zap.String("guild_id", cmd.GuildID), zap.Int64("count", n))
			continue
		}
		if cmd.CommandID != "" {
			continue
		}
		if err := s.deferSync(ctx, cmd.GuildID, syncPayload{Op: syncCreate, Name: cmd.Name}); err != nil {
			return err
		}
	}
	return nil
}

// runLocal answers a guild command that is not a built-in.
func (s *Surface) runLocal(ctx context.Context, in *Invocation) {
	cmd, found, err := s.Store.LocalCommand(ctx, in.GuildID, in.Family)
	if err != nil {
		s.fail(ctx, in, "Custom commands", err)
		return
	}
	if !found {
		s.fail(ctx, in, "Unknown command", fault.Missing("/%s no longer exists here", in.Family))
		return
	}
	if err := s.Perms.Check(ctx, permissionsRequest(in)); err != nil {
		s.fail(ctx, in, "/"+cmd.Name, err)
		return
	}
	s.respond(ctx, in.Interaction, s.Embeds.Action("", cmd.Reply), false)
}
