package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"guildwarden/internal/render"
	"guildwarden/internal/utils"
)

func (s *Surface) registerModeration() {
	target := func() *discordgo.ApplicationCommandOption {
		return user("user", "Member to act on", true)
	}
	reason := func() *discordgo.ApplicationCommandOption {
		return str("reason", "Reason shown in the audit log", false)
	}
	s.Register(command("moderation", "Moderate members and channels",
		sub("ban", "Ban a member", target(), reason()),
		sub("tempban", "Ban a member for a while", target(), str("duration", "How long, e.g. 1h or 2d", true), reason()),
		sub("unban", "Lift a ban", target()),
		sub("kick", "Kick a member", target(), reason()),
		sub("mute", "Time a member out", target(), str("duration", "How long, at most 28d", true), reason()),
		sub("unmute", "Lift a timeout", target()),
		sub("clear", "Delete recent messages in this channel", integer("amount", "How many, 1-100", true)),
		sub("slowmode", "Set this channel's slowmode", str("duration", "Delay between messages, 0 to turn off", true)),
		sub("lock", "Stop everyone from talking in a channel", channel("channel", "Defaults to this channel", false)),
		sub("unlock", "Undo lock", channel("channel", "Defaults to this channel", false)),
	), map[string]route{
		"ban":      {title: "Ban", required: discordgo.PermissionBanMembers, handle: s.ban},
		"tempban":  {title: "Temporary ban", required: discordgo.PermissionBanMembers, handle: s.tempban},
		"unban":    {title: "Unban", required: discordgo.PermissionBanMembers, handle: s.unban},
		"kick":     {title: "Kick", required: discordgo.PermissionKickMembers, handle: s.kick},
		"mute":     {title: "Mute", required: discordgo.PermissionModerateMembers, handle: s.mute},
		"unmute":   {title: "Unmute", required: discordgo.PermissionModerateMembers, handle: s.unmute},
		"clear":    {title: "Clear", required: discordgo.PermissionManageMessages, handle: s.clear},
		"slowmode": {title: "Slowmode", required: discordgo.PermissionManageChannels, handle: s.slowmode},
		"lock":     {title: "Lock", required: discordgo.PermissionManageChannels, handle: s.lock(true)},
		"unlock":   {title: "Unlock", required: discordgo.PermissionManageChannels, handle: s.lock(false)},
	})
}

func (s *Surface) ban(ctx context.Context, in *Invocation) (Reply, error) {
	target, err := in.Require("user")
	if err != nil {
		return Reply{}, err
	}
	if err := s.Moderation.Ban(ctx, in.GuildID, in.UserID(), target, in.String("reason")); err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Banned", render.Mention(target)+" was banned.")}, nil
}

func (s *Surface) tempban(ctx context.Context, in *Invocation) (Reply, error) {
	target, err := in.Require("user")
	if err != nil {
		return Reply{}, err
	}
	d, err := utils.ParseDuration(in.String("duration"))
	if err != nil {
		return Reply{}, err
	}
	until, err := s.Moderation.Tempban(ctx, in.GuildID, in.UserID(), target, d, in.String("reason"))
	if err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Temporarily banned", fmt.Sprintf("%s is banned until <t:%d:f>.", render.Mention(target), until.Unix()))}, nil
}

func (s *Surface) unban(ctx context.Context, in *Invocation) (Reply, error) {
	target, err := in.Require("user")
	if err != nil {
		return Reply{}, err
	}
	if err := s.Moderation.Unban(ctx, in.GuildID, in.UserID(), target); err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Unbanned", render.Mention(target)+" may join again.")}, nil
}

func (s *Surface) kick(ctx context.Context, in *Invocation) (Reply, error) {
	target, err := in.Require("user")
	if err != nil {
		return Reply{}, err
	}
	if err := s.Moderation.Kick(ctx, in.GuildID, in.UserID(), target, in.String("reason")); err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Kicked", render.Mention(target)+" was kicked.")}, nil
}

func (s *Surface) mute(ctx context.Context, in *Invocation) (Reply, error) {
	target, err := in.Require("user")
	if err != nil {
		return Reply{}, err
	}
	d, err := utils.ParseDuration(in.String("duration"))
	if err != nil {
		return Reply{}, err
	}
	if err := s.Moderation.Mute(ctx, in.GuildID, in.UserID(), target, d, in.String("reason")); err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Muted", fmt.Sprintf("%s is muted for %s.", render.Mention(target), d))}, nil
}

func (s *Surface) unmute(ctx context.Context, in *Invocation) (Reply, error) {
	target, err := in.Require("user")
	if err != nil {
		return Reply{}, err
	}
	if err := s.Moderation.Unmute(ctx, in.GuildID, in.UserID(), target); err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Unmuted", render.Mention(target)+" can talk again.")}, nil
}

func (s *Surface) clear(ctx context.Context, in *Invocation) (Reply, error) {
	n, err := s.Moderation.Clear(ctx, in.GuildID, in.UserID(), in.ChannelID, in.Int("amount", 0))
	if err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Cleared", fmt.Sprintf("Deleted %d messages.", n))}, nil
}

func (s *Surface) slowmode(ctx context.Context, in *Invocation) (Reply, error) {
	raw := in.String("duration")
	var d time.Duration
	if raw != "0" && !strings.EqualFold(raw, "off") {
		var err error
		if d, err = utils.ParseDuration(raw); err != nil {
			return Reply{}, err
		}
	}
	if err := s.Moderation.Slowmode(ctx, in.GuildID, in.UserID(), in.ChannelID, d); err != nil {
		return Reply{}, err
	}
	if d == 0 {
		return Reply{Embed: s.Embeds.Success("Slowmode", "Slowmode is off.")}, nil
	}
	return Reply{Embed: s.Embeds.Success("Slowmode", fmt.Sprintf("Members can post once every %s.", d))}, nil
}

func (s *Surface) lock(locked bool) Handler {
	return func(ctx context.Context, in *Invocation) (Reply, error) {
		ch := in.Channel("channel")
		if locked {
			if err := s.Moderation.Lock(ctx, in.GuildID, in.UserID(), ch); err != nil {
				return Reply{}, err
			}
			return Reply{Embed: s.Embeds.Success("Locked", render.ChannelMention(ch)+" is locked.")}, nil
		}
		if err := s.Moderation.Unlock(ctx, in.GuildID, in.UserID(), ch); err != nil {
			return Reply{}, err
		}
		return Reply{Embed: s.Embeds.Success("Unlocked", render.ChannelMention(ch)+" is open again.")}, nil
	}
}

func (s *Surface) registerWarnings() {
	s.Register(command("warnings", "Warn members and configure escalation",
		sub("add", "Warn a member", user("user", "Member to warn", true), str("reason", "Why", false)),
		sub("remove", "Remove one warning", user("user", "Member", true), str("id", "Warning id", true)),
		sub("list", "List a member's warnings", user("user", "Member", true)),
		sub("clear", "Remove every warning of a member", user("user", "Member", true)),
		sub("policy", "Set or remove the punishment for a warning count",
			integer("count", "Warning count that triggers it", true),
			choices(str("action", "What to do", true), "mute", "tempban", "kick", "ban", "remove"),
			str("duration", "For mute and tempban, e.g. 1h", false)),
		sub("policies", "List punishment rules"),
	), map[string]route{
		"add":      {title: "Warning", required: discordgo.PermissionModerateMembers, handle: s.warn},
		"remove":   {title: "Warning removed", required: discordgo.PermissionModerateMembers, handle: s.unwarn},
		"list":     {title: "Warnings", required: discordgo.PermissionModerateMembers, handle: s.warnings},
		"clear":    {title: "Warnings cleared", required: discordgo.PermissionModerateMembers, handle: s.clearWarnings},
		"policy":   {title: "Punishment rule", required: discordgo.PermissionManageServer, handle: s.policy},
		"policies": {title: "Punishment rules", required: discordgo.PermissionModerateMembers, handle: s.policies},
	})
}

func (s *Surface) warn(ctx context.Context, in *Invocation) (Reply, error) {
	target, err := in.Require("user")
	if err != nil {
		return Reply{}, err
	}
	res, err := s.Warnings.Add(ctx, in.GuildID, in.UserID(), target, in.String("reason"))
	if err != nil {
		return Reply{}, err
	}
	fields := []*discordgo.MessageEmbedField{
		render.Field("Id", "`"+res.Warning.WarningID+"`", true),
		render.Field("Total", fmt.Sprint(res.Count), true),
	}
	if esc := res.Escalation; esc != nil {
		outcome := string(esc.Policy.Action) + " applied"
		if esc.Err != nil {
			outcome = string(esc.Policy.Action) + " failed: " + errMessage(esc.Err)
		}
		fields = append(fields, render.Field("Escalation", outcome, false))
	}
	return Reply{Public: true, Embed: s.Embeds.Warning("Warning", fmt.Sprintf("%s was warned: %s", render.Mention(target), res.Warning.Reason), fields...)}, nil
}

func (s *Surface) unwarn(ctx context.Context, in *Invocation) (Reply, error) {
	target, err := in.Require("user")
	if err != nil {
		return Reply{}, err
	}
	id, err := in.Require("id")
	if err != nil {
		return Reply{}, err
	}
	if err := s.Warnings.Remove(ctx, in.GuildID, target, id); err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Warning removed", "Removed warning `"+id+"`.")}, nil
}

func (s *Surface) warnings(ctx context.Context, in *Invocation) (Reply, error) {
	target, err := in.Require("user")
	if err != nil {
		return Reply{}, err
	}
	list, err := s.Warnings.List(ctx, in.GuildID, target)
	if err != nil {
		return Reply{}, err
	}
	if len(list) == 0 {
		return Reply{Embed: s.Embeds.Action("Warnings", render.Mention(target)+" has no warnings.")}, nil
	}
	lines := make([]string, 0, len(list))
	for _, w := range list {
		lines = append(lines, fmt.Sprintf("`%s` <t:%d:d> by %s: %s", w.WarningID, w.CreatedAt, render.Mention(w.ModeratorID), w.Reason))
	}
	return Reply{Embed: s.Embeds.Action(fmt.Sprintf("Warnings (%d)", len(list)), clip(strings.Join(lines, "\n")))}, nil
}

func (s *Surface) clearWarnings(ctx context.Context, in *Invocation) (Reply, error) {
	target, err := in.Require("user")
	if err != nil {
		return Reply{}, err
	}
	n, err := s.Warnings.Clear(ctx, in.GuildID, target)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Warnings cleared", fmt.Sprintf("Removed %d warnings from %s.", n, render.Mention(target)))}, nil
}

func (s *Surface) policy(ctx context.Context, in *Invocation) (Reply, error) {
	count := in.Int("count", 0)
	if in.String("action") == "remove" {
		if err := s.Warnings.DeletePolicy(ctx, in.GuildID, count); err != nil {
			return Reply{}, err
		}
		return Reply{Embed: s.Embeds.Success("Punishment rule", fmt.Sprintf("Nothing happens at %d warnings anymore.", count))}, nil
	}
	p, err := s.Warnings.SetPolicy(ctx, in.GuildID, count, in.String("action"), in.String("duration"))
	if err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Punishment rule", "At "+describePolicy(p)+".")}, nil
}

func (s *Surface) policies(ctx context.Context, in *Invocation) (Reply, error) {
	list, err := s.Warnings.Policies(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	if len(list) == 0 {
		return Reply{Embed: s.Embeds.Action("Punishment rules", "No rules, warnings never escalate.")}, nil
	}
	lines := make([]string, 0, len(list))
	for _, p := range list {
		lines = append(lines, "• "+describePolicy(p))
	}
	return Reply{Embed: s.Embeds.Action("Punishment rules", strings.Join(lines, "\n"))}, nil
}
