package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"guildwarden/internal/fault"
	"guildwarden/internal/giveaway"
	"guildwarden/internal/leveling"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/render"
	"guildwarden/internal/storage"
	"guildwarden/internal/utils"
)

func (s *Surface) registerEngagement() {
	s.Register(command("giveaway", "Run giveaways",
		sub("start", "Start a giveaway in this channel",
			str("reward", "What is given away", true),
			str("duration", "How long it runs, e.g. 1h", true),
			integer("winners", "Number of winners, default 1", false),
			choices(str("requirement", "Entry requirement", false), "level", "role", "invites"),
			integer("threshold", "Level or invite count for the requirement", false),
			role("role", "Role for the role requirement", false)),
		sub("end-now", "End a running giveaway now", str("reward", "The giveaway's reward", true)),
		sub("reroll", "Draw new winners for an ended giveaway",
			str("message_id", "The giveaway message", true),
			integer("winners", "Number of winners, default 1", false)),
		sub("list", "List running giveaways"),
	), map[string]route{
		"start":   {title: "Giveaway", required: discordgo.PermissionManageServer, handle: s.giveawayStart},
		"end-now": {title: "Giveaway", required: discordgo.PermissionManageServer, handle: s.giveawayEnd},
		"reroll":  {title: "Giveaway", required: discordgo.PermissionManageServer, handle: s.giveawayReroll},
		"list":    {title: "Giveaways", handle: s.giveawayList},
	})

	s.Register(command("leveling", "Message leveling",
		sub("on", "Turn leveling on"),
		sub("off", "Turn leveling off"),
		sub("reset", "Reset one member, or everybody", user("user", "Leave empty to reset everybody", false)),
		sub("settings", "Rewards, multipliers and alerts",
			integer("reward_level", "Level that grants reward_role", false),
			role("reward_role", "Role granted at reward_level, empty to remove", false),
			role("multiplier_role", "Role whose messages earn more", false),
			integer("multiplier", "XP per message for multiplier_role, 0 to remove", false),
			choices(str("alert", "Where level-ups are announced", false), "channel", "dm", "both", "off"),
			channel("alert_channel", "Channel for level-up alerts", false),
			str("alert_message", "Template with {user} and {level}", false)),
		sub("rank", "Show a member's level", user("user", "Defaults to you", false)),
		sub("top", "Show the leaderboard", integer("count", "How many, 1-25", false)),
	), map[string]route{
		"on":       {required: discordgo.PermissionManageServer, handle: s.setting("Leveling on", func(g *storage.GuildSettings) { g.Leveling = true })},
		"off":      {required: discordgo.PermissionManageServer, handle: s.setting("Leveling off", func(g *storage.GuildSettings) { g.Leveling = false })},
		"reset":    {title: "Leveling reset", required: discordgo.PermissionManageServer, handle: s.levelingReset},
		"settings": {title: "Leveling settings", required: discordgo.PermissionManageServer, handle: s.levelingSettings},
		"rank":     {title: "Rank", handle: s.rank},
		"top":      {title: "Leaderboard", handle: s.levelTop},
	})

	s.Register(command("invites", "Invite tracking",
		sub("on", "Start tracking invites"),
		sub("off", "Stop tracking invites"),
		sub("check", "Show a member's invites", user("user", "Defaults to you", false)),
		sub("top", "Show the invite leaderboard", integer("count", "How many, 1-25", false)),
		sub("notify", "Announce joins and leaves",
			channel("channel", "Where to announce, empty to stop", false),
			str("join_message", "Template with {user} {inviter} {code} {invites}", false),
			str("leave_message", "Template with {user} {inviter} {invites}", false)),
		sub("add", "Give bonus invites", user("user", "Member", true), integer("amount", "How many", true)),
		sub("remove", "Take bonus invites", user("user", "Member", true), integer("amount", "How many", true)),
		sub("info", "Show tracking status"),
	), map[string]route{
		"on":     {title: "Invite tracking", required: discordgo.PermissionManageServer, handle: s.invitesToggle(true)},
		"off":    {title: "Invite tracking", required: discordgo.PermissionManageServer, handle: s.invitesToggle(false)},
		"check":  {title: "Invites", handle: s.invitesCheck},
		"top":    {title: "Invite leaderboard", handle: s.invitesTop},
		"notify": {title: "Invite notices", required: discordgo.PermissionManageServer, handle: s.invitesNotify},
		"add":    {title: "Bonus invites", required: discordgo.PermissionManageServer, handle: s.invitesBonus(1)},
		"remove": {title: "Bonus invites", required: discordgo.PermissionManageServer, handle: s.invitesBonus(-1)},
		"info":   {title: "Invite tracking", required: discordgo.PermissionManageServer, handle: s.invitesInfo},
	})

	rrOptions := func() []*discordgo.ApplicationCommandOption {
		return []*discordgo.ApplicationCommandOption{
			str("message_id", "Message to react on", true),
			str("emoji", "Emoji", true),
			role("role", "Role to give", true),
			channel("channel", "Channel of the message, defaults to this one", false),
		}
	}
	s.Register(command("reaction-role", "Roles by reaction",
		sub("add", "Bind an emoji to a role", rrOptions()...),
		sub("remove", "Unbind an emoji", rrOptions()...),
		sub("list", "List reaction roles"),
	), map[string]route{
		"add":    {title: "Reaction role", required: discordgo.PermissionManageRoles, handle: s.reactionRole(true)},
		"remove": {title: "Reaction role", required: discordgo.PermissionManageRoles, handle: s.reactionRole(false)},
		"list":   {title: "Reaction roles", required: discordgo.PermissionManageRoles, handle: s.reactionRoles},
	})

	s.Register(command("auto-responder", "Automatic replies",
		sub("add", "Reply when a message matches",
			str("trigger", "Text to match", true),
			str("reply", "What to answer", true),
			choices(str("mode", "How to match, default contains", false), "contains", "prefix", "equals"),
			str("image", "Image url to attach", false)),
		sub("remove", "Delete a rule", str("trigger", "The rule's trigger", true)),
		sub("list", "List rules"),
	), map[string]route{
		"add":    {title: "Auto responder", required: discordgo.PermissionManageMessages, handle: s.responderAdd},
		"remove": {title: "Auto responder", required: discordgo.PermissionManageMessages, handle: s.responderRemove},
		"list":   {title: "Auto responses", required: discordgo.PermissionManageMessages, handle: s.responderList},
	})

	s.Register(command("suggestions", "Suggestion channel",
		sub("configure", "Turn a channel into a suggestion box",
			channel("channel", "Suggestion channel", true),
			str("up", "Up-vote emoji, default 👍", false),
			str("down", "Down-vote emoji, default 👎", false),
			boolean("threads", "Open a discussion thread per suggestion", false)),
		sub("disable", "Stop handling suggestions"),
	), map[string]route{
		"configure": {title: "Suggestions", required: discordgo.PermissionManageServer, handle: s.suggestionsConfigure},
		"disable": {required: discordgo.PermissionManageServer, handle: s.setting("Suggestions off", func(g *storage.GuildSettings) {
			g.SuggestionChannel = ""
		})},
	})
}

// setting returns a handler applying mutate to the guild settings.
func (s *Surface) setting(title string, mutate func(*storage.GuildSettings)) Handler {
	return func(ctx context.Context, in *Invocation) (Reply, error) {
		_, err := s.Store.UpdateGuildSettings(ctx, in.GuildID, func(g *storage.GuildSettings) error {
			mutate(g)
			return nil
		})
		if err != nil {
			return Reply{}, err
		}
		s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "settings_changed", in.Path())
		return Reply{Embed: s.Embeds.Success(title, "Saved.")}, nil
	}
}

func (s *Surface) giveawayStart(ctx context.Context, in *Invocation) (Reply, error) {
	d, err := utils.ParseDuration(in.String("duration"))
	if err != nil {
		return Reply{}, err
	}
	req := storage.Requirement{Kind: storage.RequirementKind(in.String("requirement"))}
	switch req.Kind {
	case storage.RequireRole:
		req.RoleID = in.String("role")
	case storage.RequireLevel, storage.RequireInvites:
		req.Threshold = in.Int("threshold", 0)
	}
	g, err := s.Giveaways.Start(ctx, giveaway.StartInput{
		GuildID:     in.GuildID,
		ChannelID:   in.ChannelID,
		HostID:      in.UserID(),
		Reward:      in.String("reward"),
		Duration:    d,
		Winners:     in.Int("winners", 1),
		Requirement: req,
	})
	if err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Giveaway started", fmt.Sprintf("**%s** ends <t:%d:R>.", g.Reward, g.EndTime))}, nil
}

func (s *Surface) giveawayEnd(ctx context.Context, in *Invocation) (Reply, error) {
	reward, err := in.Require("reward")
	if err != nil {
		return Reply{}, err
	}
	if err := s.Giveaways.EndNow(ctx, in.GuildID, reward); err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Giveaway", fmt.Sprintf("**%s** ends within a few seconds.", reward))}, nil
}

func (s *Surface) giveawayReroll(ctx context.Context, in *Invocation) (Reply, error) {
	msgID, err := in.Require("message_id")
	if err != nil {
		return Reply{}, err
	}
	winners, err := s.Giveaways.Reroll(ctx, in.GuildID, in.ChannelID, msgID, in.Int("winners", 1))
	if err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Giveaway rerolled", fmt.Sprintf("Drew %d new winner(s).", len(winners)))}, nil
}

func (s *Surface) giveawayList(ctx context.Context, in *Invocation) (Reply, error) {
	list, err := s.Giveaways.List(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	if len(list) == 0 {
		return Reply{Embed: s.Embeds.Action("Giveaways", "No giveaway is running.")}, nil
	}
	lines := make([]string, 0, len(list))
	for _, g := range list {
		req, _ := g.Requirement()
		lines = append(lines, fmt.Sprintf("**%s** in %s, %d winner(s), ends <t:%d:R>, %s", g.Reward, render.ChannelMention(g.ChannelID), g.Winners, g.EndTime, giveaway.DescribeRequirement(req)))
	}
	return Reply{Embed: s.Embeds.Action("Giveaways", clip(strings.Join(lines, "\n")))}, nil
}

func (s *Surface) levelingReset(ctx context.Context, in *Invocation) (Reply, error) {
	target := in.String("user")
	n, err := s.Leveling.Reset(ctx, in.GuildID, target)
	if err != nil {
		return Reply{}, err
	}
	if target != "" && n == 0 {
		return Reply{}, fault.Missing("%s has no leveling progress", render.Mention(target))
	}
	return Reply{Embed: s.Embeds.Success("Leveling reset", fmt.Sprintf("Reset %d member(s).", n))}, nil
}

func (s *Surface) levelingSettings(ctx context.Context, in *Invocation) (Reply, error) {
	changed := false
	if in.Has("reward_level") {
		if err := s.Leveling.SetReward(ctx, in.GuildID, in.Int("reward_level", 0), in.String("reward_role")); err != nil {
			return Reply{}, err
		}
		changed = true
	}
	if in.Has("multiplier_role") {
		if err := s.Leveling.SetMultiplier(ctx, in.GuildID, in.String("multiplier_role"), in.Int("multiplier", 0)); err != nil {
			return Reply{}, err
		}
		changed = true
	}
	if in.Has("alert") {
		mode := storage.AlertMode(in.String("alert"))
		if mode == "off" {
			mode = ""
		}
		if err := s.Leveling.SetAlert(ctx, in.GuildID, mode, in.Channel("alert_channel"), in.String("alert_message")); err != nil {
			return Reply{}, err
		}
		changed = true
	}

	profile, err := s.Leveling.Profile(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	title := "Leveling settings"
	if changed {
		title = "Leveling settings saved"
	}
	return Reply{Embed: s.Embeds.Action(title, "", describeProfile(profile)...)}, nil
}

func (s *Surface) rank(ctx context.Context, in *Invocation) (Reply, error) {
	target := in.String("user")
	if target == "" {
		target = in.UserID()
	}
	st, err := s.Leveling.Rank(ctx, in.GuildID, target)
	if err != nil {
		return Reply{}, err
	}
	rank := "unranked"
	if st.Rank > 0 {
		rank = "#" + strconv.Itoa(st.Rank)
	}
	return Reply{Public: true, Embed: s.Embeds.Action("Rank", render.Mention(target),
		render.Field("Level", strconv.Itoa(st.Counter.Level), true),
		render.Field("XP", fmt.Sprintf("%d / %d", st.Counter.XP, leveling.Threshold(st.Counter.Level)), true),
		render.Field("Rank", rank, true),
	)}, nil
}

func (s *Surface) levelTop(ctx context.Context, in *Invocation) (Reply, error) {
	top, err := s.Leveling.Top(ctx, in.GuildID, in.Int("count", 10))
	if err != nil {
		return Reply{}, err
	}
	if len(top) == 0 {
		return Reply{Embed: s.Embeds.Action("Leaderboard", "Nobody has earned XP yet.")}, nil
	}
	lines := make([]string, 0, len(top))
	for i, c := range top {
		lines = append(lines, fmt.Sprintf("%d. %s level %d (%d xp)", i+1, render.Mention(c.UserID), c.Level, c.XP))
	}
	return Reply{Public: true, Embed: s.Embeds.Action("Leaderboard", strings.Join(lines, "\n"))}, nil
}

func (s *Surface) invitesToggle(on bool) Handler {
	return func(ctx context.Context, in *Invocation) (Reply, error) {
		if on {
			if err := s.Invites.Enable(ctx, in.GuildID, in.UserID()); err != nil {
				return Reply{}, err
			}
			return Reply{Embed: s.Embeds.Success("Invite tracking", "Tracking joins from now on.")}, nil
		}
		if err := s.Invites.Disable(ctx, in.GuildID, in.UserID()); err != nil {
			return Reply{}, err
		}
		return Reply{Embed: s.Embeds.Success("Invite tracking", "Stopped. Existing counts are kept.")}, nil
	}
}

func (s *Surface) invitesCheck(ctx context.Context, in *Invocation) (Reply, error) {
	target := in.String("user")
	if target == "" {
		target = in.UserID()
	}
	l, err := s.Invites.Check(ctx, in.GuildID, target)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Public: true, Embed: s.Embeds.Action("Invites", fmt.Sprintf("%s has **%d** invites.", render.Mention(target), l.Total()),
		render.Field("Joins", strconv.Itoa(l.Normal), true),
		render.Field("Left", strconv.Itoa(l.Left), true),
		render.Field("Fake", strconv.Itoa(l.Fake), true),
		render.Field("Bonus", strconv.Itoa(l.Bonus), true),
	)}, nil
}

func (s *Surface) invitesTop(ctx context.Context, in *Invocation) (Reply, error) {
	top, err := s.Invites.Top(ctx, in.GuildID, in.Int("count", 10))
	if err != nil {
		return Reply{}, err
	}
	if len(top) == 0 {
		return Reply{Embed: s.Embeds.Action("Invite leaderboard", "No invites recorded yet.")}, nil
	}
	lines := make([]string, 0, len(top))
	for i, l := range top {
		lines = append(lines, fmt.Sprintf("%d. %s %d invites", i+1, render.Mention(l.UserID), l.Total()))
	}
	return Reply{Public: true, Embed: s.Embeds.Action("Invite leaderboard", strings.Join(lines, "\n"))}, nil
}

func (s *Surface) invitesNotify(ctx context.Context, in *Invocation) (Reply, error) {
	notify := storage.InviteNotify{
		ChannelID:     in.String("channel"),
		JoinTemplate:  in.String("join_message"),
		LeaveTemplate: in.String("leave_message"),
	}
	if err := s.Invites.SetNotify(ctx, in.GuildID, notify); err != nil {
		return Reply{}, err
	}
	if notify.ChannelID == "" {
		return Reply{Embed: s.Embeds.Success("Invite notices", "Join and leave notices are off.")}, nil
	}
	return Reply{Embed: s.Embeds.Success("Invite notices", "Notices go to "+render.ChannelMention(notify.ChannelID)+".")}, nil
}

func (s *Surface) invitesBonus(sign int) Handler {
	return func(ctx context.Context, in *Invocation) (Reply, error) {
		target, err := in.Require("user")
		if err != nil {
			return Reply{}, err
		}
		amount := in.Int("amount", 0)
		if amount < 1 {
			return Reply{}, fault.Input("the amount must be positive")
		}
		l, err := s.Invites.AdjustBonus(ctx, in.GuildID, in.UserID(), target, sign*amount)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Embed: s.Embeds.Success("Bonus invites", fmt.Sprintf("%s now has %d invites.", render.Mention(target), l.Total()))}, nil
	}
}

func (s *Surface) invitesInfo(ctx context.Context, in *Invocation) (Reply, error) {
	info, err := s.Invites.Info(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	if !info.Enabled {
		return Reply{Embed: s.Embeds.Action("Invite tracking", fmt.Sprintf("Off. %d ledgers are kept.", info.Ledgers))}, nil
	}
	notices := "off"
	if info.Notify.ChannelID != "" {
		notices = render.ChannelMention(info.Notify.ChannelID)
	}
	return Reply{Embed: s.Embeds.Action("Invite tracking", "On.",
		render.Field("Since", fmt.Sprintf("<t:%d:f>", info.EnabledAt.Unix()), true),
		render.Field("Invite codes", strconv.Itoa(info.Codes), true),
		render.Field("Members tracked", strconv.Itoa(info.Ledgers), true),
		render.Field("Notices", notices, true),
	)}, nil
}

func (s *Surface) reactionRole(add bool) Handler {
	return func(ctx context.Context, in *Invocation) (Reply, error) {
		rr := storage.ReactionRole{
			GuildID:   in.GuildID,
			ChannelID: in.Channel("channel"),
			MessageID: in.String("message_id"),
			Emoji:     normalizeEmoji(in.String("emoji")),
			RoleID:    in.String("role"),
		}
		if add {
			if err := s.Reactions.Bind(ctx, rr, in.UserID()); err != nil {
				return Reply{}, err
			}
			return Reply{Embed: s.Embeds.Success("Reaction role", fmt.Sprintf("Reacting with %s now gives %s.", in.String("emoji"), render.RoleMention(rr.RoleID)))}, nil
		}
		if err := s.Reactions.Unbind(ctx, rr, in.UserID()); err != nil {
			return Reply{}, err
		}
		return Reply{Embed: s.Embeds.Success("Reaction role", "Removed.")}, nil
	}
}

func (s *Surface) reactionRoles(ctx context.Context, in *Invocation) (Reply, error) {
	list, err := s.Reactions.List(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	if len(list) == 0 {
		return Reply{Embed: s.Embeds.Action("Reaction roles", "None configured.")}, nil
	}
	lines := make([]string, 0, len(list))
	for _, rr := range list {
		lines = append(lines, fmt.Sprintf("%s on `%s` in %s gives %s", rr.Emoji, rr.MessageID, render.ChannelMention(rr.ChannelID), render.RoleMention(rr.RoleID)))
	}
	return Reply{Embed: s.Embeds.Action("Reaction roles", clip(strings.Join(lines, "\n")))}, nil
}

// normalizeEmoji turns a pasted custom emoji "<:name:id>" into the API name
// "name:id" reactions are matched on.
func normalizeEmoji(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "<") && strings.HasSuffix(raw, ">") {
		raw = strings.TrimPrefix(strings.Trim(raw, "<>"), "a:")
		raw = strings.TrimPrefix(raw, ":")
	}
	return raw
}

func (s *Surface) responderAdd(ctx context.Context, in *Invocation) (Reply, error) {
	mode := in.String("mode")
	if mode == "" {
		mode = string(storage.MatchContains)
	}
	rule := storage.AutoResponse{
		GuildID:   in.GuildID,
		Trigger:   in.String("trigger"),
		MatchMode: storage.MatchMode(mode),
		Reply:     in.String("reply"),
		Image:     in.String("image"),
	}
	if err := s.Store.AddAutoResponse(ctx, rule); err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Auto responder", fmt.Sprintf("Messages that %s %q now get a reply.", verbFor(rule.MatchMode), rule.Trigger))}, nil
}

func (s *Surface) responderRemove(ctx context.Context, in *Invocation) (Reply, error) {
	trigger, err := in.Require("trigger")
	if err != nil {
		return Reply{}, err
	}
	removed, err := s.Store.DeleteAutoResponse(ctx, in.GuildID, trigger)
	if err != nil {
		return Reply{}, err
	}
	if !removed {
		return Reply{}, fault.Missing("no auto response for %q", trigger)
	}
	return Reply{Embed: s.Embeds.Success("Auto responder", "Removed.")}, nil
}

func (s *Surface) responderList(ctx context.Context, in *Invocation) (Reply, error) {
	rules, err := s.Store.ListAutoResponses(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	if len(rules) == 0 {
		return Reply{Embed: s.Embeds.Action("Auto responses", "None configured.")}, nil
	}
	lines := make([]string, 0, len(rules))
	for _, r := range rules {
		lines = append(lines, fmt.Sprintf("`%s` %q → %s", r.MatchMode, r.Trigger, r.Reply))
	}
	return Reply{Embed: s.Embeds.Action(fmt.Sprintf("Auto responses (%d/%d)", len(rules), storage.MaxAutoResponses), clip(strings.Join(lines, "\n")))}, nil
}

func verbFor(mode storage.MatchMode) string {
	switch mode {
	case storage.MatchPrefix:
		return "start with"
	case storage.MatchEquals:
		return "equal"
	default:
		return "contain"
	}
}

func (s *Surface) suggestionsConfigure(ctx context.Context, in *Invocation) (Reply, error) {
	ch, err := in.Require("channel")
	if err != nil {
		return Reply{}, err
	}
	_, err = s.Store.UpdateGuildSettings(ctx, in.GuildID, func(g *storage.GuildSettings) error {
		g.SuggestionChannel = ch
		if up := normalizeEmoji(in.String("up")); up != "" {
			g.SuggestionUp = up
		}
		if down := normalizeEmoji(in.String("down")); down != "" {
			g.SuggestionDown = down
		}
		g.SuggestionThreads = in.Bool("threads", g.SuggestionThreads)
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Suggestions", "Messages in "+render.ChannelMention(ch)+" become suggestions.")}, nil
}
