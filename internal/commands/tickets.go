package commands

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildwarden/internal/fault"
	"guildwarden/internal/interactive"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/platform"
	"guildwarden/internal/render"
	"guildwarden/internal/storage"
)

const (
	ticketAccess     = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory | discordgo.PermissionAttachFiles
	transcriptLimit  = 100
	maxTicketNameLen = 90
)

var roleRef = regexp.MustCompile(`<@&(\d+)>|\b(\d{15,21})\b`)

// EditableField names the ticket panel settings /ticket edit can change.
type EditableField string

const (
	FieldName        EditableField = "name"
	FieldCategory    EditableField = "category"
	FieldTranscript  EditableField = "transcript"
	FieldAccessRoles EditableField = "access-roles"
	FieldCloseRoles  EditableField = "close-roles"
)

func (s *Surface) registerTickets() {
	s.Register(command("ticket", "Support tickets",
		sub("install", "Post a panel that opens private ticket channels",
			channel("channel", "Where the panel goes, defaults to this channel", false),
			str("name", "Ticket channel name prefix, default ticket", false),
			channel("category", "Category for ticket channels", false),
			channel("transcript", "Where transcripts are posted on close", false),
			str("description", "Panel text", false)),
		sub("delete", "Remove a ticket panel", str("message_id", "The panel message", true)),
		sub("info", "List ticket panels"),
		sub("edit", "Change a ticket panel",
			str("message_id", "The panel message", true),
			choices(str("field", "What to change", true),
				string(FieldName), string(FieldCategory), string(FieldTranscript), string(FieldAccessRoles), string(FieldCloseRoles)),
			str("value", "New value, role mentions for role lists, empty to clear", false)),
	), map[string]route{
		"install": {title: "Tickets", required: discordgo.PermissionManageChannels, handle: s.ticketInstall},
		"delete":  {title: "Tickets", required: discordgo.PermissionManageChannels, handle: s.ticketDelete},
		"info":    {title: "Tickets", required: discordgo.PermissionManageChannels, handle: s.ticketInfo},
		"edit":    {title: "Tickets", required: discordgo.PermissionManageChannels, handle: s.ticketEdit},
	})
	s.component("ticket", s.ticketButton)
}

func button(label, customID string, style discordgo.ButtonStyle) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{Label: label, Style: style, CustomID: customID},
	}}}
}

// parseRoles reads role mentions or raw ids. "none" yields an empty list.
func parseRoles(input string) ([]string, error) {
	if strings.EqualFold(strings.TrimSpace(input), "none") {
		return nil, nil
	}
	var roles []string
	for _, m := range roleRef.FindAllStringSubmatch(input, -1) {
		id := m[1]
		if id == "" {
			id = m[2]
		}
		roles = append(roles, id)
	}
	if len(roles) == 0 {
		return nil, fault.Input("mention at least one role, or answer `none`")
	}
	return roles, nil
}

func (s *Surface) ticketInstall(ctx context.Context, in *Invocation) (Reply, error) {
	target := in.Channel("channel")
	name := in.String("name")
	if name == "" {
		name = "ticket"
	}
	if len(name) > maxTicketNameLen {
		return Reply{}, fault.Input("the name prefix can be at most %d characters", maxTicketNameLen)
	}
	desc := in.String("description")
	if desc == "" {
		desc = "Press the button to open a private ticket with the staff."
	}

	draft, err := s.Platform.SendMessage(ctx, target, platform.Embed(s.Embeds.Action("Tickets", desc+"\n\n-# Setting up...")))
	if err != nil {
		return Reply{}, err
	}
	tmpl := storage.TicketTemplate{
		GuildID:           in.GuildID,
		MessageID:         draft.ID,
		ChannelID:         target,
		ChannelName:       name,
		CategoryID:        in.String("category"),
		TranscriptChannel: in.String("transcript"),
	}

	wf := &interactive.Workflow{
		Name: "Ticket setup",
		Steps: []interactive.Step{
			{
				Prompt:  "Which roles can see every ticket? Mention them, or answer `none`.",
				Timeout: interactive.MemberPickTimeout,
				Accept: func(input string) (int, error) {
					roles, err := parseRoles(input)
					tmpl.AccessRoles = roles
					return 1, err
				},
			},
			{
				Prompt:  "Which roles can close tickets? Mention them, or answer `none` to let only the opener and staff close.",
				Timeout: interactive.MemberPickTimeout,
				Accept: func(input string) (int, error) {
					roles, err := parseRoles(input)
					tmpl.CloseRoles = roles
					return interactive.Finish, err
				},
			},
		},
		OnComplete: func(ctx context.Context) error {
			if err := s.Store.UpsertTicketTemplate(ctx, tmpl); err != nil {
				return err
			}
			embeds := []*discordgo.MessageEmbed{s.Embeds.Action("Tickets", desc)}
			components := button("Open a ticket", "ticket:open", discordgo.PrimaryButton)
			if _, err := s.Platform.EditMessage(ctx, &discordgo.MessageEdit{Channel: target, ID: draft.ID, Embeds: &embeds, Components: &components}); err != nil {
				return err
			}
			s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "ticket_panel_installed", "message="+draft.ID)
			s.Notify(ctx, in.ChannelID, platform.Embed(s.Embeds.Success("Tickets", "The panel is live in "+render.ChannelMention(target)+".")))
			return nil
		},
		OnCancel: func(ctx context.Context, _ interactive.Reason) {
			if err := s.Platform.DeleteMessage(ctx, target, draft.ID); err != nil && !fault.Is(err, fault.EntityMissing) {
				s.logger.Warn("removing draft ticket panel failed", zap.String("message_id", draft.ID), zap.Error(err))
			}
		},
	}
	if err := s.Flows.Begin(ctx, in.ChannelID, in.UserID(), wf); err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Action("Tickets", "Answer the questions below to finish the panel.")}, nil
}

func (s *Surface) ticketDelete(ctx context.Context, in *Invocation) (Reply, error) {
	msgID, err := in.Require("message_id")
	if err != nil {
		return Reply{}, err
	}
	tmpl, found, err := s.Store.TicketTemplate(ctx, in.GuildID, msgID)
	if err != nil {
		return Reply{}, err
	}
	if !found {
		return Reply{}, fault.Missing("no ticket panel with message id %s", msgID)
	}
	if _, err := s.Store.DeleteTicketTemplate(ctx, in.GuildID, msgID); err != nil {
		return Reply{}, err
	}
	if err := s.Platform.DeleteMessage(ctx, tmpl.ChannelID, msgID); err != nil && !fault.Is(err, fault.EntityMissing) {
		return Reply{}, err
	}
	s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "ticket_panel_deleted", "message="+msgID)
	return Reply{Embed: s.Embeds.Success("Tickets", "Panel removed. Open tickets stay until closed.")}, nil
}

func (s *Surface) ticketInfo(ctx context.Context, in *Invocation) (Reply, error) {
	list, err := s.Store.ListTicketTemplates(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	if len(list) == 0 {
		return Reply{Embed: s.Embeds.Action("Tickets", "No ticket panels installed.")}, nil
	}
	fields := make([]*discordgo.MessageEmbedField, 0, len(list))
	for _, t := range list {
		open, err := s.Store.CountOpenTickets(ctx, in.GuildID, t.MessageID)
		if err != nil {
			return Reply{}, err
		}
		fields = append(fields, render.Field(t.ChannelName+" ("+t.MessageID+")", fmt.Sprintf(
			"Panel in %s\nOpen tickets: %d, next number %d\nAccess: %s\nClose: %s\nTranscripts: %s",
			render.ChannelMention(t.ChannelID), open, t.NextID,
			roleList(t.AccessRoles), roleList(t.CloseRoles), channelOrNone(t.TranscriptChannel),
		), false))
	}
	return Reply{Embed: s.Embeds.Action("Tickets", "", fields...)}, nil
}

func (s *Surface) ticketEdit(ctx context.Context, in *Invocation) (Reply, error) {
	msgID, err := in.Require("message_id")
	if err != nil {
		return Reply{}, err
	}
	tmpl, found, err := s.Store.TicketTemplate(ctx, in.GuildID, msgID)
	if err != nil {
		return Reply{}, err
	}
	if !found {
		return Reply{}, fault.Missing("no ticket panel with message id %s", msgID)
	}
	value := in.String("value")
	field := EditableField(in.String("field"))
	switch field {
	case FieldName:
		if value == "" || len(value) > maxTicketNameLen {
			return Reply{}, fault.Input("the name prefix must be 1 to %d characters", maxTicketNameLen)
		}
		tmpl.ChannelName = value
	case FieldCategory:
		tmpl.CategoryID = strings.Trim(value, "<#>")
	case FieldTranscript:
		tmpl.TranscriptChannel = strings.Trim(value, "<#>")
	case FieldAccessRoles, FieldCloseRoles:
		roles, err := parseRoles(orNone(value))
		if err != nil {
			return Reply{}, err
		}
		if field == FieldAccessRoles {
			tmpl.AccessRoles = roles
		} else {
			tmpl.CloseRoles = roles
		}
	default:
		return Reply{}, fault.Input("unknown field %q", field)
	}
	if err := s.Store.UpsertTicketTemplate(ctx, tmpl); err != nil {
		return Reply{}, err
	}
	s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "ticket_panel_edited", "message="+msgID+" field="+string(field))
	return Reply{Embed: s.Embeds.Success("Tickets", fmt.Sprintf("Updated %s.", field))}, nil
}

func roleList(roles []string) string {
	if len(roles) == 0 {
		return "none"
	}
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, render.RoleMention(r))
	}
	return strings.Join(out, " ")
}

func channelOrNone(id string) string {
	if id == "" {
		return "none"
	}
	return render.ChannelMention(id)
}

func actor(i *discordgo.Interaction) (string, []string) {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID, i.Member.Roles
	}
	if i.User != nil {
		return i.User.ID, nil
	}
	return "", nil
}

func (s *Surface) ticketButton(ctx context.Context, i *discordgo.Interaction, args []string) error {
	if len(args) == 0 {
		return fault.Input("unknown ticket action")
	}
	switch args[0] {
	case "open":
		return s.ticketOpen(ctx, i)
	case "close":
		return s.ticketClose(ctx, i)
	}
	return fault.Input("unknown ticket action %q", args[0])
}

func (s *Surface) ticketOpen(ctx context.Context, i *discordgo.Interaction) error {
	opener, _ := actor(i)
	if i.Message == nil {
		return fault.Missing("this ticket panel is no longer configured")
	}
	tmpl, number, err := s.Store.ReserveTicketNumber(ctx, i.GuildID, i.Message.ID)
	if err != nil {
		return err
	}

	overwrites := []*discordgo.PermissionOverwrite{
		{ID: i.GuildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
		{ID: opener, Type: discordgo.PermissionOverwriteTypeMember, Allow: ticketAccess},
		{ID: s.Platform.BotUserID(), Type: discordgo.PermissionOverwriteTypeMember, Allow: ticketAccess | discordgo.PermissionManageChannels},
	}
	for _, roleID := range tmpl.AccessRoles {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{ID: roleID, Type: discordgo.PermissionOverwriteTypeRole, Allow: ticketAccess})
	}
	ch, err := s.Platform.CreateChannel(ctx, i.GuildID, discordgo.GuildChannelCreateData{
		Name:                 fmt.Sprintf("%s-%d", tmpl.ChannelName, number),
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             tmpl.CategoryID,
		PermissionOverwrites: overwrites,
	})
	if err != nil {
		return err
	}
	ticket := storage.Ticket{
		GuildID:           i.GuildID,
		ChannelID:         ch.ID,
		TemplateMessageID: tmpl.MessageID,
		OpenerID:          opener,
		Number:            number,
		OpenedAt:          s.Clock.Now().Unix(),
	}
	if err := s.Store.InsertTicket(ctx, ticket); err != nil {
		if derr := s.Platform.DeleteChannel(ctx, ch.ID); derr != nil {
			s.logger.Warn("removing orphan ticket channel failed", zap.String("channel_id", ch.ID), zap.Error(derr))
		}
		return err
	}

	welcome := platform.Embed(s.Embeds.Action(fmt.Sprintf("Ticket #%d", number), render.Mention(opener)+", describe your request and the staff will answer here."))
	welcome.Content = render.Mention(opener)
	welcome.AllowedMentions = platform.UserMentions()
	welcome.Components = button("Close", "ticket:close", discordgo.DangerButton)
	s.Notify(ctx, ch.ID, welcome)
	s.Audit.Log(ctx, audit.LevelInfo, i.GuildID, opener, "ticket_opened", fmt.Sprintf("number=%d channel=%s", number, ch.ID))

	s.respond(ctx, i, s.Embeds.Success("Ticket opened", "Your ticket is "+render.ChannelMention(ch.ID)+"."), true)
	return nil
}

func (s *Surface) ticketClose(ctx context.Context, i *discordgo.Interaction) error {
	closer, roles := actor(i)
	ticket, found, err := s.Store.Ticket(ctx, i.GuildID, i.ChannelID)
	if err != nil {
		return err
	}
	if !found {
		return fault.Missing("this channel is not an open ticket")
	}
	tmpl, _, err := s.Store.TicketTemplate(ctx, i.GuildID, ticket.TemplateMessageID)
	if err != nil {
		return err
	}
	if closer != ticket.OpenerID && !anyOf(roles, tmpl.CloseRoles) {
		perms, err := s.Platform.ChannelPermissions(ctx, closer, i.ChannelID)
		if err != nil {
			return err
		}
		if !platform.HasPermission(perms, discordgo.PermissionManageChannels) {
			return fault.Denied("only the opener or the staff can close this ticket")
		}
	}

	s.respond(ctx, i, s.Embeds.Warning("Closing", "This ticket will be deleted."), false)

	// The interaction is answered; later failures are reported, not returned.
	if tmpl.TranscriptChannel != "" {
		s.transcript(ctx, ticket, tmpl.TranscriptChannel, closer)
	}
	if err := s.Platform.DeleteChannel(ctx, ticket.ChannelID); err != nil && !fault.Is(err, fault.EntityMissing) {
		s.report(ctx, "component/ticket", err)
		return nil
	}
	if _, err := s.Store.DeleteTicket(ctx, ticket.GuildID, ticket.ChannelID); err != nil {
		s.report(ctx, "component/ticket", err)
		return nil
	}
	s.Audit.Log(ctx, audit.LevelInfo, i.GuildID, closer, "ticket_closed", fmt.Sprintf("number=%d opener=%s", ticket.Number, ticket.OpenerID))
	return nil
}

// transcript posts a summary of the ticket's conversation, oldest first.
func (s *Surface) transcript(ctx context.Context, ticket storage.Ticket, channelID, closer string) {
	msgs, err := s.Platform.MessagesSince(ctx, ticket.ChannelID, time.Unix(ticket.OpenedAt, 0), transcriptLimit)
	if err != nil {
		s.logger.Warn("reading ticket history failed", zap.String("channel_id", ticket.ChannelID), zap.Error(err))
		return
	}
	lines := make([]string, 0, len(msgs))
	for n := len(msgs) - 1; n >= 0; n-- {
		m := msgs[n]
		if m.Author == nil || m.Author.ID == s.Platform.BotUserID() || m.Content == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("**%s**: %s", authorName(m.Author), m.Content))
	}
	body := "No messages."
	if len(lines) > 0 {
		body = clip(strings.Join(lines, "\n"))
	}
	s.Notify(ctx, channelID, platform.Embed(s.Embeds.Action(fmt.Sprintf("Ticket #%d transcript", ticket.Number), body,
		render.Field("Opened by", render.Mention(ticket.OpenerID), true),
		render.Field("Closed by", render.Mention(closer), true),
		render.Field("Messages", fmt.Sprint(len(lines)), true),
	)))
}

func anyOf(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

func authorName(u *discordgo.User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}
