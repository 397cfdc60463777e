package storage

import (
	"context"

	"guildwarden/internal/fault"
)

type VerificationMode string

const (
	VerifyButton  VerificationMode = "button"
	VerifyCaptcha VerificationMode = "captcha"
)

func ParseVerificationMode(value string) (VerificationMode, error) {
	switch VerificationMode(value) {
	case VerifyButton, VerifyCaptcha:
		return VerificationMode(value), nil
	}
	return "", fault.Input("unknown verification mode %q, expected button or captcha", value)
}

type Verification struct {
	GuildID   string           `db:"guild_id"`
	MessageID string           `db:"message_id"`
	ChannelID string           `db:"channel_id"`
	RoleID    string           `db:"role_id"`
	Mode      VerificationMode `db:"mode"`
}

func (c conn) UpsertVerification(ctx context.Context, v Verification) error {
	_, err := c.exec(ctx, "upsert verification", `
		INSERT INTO verifications (guild_id, message_id, channel_id, role_id, mode) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, message_id) DO UPDATE SET role_id = excluded.role_id, mode = excluded.mode
	`, v.GuildID, v.MessageID, v.ChannelID, v.RoleID, string(v.Mode))
	return err
}

func (c conn) Verification(ctx context.Context, guildID, messageID string) (Verification, bool, error) {
	var v Verification
	found, err := c.get(ctx, "get verification", &v, `
		SELECT guild_id, message_id, channel_id, role_id, mode FROM verifications WHERE guild_id = ? AND message_id = ?
	`, guildID, messageID)
	return v, found, err
}

func (c conn) DeleteVerification(ctx context.Context, guildID, messageID string) (bool, error) {
	n, err := c.exec(ctx, "delete verification", `DELETE FROM verifications WHERE guild_id = ? AND message_id = ?`, guildID, messageID)
	return n > 0, err
}

type TicketTemplate struct {
	GuildID           string     `db:"guild_id"`
	MessageID         string     `db:"message_id"`
	ChannelID         string     `db:"channel_id"`
	ChannelName       string     `db:"channel_name"`
	CategoryID        string     `db:"category_id"`
	AccessRoles       StringList `db:"access_roles"`
	CloseRoles        StringList `db:"close_roles"`
	TranscriptChannel string     `db:"transcript_channel"`
	NextID            int        `db:"next_id"`
}

const ticketTemplateColumns = `guild_id, message_id, channel_id, channel_name, category_id, access_roles, close_roles, transcript_channel, next_id`

func (c conn) UpsertTicketTemplate(ctx context.Context, t TicketTemplate) error {
	if t.NextID < 1 {
		t.NextID = 1
	}
	_, err := c.exec(ctx, "upsert ticket template", `
		INSERT INTO ticket_templates (`+ticketTemplateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, message_id) DO UPDATE SET
			channel_name = excluded.channel_name,
			category_id = excluded.category_id,
			access_roles = excluded.access_roles,
			close_roles = excluded.close_roles,
			transcript_channel = excluded.transcript_channel
	`, t.GuildID, t.MessageID, t.ChannelID, t.ChannelName, t.CategoryID, t.AccessRoles, t.CloseRoles, t.TranscriptChannel, t.NextID)
	return err
}

func (c conn) TicketTemplate(ctx context.Context, guildID, messageID string) (TicketTemplate, bool, error) {
	var t TicketTemplate
	found, err := c.get(ctx, "get ticket template", &t, `SELECT `+ticketTemplateColumns+` FROM ticket_templates WHERE guild_id = ? AND message_id = ?`, guildID, messageID)
	return t, found, err
}

func (c conn) ListTicketTemplates(ctx context.Context, guildID string) ([]TicketTemplate, error) {
	var ts []TicketTemplate
	err := c.all(ctx, "list ticket templates", &ts, `SELECT `+ticketTemplateColumns+` FROM ticket_templates WHERE guild_id = ? ORDER BY message_id`, guildID)
	return ts, err
}

func (c conn) DeleteTicketTemplate(ctx context.Context, guildID, messageID string) (bool, error) {
	n, err := c.exec(ctx, "delete ticket template", `DELETE FROM ticket_templates WHERE guild_id = ? AND message_id = ?`, guildID, messageID)
	return n > 0, err
}

type Ticket struct {
	GuildID           string `db:"guild_id"`
	ChannelID         string `db:"channel_id"`
	TemplateMessageID string `db:"template_message_id"`
	OpenerID          string `db:"opener_id"`
	Number            int    `db:"number"`
	OpenedAt          int64  `db:"opened_at"`
}

// ReserveTicketNumber returns the template's next id and advances it.
func (s *Store) ReserveTicketNumber(ctx context.Context, guildID, messageID string) (TicketTemplate, int, error) {
	var (
		template TicketTemplate
		number   int
	)
	err := s.Tx(ctx, func(tx *Tx) error {
		t, found, err := tx.TicketTemplate(ctx, guildID, messageID)
		if err != nil {
			return err
		}
		if !found {
			return fault.Missing("this ticket panel is no longer configured")
		}
		number = t.NextID
		t.NextID++
		if _, err := tx.exec(ctx, "advance ticket id", `UPDATE ticket_templates SET next_id = ? WHERE guild_id = ? AND message_id = ?`, t.NextID, guildID, messageID); err != nil {
			return err
		}
		template = t
		return nil
	})
	return template, number, err
}

func (c conn) InsertTicket(ctx context.Context, t Ticket) error {
	_, err := c.exec(ctx, "insert ticket", `
		INSERT INTO tickets (guild_id, channel_id, template_message_id, opener_id, number, opened_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.GuildID, t.ChannelID, t.TemplateMessageID, t.OpenerID, t.Number, t.OpenedAt)
	return err
}

func (c conn) Ticket(ctx context.Context, guildID, channelID string) (Ticket, bool, error) {
	var t Ticket
	found, err := c.get(ctx, "get ticket", &t, `
		SELECT guild_id, channel_id, template_message_id, opener_id, number, opened_at
		FROM tickets WHERE guild_id = ? AND channel_id = ?
	`, guildID, channelID)
	return t, found, err
}

func (c conn) DeleteTicket(ctx context.Context, guildID, channelID string) (bool, error) {
	n, err := c.exec(ctx, "delete ticket", `DELETE FROM tickets WHERE guild_id = ? AND channel_id = ?`, guildID, channelID)
	return n > 0, err
}

func (c conn) CountOpenTickets(ctx context.Context, guildID, templateMessageID string) (int, error) {
	return c.count(ctx, "count open tickets", `SELECT COUNT(*) FROM tickets WHERE guild_id = ? AND template_message_id = ?`, guildID, templateMessageID)
}

type Form struct {
	GuildID       string     `db:"guild_id"`
	MessageID     string     `db:"message_id"`
	ChannelID     string     `db:"channel_id"`
	Title         string     `db:"title"`
	Questions     StringList `db:"questions"`
	ResultChannel string     `db:"result_channel"`
}

func (c conn) UpsertForm(ctx context.Context, f Form) error {
	if len(f.Questions) == 0 || len(f.Questions) > MaxFormQuestions {
		return fault.Input("a form needs between 1 and %d questions", MaxFormQuestions)
	}
	_, err := c.exec(ctx, "upsert form", `
		INSERT INTO forms (guild_id, message_id, channel_id, title, questions, result_channel) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, message_id) DO UPDATE SET
			title = excluded.title,
			questions = excluded.questions,
			result_channel = excluded.result_channel
	`, f.GuildID, f.MessageID, f.ChannelID, f.Title, f.Questions, f.ResultChannel)
	return err
}

func (c conn) Form(ctx context.Context, guildID, messageID string) (Form, bool, error) {
	var f Form
	found, err := c.get(ctx, "get form", &f, `
		SELECT guild_id, message_id, channel_id, title, questions, result_channel FROM forms WHERE guild_id = ? AND message_id = ?
	`, guildID, messageID)
	return f, found, err
}

func (c conn) DeleteForm(ctx context.Context, guildID, messageID string) (bool, error) {
	n, err := c.exec(ctx, "delete form", `DELETE FROM forms WHERE guild_id = ? AND message_id = ?`, guildID, messageID)
	return n > 0, err
}

type PermissionGrant struct {
	GuildID  string     `db:"guild_id"`
	RoleID   string     `db:"role_id"`
	Commands StringList `db:"commands"`
}

func (s *Store) GrantCommand(ctx context.Context, guildID, roleID, command string) error {
	return s.Tx(ctx, func(tx *Tx) error {
		grant, err := tx.permissionGrant(ctx, guildID, roleID)
		if err != nil {
			return err
		}
		if grant.Commands.Contains(command) {
			return nil
		}
		grant.Commands = append(grant.Commands, command)
		return tx.upsertPermissionGrant(ctx, grant)
	})
}

func (s *Store) RevokeCommand(ctx context.Context, guildID, roleID, command string) (bool, error) {
	var removed bool
	err := s.Tx(ctx, func(tx *Tx) error {
		grant, err := tx.permissionGrant(ctx, guildID, roleID)
		if err != nil {
			return err
		}
		if !grant.Commands.Contains(command) {
			return nil
		}
		removed = true
		grant.Commands = grant.Commands.Without(command)
		if len(grant.Commands) == 0 {
			_, err := tx.exec(ctx, "delete permission grant", `DELETE FROM permission_grants WHERE guild_id = ? AND role_id = ?`, guildID, roleID)
			return err
		}
		return tx.upsertPermissionGrant(ctx, grant)
	})
	return removed, err
}

func (c conn) permissionGrant(ctx context.Context, guildID, roleID string) (PermissionGrant, error) {
	grant := PermissionGrant{GuildID: guildID, RoleID: roleID}
	_, err := c.get(ctx, "get permission grant", &grant, `
		SELECT guild_id, role_id, commands FROM permission_grants WHERE guild_id = ? AND role_id = ?
	`, guildID, roleID)
	return grant, err
}

func (c conn) upsertPermissionGrant(ctx context.Context, g PermissionGrant) error {
	_, err := c.exec(ctx, "upsert permission grant", `
		INSERT INTO permission_grants (guild_id, role_id, commands) VALUES (?, ?, ?)
		ON CONFLICT(guild_id, role_id) DO UPDATE SET commands = excluded.commands
	`, g.GuildID, g.RoleID, g.Commands)
	return err
}

func (c conn) ListPermissionGrants(ctx context.Context, guildID string) ([]PermissionGrant, error) {
	var grants []PermissionGrant
	err := c.all(ctx, "list permission grants", &grants, `
		SELECT guild_id, role_id, commands FROM permission_grants WHERE guild_id = ? ORDER BY role_id
	`, guildID)
	return grants, err
}
