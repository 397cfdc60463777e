package storage

import (
	"context"
	"strings"

	"guildwarden/internal/fault"
)

type MatchMode string

const (
	MatchContains MatchMode = "contains"
	MatchPrefix   MatchMode = "prefix"
	MatchEquals   MatchMode = "equals"
)

func ParseMatchMode(value string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(value)) {
	case MatchContains, MatchPrefix, MatchEquals:
		return MatchMode(strings.ToLower(value)), nil
	}
	return "", fault.Input("unknown match mode %q, expected contains, prefix or equals", value)
}

type AutoResponse struct {
	GuildID   string    `db:"guild_id"`
	Trigger   string    `db:"trigger_text"`
	MatchMode MatchMode `db:"match_mode"`
	Reply     string    `db:"reply"`
	Image     string    `db:"image"`
	Position  int       `db:"position"`
}

// Matches compares case-insensitively according to the rule's mode.
func (r AutoResponse) Matches(content string) bool {
	content = strings.ToLower(content)
	trigger := strings.ToLower(r.Trigger)
	switch r.MatchMode {
	case MatchContains:
		return strings.Contains(content, trigger)
	case MatchPrefix:
		return strings.HasPrefix(content, trigger)
	case MatchEquals:
		return content == trigger
	default:
		return false
	}
}

func (s *Store) AddAutoResponse(ctx context.Context, r AutoResponse) error {
	if _, err := ParseMatchMode(string(r.MatchMode)); err != nil {
		return err
	}
	if strings.TrimSpace(r.Trigger) == "" || strings.TrimSpace(r.Reply) == "" {
		return fault.Input("trigger and reply must not be empty")
	}
	return s.Tx(ctx, func(tx *Tx) error {
		var existing []AutoResponse
		if err := tx.all(ctx, "list auto responses", &existing, `
			SELECT guild_id, trigger_text, match_mode, reply, image, position
			FROM auto_responses WHERE guild_id = ? ORDER BY position
		`, r.GuildID); err != nil {
			return err
		}
		if len(existing) >= MaxAutoResponses {
			return fault.Input("a server can have at most %d auto responses", MaxAutoResponses)
		}
		next := 0
		for _, e := range existing {
			if strings.EqualFold(e.Trigger, r.Trigger) {
				return fault.Input("an auto response for %q already exists", r.Trigger)
			}
			if e.Position >= next {
				next = e.Position + 1
			}
		}
		_, err := tx.exec(ctx, "add auto response", `
			INSERT INTO auto_responses (guild_id, trigger_text, match_mode, reply, image, position)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.GuildID, r.Trigger, string(r.MatchMode), r.Reply, r.Image, next)
		return err
	})
}

// ListAutoResponses returns rules in insertion order. Rows with an unknown
// match mode are skipped.
func (c conn) ListAutoResponses(ctx context.Context, guildID string) ([]AutoResponse, error) {
	var rows []AutoResponse
	if err := c.all(ctx, "list auto responses", &rows, `
		SELECT guild_id, trigger_text, match_mode, reply, image, position
		FROM auto_responses WHERE guild_id = ? ORDER BY position
	`, guildID); err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, r := range rows {
		if _, err := ParseMatchMode(string(r.MatchMode)); err == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c conn) DeleteAutoResponse(ctx context.Context, guildID, trigger string) (bool, error) {
	n, err := c.exec(ctx, "delete auto response", `
		DELETE FROM auto_responses WHERE guild_id = ? AND LOWER(trigger_text) = LOWER(?)
	`, guildID, trigger)
	return n > 0, err
}

type LocalCommand struct {
	GuildID     string `db:"guild_id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Reply       string `db:"reply"`
	CommandID   string `db:"command_id"`
}

// AddLocalCommand enforces the per-guild cap. Name validation belongs to the
// caller, which knows the built-in command names.
func (s *Store) AddLocalCommand(ctx context.Context, cmd LocalCommand) error {
	return s.Tx(ctx, func(tx *Tx) error {
		count, err := tx.count(ctx, "count local commands", `SELECT COUNT(*) FROM local_commands WHERE guild_id = ?`, cmd.GuildID)
		if err != nil {
			return err
		}
		if count >= MaxLocalCommands {
			return fault.Input("a server can have at most %d custom commands", MaxLocalCommands)
		}
		exists, err := tx.count(ctx, "local command exists", `SELECT COUNT(*) FROM local_commands WHERE guild_id = ? AND name = ?`, cmd.GuildID, cmd.Name)
		if err != nil {
			return err
		}
		if exists > 0 {
			return fault.Input("a custom command named %q already exists", cmd.Name)
		}
		_, err = tx.exec(ctx, "add local command", `
			INSERT INTO local_commands (guild_id, name, description, reply, command_id) VALUES (?, ?, ?, ?, ?)
		`, cmd.GuildID, cmd.Name, cmd.Description, cmd.Reply, cmd.CommandID)
		return err
	})
}

func (c conn) SetLocalCommandID(ctx context.Context, guildID, name, commandID string) error {
	_, err := c.exec(ctx, "set local command id", `UPDATE local_commands SET command_id = ? WHERE guild_id = ? AND name = ?`, commandID, guildID, name)
	return err
}

func (c conn) LocalCommand(ctx context.Context, guildID, name string) (LocalCommand, bool, error) {
	var cmd LocalCommand
	found, err := c.get(ctx, "get local command", &cmd, `
		SELECT guild_id, name, description, reply, command_id FROM local_commands WHERE guild_id = ? AND name = ?
	`, guildID, name)
	return cmd, found, err
}

func (c conn) ListLocalCommands(ctx context.Context, guildID string) ([]LocalCommand, error) {
	var cmds []LocalCommand
	err := c.all(ctx, "list local commands", &cmds, `
		SELECT guild_id, name, description, reply, command_id FROM local_commands WHERE guild_id = ? ORDER BY name
	`, guildID)
	return cmds, err
}

func (c conn) ListAllLocalCommands(ctx context.Context) ([]LocalCommand, error) {
	var cmds []LocalCommand
	err := c.all(ctx, "list all local commands", &cmds, `
		SELECT guild_id, name, description, reply, command_id FROM local_commands ORDER BY guild_id, name
	`)
	return cmds, err
}

func (c conn) DeleteLocalCommand(ctx context.Context, guildID, name string) (bool, error) {
	n, err := c.exec(ctx, "delete local command", `DELETE FROM local_commands WHERE guild_id = ? AND name = ?`, guildID, name)
	return n > 0, err
}

func (c conn) DeleteGuildLocalCommands(ctx context.Context, guildID string) (int64, error) {
	return c.exec(ctx, "delete guild local commands", `DELETE FROM local_commands WHERE guild_id = ?`, guildID)
}

type Partnership struct {
	GuildID   string `db:"guild_id"`
	ChannelID string `db:"channel_id"`
	Advert    string `db:"advert"`
	LastSent  int64  `db:"last_sent"`
}

func (c conn) UpsertPartnership(ctx context.Context, p Partnership) error {
	_, err := c.exec(ctx, "upsert partnership", `
		INSERT INTO partnerships (guild_id, channel_id, advert, last_sent) VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			channel_id = excluded.channel_id,
			advert = excluded.advert,
			last_sent = excluded.last_sent
	`, p.GuildID, p.ChannelID, p.Advert, p.LastSent)
	return err
}

func (c conn) Partnership(ctx context.Context, guildID string) (Partnership, bool, error) {
	var p Partnership
	found, err := c.get(ctx, "get partnership", &p, `SELECT guild_id, channel_id, advert, last_sent FROM partnerships WHERE guild_id = ?`, guildID)
	return p, found, err
}

func (c conn) ListPartnerships(ctx context.Context) ([]Partnership, error) {
	var ps []Partnership
	err := c.all(ctx, "list partnerships", &ps, `SELECT guild_id, channel_id, advert, last_sent FROM partnerships ORDER BY guild_id`)
	return ps, err
}

func (c conn) DeletePartnership(ctx context.Context, guildID string) (bool, error) {
	n, err := c.exec(ctx, "delete partnership", `DELETE FROM partnerships WHERE guild_id = ?`, guildID)
	return n > 0, err
}
