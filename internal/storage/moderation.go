package storage

import (
	"context"
	"strings"

	"guildwarden/internal/fault"
)

const (
	MaxWarningsPerUser  = 50
	MaxPoliciesPerGuild = 20
	MaxAutoResponses    = 25
	MaxLocalCommands    = 5
	MaxFormQuestions    = 5
	MaxFeedSeenIDs      = 50
)

type TempBan struct {
	GuildID string `db:"guild_id"`
	UserID  string `db:"user_id"`
	UnbanAt int64  `db:"unban_at"`
}

func (c conn) UpsertTempBan(ctx context.Context, ban TempBan) error {
	_, err := c.exec(ctx, "upsert temp ban", `
		INSERT INTO temp_bans (guild_id, user_id, unban_at) VALUES (?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET unban_at = excluded.unban_at
	`, ban.GuildID, ban.UserID, ban.UnbanAt)
	return err
}

func (c conn) TempBan(ctx context.Context, guildID, userID string) (TempBan, bool, error) {
	var ban TempBan
	found, err := c.get(ctx, "get temp ban", &ban, `SELECT guild_id, user_id, unban_at FROM temp_bans WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	return ban, found, err
}

func (c conn) DeleteTempBan(ctx context.Context, guildID, userID string) (bool, error) {
	n, err := c.exec(ctx, "delete temp ban", `DELETE FROM temp_bans WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	return n > 0, err
}

type Warning struct {
	GuildID     string `db:"guild_id"`
	UserID      string `db:"user_id"`
	WarningID   string `db:"warning_id"`
	Reason      string `db:"reason"`
	ModeratorID string `db:"moderator_id"`
	CreatedAt   int64  `db:"created_at"`
}

// AddWarning inserts the warning and returns the principal's new warning count.
func (s *Store) AddWarning(ctx context.Context, w Warning) (int, error) {
	var total int
	err := s.Tx(ctx, func(tx *Tx) error {
		count, err := tx.CountWarnings(ctx, w.GuildID, w.UserID)
		if err != nil {
			return err
		}
		if count >= MaxWarningsPerUser {
			return fault.Input("this member already has the maximum of %d warnings", MaxWarningsPerUser)
		}
		if _, err := tx.exec(ctx, "add warning", `
			INSERT INTO warnings (guild_id, user_id, warning_id, reason, moderator_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, w.GuildID, w.UserID, w.WarningID, w.Reason, w.ModeratorID, w.CreatedAt); err != nil {
			return err
		}
		total = count + 1
		return nil
	})
	return total, err
}

func (c conn) CountWarnings(ctx context.Context, guildID, userID string) (int, error) {
	return c.count(ctx, "count warnings", `SELECT COUNT(*) FROM warnings WHERE guild_id = ? AND user_id = ?`, guildID, userID)
}

func (c conn) ListWarnings(ctx context.Context, guildID, userID string) ([]Warning, error) {
	var warnings []Warning
	err := c.all(ctx, "list warnings", &warnings, `
		SELECT guild_id, user_id, warning_id, reason, moderator_id, created_at
		FROM warnings WHERE guild_id = ? AND user_id = ?
		ORDER BY created_at, warning_id
	`, guildID, userID)
	return warnings, err
}

func (c conn) RemoveWarning(ctx context.Context, guildID, userID, warningID string) (bool, error) {
	n, err := c.exec(ctx, "remove warning", `DELETE FROM warnings WHERE guild_id = ? AND user_id = ? AND warning_id = ?`, guildID, userID, warningID)
	return n > 0, err
}

func (c conn) ClearWarnings(ctx context.Context, guildID, userID string) (int64, error) {
	return c.exec(ctx, "clear warnings", `DELETE FROM warnings WHERE guild_id = ? AND user_id = ?`, guildID, userID)
}

type PunishmentAction string

const (
	PunishMute    PunishmentAction = "mute"
	PunishTempban PunishmentAction = "tempban"
	PunishKick    PunishmentAction = "kick"
	PunishBan     PunishmentAction = "ban"
)

func ParsePunishmentAction(value string) (PunishmentAction, error) {
	switch PunishmentAction(strings.ToLower(value)) {
	case PunishMute, PunishTempban, PunishKick, PunishBan:
		return PunishmentAction(strings.ToLower(value)), nil
	}
	return "", fault.Input("unknown punishment %q, expected mute, tempban, kick or ban", value)
}

// NeedsDuration reports whether the action is time bounded.
func (a PunishmentAction) NeedsDuration() bool {
	return a == PunishMute || a == PunishTempban
}

type PunishmentPolicy struct {
	GuildID         string           `db:"guild_id"`
	WarnCount       int              `db:"warn_count"`
	Action          PunishmentAction `db:"action"`
	DurationSeconds int64            `db:"duration_seconds"`
}

// SetPunishmentPolicy adds or replaces the policy for its warning count.
func (s *Store) SetPunishmentPolicy(ctx context.Context, p PunishmentPolicy) error {
	if p.WarnCount < 1 || p.WarnCount > MaxWarningsPerUser {
		return fault.Input("warning count must be between 1 and %d", MaxWarningsPerUser)
	}
	if _, err := ParsePunishmentAction(string(p.Action)); err != nil {
		return err
	}
	if p.Action.NeedsDuration() && p.DurationSeconds <= 0 {
		return fault.Input("%s requires a duration", p.Action)
	}
	return s.Tx(ctx, func(tx *Tx) error {
		_, exists, err := tx.PunishmentPolicy(ctx, p.GuildID, p.WarnCount)
		if err != nil {
			return err
		}
		if !exists {
			count, err := tx.count(ctx, "count policies", `SELECT COUNT(*) FROM punishment_policies WHERE guild_id = ?`, p.GuildID)
			if err != nil {
				return err
			}
			if count >= MaxPoliciesPerGuild {
				return fault.Input("a server can have at most %d punishment rules", MaxPoliciesPerGuild)
			}
		}
		_, err = tx.exec(ctx, "set punishment policy", `
			INSERT INTO punishment_policies (guild_id, warn_count, action, duration_seconds)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(guild_id, warn_count) DO UPDATE SET
				action = excluded.action,
				duration_seconds = excluded.duration_seconds
		`, p.GuildID, p.WarnCount, string(p.Action), p.DurationSeconds)
		return err
	})
}

func (c conn) PunishmentPolicy(ctx context.Context, guildID string, warnCount int) (PunishmentPolicy, bool, error) {
	var p PunishmentPolicy
	found, err := c.get(ctx, "get punishment policy", &p, `
		SELECT guild_id, warn_count, action, duration_seconds
		FROM punishment_policies WHERE guild_id = ? AND warn_count = ?
	`, guildID, warnCount)
	if err != nil || !found {
		return p, found, err
	}
	if _, err := ParsePunishmentAction(string(p.Action)); err != nil {
		return p, false, fault.Wrap(fault.IntegrityViolation, err, "stored punishment policy")
	}
	return p, true, nil
}

func (c conn) ListPunishmentPolicies(ctx context.Context, guildID string) ([]PunishmentPolicy, error) {
	var policies []PunishmentPolicy
	err := c.all(ctx, "list punishment policies", &policies, `
		SELECT guild_id, warn_count, action, duration_seconds
		FROM punishment_policies WHERE guild_id = ? ORDER BY warn_count
	`, guildID)
	return policies, err
}

func (c conn) DeletePunishmentPolicy(ctx context.Context, guildID string, warnCount int) (bool, error) {
	n, err := c.exec(ctx, "delete punishment policy", `DELETE FROM punishment_policies WHERE guild_id = ? AND warn_count = ?`, guildID, warnCount)
	return n > 0, err
}

type GlobalBan struct {
	UserID    string `db:"user_id"`
	Reason    string `db:"reason"`
	CreatedAt int64  `db:"created_at"`
}

func (c conn) AddGlobalBan(ctx context.Context, ban GlobalBan) error {
	_, err := c.exec(ctx, "add global ban", `
		INSERT INTO global_bans (user_id, reason, created_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET reason = excluded.reason
	`, ban.UserID, ban.Reason, ban.CreatedAt)
	return err
}

func (c conn) RemoveGlobalBan(ctx context.Context, userID string) (bool, error) {
	n, err := c.exec(ctx, "remove global ban", `DELETE FROM global_bans WHERE user_id = ?`, userID)
	return n > 0, err
}

func (c conn) GlobalBan(ctx context.Context, userID string) (GlobalBan, bool, error) {
	var ban GlobalBan
	found, err := c.get(ctx, "get global ban", &ban, `SELECT user_id, reason, created_at FROM global_bans WHERE user_id = ?`, userID)
	return ban, found, err
}

func (c conn) ListGlobalBans(ctx context.Context) ([]GlobalBan, error) {
	var bans []GlobalBan
	err := c.all(ctx, "list global bans", &bans, `SELECT user_id, reason, created_at FROM global_bans ORDER BY created_at`)
	return bans, err
}

func (c conn) AddWordBlock(ctx context.Context, guildID, word string) error {
	_, err := c.exec(ctx, "add word block", `
		INSERT INTO word_blocks (guild_id, word) VALUES (?, ?)
		ON CONFLICT(guild_id, word) DO NOTHING
	`, guildID, strings.ToLower(word))
	return err
}

func (c conn) RemoveWordBlock(ctx context.Context, guildID, word string) (bool, error) {
	n, err := c.exec(ctx, "remove word block", `DELETE FROM word_blocks WHERE guild_id = ? AND word = ?`, guildID, strings.ToLower(word))
	return n > 0, err
}

func (c conn) ListWordBlocks(ctx context.Context, guildID string) ([]string, error) {
	var words []string
	err := c.all(ctx, "list word blocks", &words, `SELECT word FROM word_blocks WHERE guild_id = ? ORDER BY word`, guildID)
	return words, err
}
