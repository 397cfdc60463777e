package storage

import (
	"context"
	"database/sql/driver"
)

type AlertMode string

const (
	AlertChannel AlertMode = "channel"
	AlertDM      AlertMode = "dm"
	AlertBoth    AlertMode = "both"
)

// LevelAlert is absent when Mode is empty.
type LevelAlert struct {
	Mode      AlertMode `json:"mode,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	Template  string    `json:"template,omitempty"`
}

func (a LevelAlert) Value() (driver.Value, error) { return valueJSON(a) }
func (a *LevelAlert) Scan(src interface{}) error {
	*a = LevelAlert{}
	return scanJSON(src, a)
}

type RewardRoles map[int]string

func (r RewardRoles) Value() (driver.Value, error) {
	if r == nil {
		return "{}", nil
	}
	return valueJSON(map[int]string(r))
}

func (r *RewardRoles) Scan(src interface{}) error {
	*r = RewardRoles{}
	return scanJSON(src, (*map[int]string)(r))
}

type Multipliers map[string]int

func (m Multipliers) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return valueJSON(map[string]int(m))
}

func (m *Multipliers) Scan(src interface{}) error {
	*m = Multipliers{}
	return scanJSON(src, (*map[string]int)(m))
}

type LevelingProfile struct {
	GuildID     string      `db:"guild_id"`
	RewardRoles RewardRoles `db:"reward_roles"`
	Alert       LevelAlert  `db:"alert"`
	Multipliers Multipliers `db:"multipliers"`
}

func (c conn) LevelingProfile(ctx context.Context, guildID string) (LevelingProfile, error) {
	profile := LevelingProfile{GuildID: guildID, RewardRoles: RewardRoles{}, Multipliers: Multipliers{}}
	_, err := c.get(ctx, "get leveling profile", &profile, `
		SELECT guild_id, reward_roles, alert, multipliers FROM leveling_profiles WHERE guild_id = ?
	`, guildID)
	return profile, err
}

func (c conn) UpsertLevelingProfile(ctx context.Context, p LevelingProfile) error {
	_, err := c.exec(ctx, "upsert leveling profile", `
		INSERT INTO leveling_profiles (guild_id, reward_roles, alert, multipliers) VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			reward_roles = excluded.reward_roles,
			alert = excluded.alert,
			multipliers = excluded.multipliers
	`, p.GuildID, p.RewardRoles, p.Alert, p.Multipliers)
	return err
}

type LevelingCounter struct {
	GuildID string `db:"guild_id"`
	UserID  string `db:"user_id"`
	Level   int    `db:"level"`
	XP      int    `db:"xp"`
}

func (c conn) LevelingCounter(ctx context.Context, guildID, userID string) (LevelingCounter, bool, error) {
	var counter LevelingCounter
	found, err := c.get(ctx, "get leveling counter", &counter, `
		SELECT guild_id, user_id, level, xp FROM leveling_counters WHERE guild_id = ? AND user_id = ?
	`, guildID, userID)
	return counter, found, err
}

func (c conn) UpsertLevelingCounter(ctx context.Context, counter LevelingCounter) error {
	_, err := c.exec(ctx, "upsert leveling counter", `
		INSERT INTO leveling_counters (guild_id, user_id, level, xp) VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET level = excluded.level, xp = excluded.xp
	`, counter.GuildID, counter.UserID, counter.Level, counter.XP)
	return err
}

func (c conn) TopLevelingCounters(ctx context.Context, guildID string, limit int) ([]LevelingCounter, error) {
	var counters []LevelingCounter
	err := c.all(ctx, "top leveling counters", &counters, `
		SELECT guild_id, user_id, level, xp FROM leveling_counters
		WHERE guild_id = ?
		ORDER BY level DESC, xp DESC, user_id
		LIMIT ?
	`, guildID, limit)
	return counters, err
}

// LevelingRank returns the 1-based position of the user, 0 when unranked.
func (c conn) LevelingRank(ctx context.Context, guildID, userID string) (int, error) {
	counter, found, err := c.LevelingCounter(ctx, guildID, userID)
	if err != nil || !found {
		return 0, err
	}
	ahead, err := c.count(ctx, "leveling rank", `
		SELECT COUNT(*) FROM leveling_counters
		WHERE guild_id = ? AND (level > ? OR (level = ? AND xp > ?))
	`, guildID, counter.Level, counter.Level, counter.XP)
	if err != nil {
		return 0, err
	}
	return ahead + 1, nil
}

func (c conn) ResetLevelingCounter(ctx context.Context, guildID, userID string) (bool, error) {
	n, err := c.exec(ctx, "reset leveling counter", `DELETE FROM leveling_counters WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	return n > 0, err
}

func (c conn) ResetLevelingCounters(ctx context.Context, guildID string) (int64, error) {
	return c.exec(ctx, "reset leveling counters", `DELETE FROM leveling_counters WHERE guild_id = ?`, guildID)
}
