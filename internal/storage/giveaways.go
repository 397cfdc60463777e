package storage

import (
	"context"
	"strconv"

	"guildwarden/internal/fault"
)

type RequirementKind string

const (
	RequireNone    RequirementKind = ""
	RequireLevel   RequirementKind = "level"
	RequireRole    RequirementKind = "role"
	RequireInvites RequirementKind = "invites"
)

type Giveaway struct {
	GuildID          string          `db:"guild_id"`
	Reward           string          `db:"reward"`
	ChannelID        string          `db:"channel_id"`
	MessageID        string          `db:"message_id"`
	EndTime          int64           `db:"end_time"`
	Winners          int             `db:"winners"`
	HostID           string          `db:"host_id"`
	RequirementKind  RequirementKind `db:"requirement_kind"`
	RequirementValue string          `db:"requirement_value"`
}

// Requirement is the closed set of entry gates a giveaway may carry.
type Requirement struct {
	Kind      RequirementKind
	Threshold int
	RoleID    string
}

func (g Giveaway) Requirement() (Requirement, error) {
	switch g.RequirementKind {
	case RequireNone:
		return Requirement{}, nil
	case RequireRole:
		return Requirement{Kind: RequireRole, RoleID: g.RequirementValue}, nil
	case RequireLevel, RequireInvites:
		n, err := strconv.Atoi(g.RequirementValue)
		if err != nil || n < 0 {
			return Requirement{}, fault.Newf(fault.IntegrityViolation, "giveaway %q has malformed %s requirement %q", g.Reward, g.RequirementKind, g.RequirementValue)
		}
		return Requirement{Kind: g.RequirementKind, Threshold: n}, nil
	default:
		return Requirement{}, fault.Newf(fault.IntegrityViolation, "giveaway %q has unknown requirement %q", g.Reward, g.RequirementKind)
	}
}

func (c conn) InsertGiveaway(ctx context.Context, g Giveaway) error {
	_, err := c.exec(ctx, "insert giveaway", `
		INSERT INTO giveaways (guild_id, reward, channel_id, message_id, end_time, winners, host_id, requirement_kind, requirement_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.GuildID, g.Reward, g.ChannelID, g.MessageID, g.EndTime, g.Winners, g.HostID, string(g.RequirementKind), g.RequirementValue)
	return err
}

const giveawayColumns = `guild_id, reward, channel_id, message_id, end_time, winners, host_id, requirement_kind, requirement_value`

func (c conn) Giveaway(ctx context.Context, guildID, reward string) (Giveaway, bool, error) {
	var g Giveaway
	found, err := c.get(ctx, "get giveaway", &g, `SELECT `+giveawayColumns+` FROM giveaways WHERE guild_id = ? AND reward = ?`, guildID, reward)
	return g, found, err
}

func (c conn) GiveawayByMessage(ctx context.Context, guildID, messageID string) (Giveaway, bool, error) {
	var g Giveaway
	found, err := c.get(ctx, "get giveaway by message", &g, `SELECT `+giveawayColumns+` FROM giveaways WHERE guild_id = ? AND message_id = ?`, guildID, messageID)
	return g, found, err
}

func (c conn) ListGiveaways(ctx context.Context, guildID string) ([]Giveaway, error) {
	var gs []Giveaway
	err := c.all(ctx, "list giveaways", &gs, `SELECT `+giveawayColumns+` FROM giveaways WHERE guild_id = ? ORDER BY end_time`, guildID)
	return gs, err
}

func (c conn) SetGiveawayEnd(ctx context.Context, guildID, reward string, endTime int64) (bool, error) {
	n, err := c.exec(ctx, "set giveaway end", `UPDATE giveaways SET end_time = ? WHERE guild_id = ? AND reward = ?`, endTime, guildID, reward)
	return n > 0, err
}

func (c conn) DeleteGiveaway(ctx context.Context, guildID, reward string) (bool, error) {
	n, err := c.exec(ctx, "delete giveaway", `DELETE FROM giveaways WHERE guild_id = ? AND reward = ?`, guildID, reward)
	return n > 0, err
}

type ReactionRole struct {
	GuildID   string `db:"guild_id"`
	ChannelID string `db:"channel_id"`
	MessageID string `db:"message_id"`
	Emoji     string `db:"emoji"`
	RoleID    string `db:"role_id"`
}

func (c conn) AddReactionRole(ctx context.Context, rr ReactionRole) error {
	_, err := c.exec(ctx, "add reaction role", `
		INSERT INTO reaction_roles (guild_id, channel_id, message_id, emoji, role_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, message_id, emoji, role_id) DO NOTHING
	`, rr.GuildID, rr.ChannelID, rr.MessageID, rr.Emoji, rr.RoleID)
	return err
}

func (c conn) RemoveReactionRole(ctx context.Context, guildID, messageID, emoji, roleID string) (bool, error) {
	n, err := c.exec(ctx, "remove reaction role", `
		DELETE FROM reaction_roles WHERE guild_id = ? AND message_id = ? AND emoji = ? AND role_id = ?
	`, guildID, messageID, emoji, roleID)
	return n > 0, err
}

func (c conn) ReactionRolesForMessage(ctx context.Context, guildID, messageID string) ([]ReactionRole, error) {
	var rrs []ReactionRole
	err := c.all(ctx, "reaction roles for message", &rrs, `
		SELECT guild_id, channel_id, message_id, emoji, role_id
		FROM reaction_roles WHERE guild_id = ? AND message_id = ?
		ORDER BY emoji, role_id
	`, guildID, messageID)
	return rrs, err
}

func (c conn) ListReactionRoles(ctx context.Context, guildID string) ([]ReactionRole, error) {
	var rrs []ReactionRole
	err := c.all(ctx, "list reaction roles", &rrs, `
		SELECT guild_id, channel_id, message_id, emoji, role_id
		FROM reaction_roles WHERE guild_id = ?
		ORDER BY message_id, emoji, role_id
	`, guildID)
	return rrs, err
}

func (c conn) DeleteReactionRolesForMessage(ctx context.Context, guildID, messageID string) (int64, error) {
	return c.exec(ctx, "delete reaction roles for message", `DELETE FROM reaction_roles WHERE guild_id = ? AND message_id = ?`, guildID, messageID)
}
