package storage

import (
	"context"
	"database/sql/driver"
	"sort"
)

type InviteUse struct {
	Code      string `json:"code"`
	Uses      int    `json:"uses"`
	InviterID string `json:"inviter"`
}

type InviteUses []InviteUse

func (u InviteUses) Value() (driver.Value, error) {
	if u == nil {
		return "[]", nil
	}
	return valueJSON([]InviteUse(u))
}

func (u *InviteUses) Scan(src interface{}) error {
	*u = nil
	return scanJSON(src, (*[]InviteUse)(u))
}

// InviteNotify is absent when ChannelID is empty.
type InviteNotify struct {
	ChannelID     string `json:"channel_id,omitempty"`
	JoinTemplate  string `json:"join_template,omitempty"`
	LeaveTemplate string `json:"leave_template,omitempty"`
}

func (n InviteNotify) Value() (driver.Value, error) { return valueJSON(n) }
func (n *InviteNotify) Scan(src interface{}) error {
	*n = InviteNotify{}
	return scanJSON(src, n)
}

type InviteSnapshot struct {
	GuildID   string       `db:"guild_id"`
	EnabledAt int64        `db:"enabled_at"`
	Invites   InviteUses   `db:"invites"`
	Notify    InviteNotify `db:"notify"`
}

func (c conn) InviteSnapshot(ctx context.Context, guildID string) (InviteSnapshot, bool, error) {
	var snap InviteSnapshot
	found, err := c.get(ctx, "get invite snapshot", &snap, `
		SELECT guild_id, enabled_at, invites, notify FROM invite_snapshots WHERE guild_id = ?
	`, guildID)
	return snap, found, err
}

func (c conn) UpsertInviteSnapshot(ctx context.Context, snap InviteSnapshot) error {
	_, err := c.exec(ctx, "upsert invite snapshot", `
		INSERT INTO invite_snapshots (guild_id, enabled_at, invites, notify) VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			invites = excluded.invites,
			notify = excluded.notify
	`, snap.GuildID, snap.EnabledAt, snap.Invites, snap.Notify)
	return err
}

func (c conn) DeleteInviteSnapshot(ctx context.Context, guildID string) (bool, error) {
	n, err := c.exec(ctx, "delete invite snapshot", `DELETE FROM invite_snapshots WHERE guild_id = ?`, guildID)
	return n > 0, err
}

type InviteLedger struct {
	GuildID string     `db:"guild_id"`
	UserID  string     `db:"user_id"`
	Normal  int        `db:"normal"`
	Left    int        `db:"left_count"`
	Fake    int        `db:"fake"`
	Bonus   int        `db:"bonus"`
	Invited StringList `db:"invited"`
}

func (l InviteLedger) Total() int {
	return (l.Normal - l.Left) + l.Bonus
}

const ledgerColumns = `guild_id, user_id, normal, left_count, fake, bonus, invited`

// InviteLedger returns the stored ledger or an empty one.
func (c conn) InviteLedger(ctx context.Context, guildID, userID string) (InviteLedger, error) {
	ledger := InviteLedger{GuildID: guildID, UserID: userID}
	_, err := c.get(ctx, "get invite ledger", &ledger, `SELECT `+ledgerColumns+` FROM invite_ledgers WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	return ledger, err
}

func (c conn) UpsertInviteLedger(ctx context.Context, l InviteLedger) error {
	_, err := c.exec(ctx, "upsert invite ledger", `
		INSERT INTO invite_ledgers (guild_id, user_id, normal, left_count, fake, bonus, invited)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			normal = excluded.normal,
			left_count = excluded.left_count,
			fake = excluded.fake,
			bonus = excluded.bonus,
			invited = excluded.invited
	`, l.GuildID, l.UserID, l.Normal, l.Left, l.Fake, l.Bonus, l.Invited)
	return err
}

func (c conn) ListInviteLedgers(ctx context.Context, guildID string) ([]InviteLedger, error) {
	var ledgers []InviteLedger
	err := c.all(ctx, "list invite ledgers", &ledgers, `SELECT `+ledgerColumns+` FROM invite_ledgers WHERE guild_id = ? ORDER BY user_id`, guildID)
	return ledgers, err
}

// LedgerInviting finds the ledger whose invited list holds userID.
func (c conn) LedgerInviting(ctx context.Context, guildID, userID string) (InviteLedger, bool, error) {
	ledgers, err := c.ListInviteLedgers(ctx, guildID)
	if err != nil {
		return InviteLedger{}, false, err
	}
	for _, l := range ledgers {
		if l.Invited.Contains(userID) {
			return l, true, nil
		}
	}
	return InviteLedger{}, false, nil
}

func (c conn) TopInviteLedgers(ctx context.Context, guildID string, limit int) ([]InviteLedger, error) {
	ledgers, err := c.ListInviteLedgers(ctx, guildID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ledgers, func(i, j int) bool {
		return ledgers[i].Total() > ledgers[j].Total()
	})
	if limit > 0 && len(ledgers) > limit {
		ledgers = ledgers[:limit]
	}
	return ledgers, nil
}

func (c conn) DeleteInviteLedgers(ctx context.Context, guildID string) (int64, error) {
	return c.exec(ctx, "delete invite ledgers", `DELETE FROM invite_ledgers WHERE guild_id = ?`, guildID)
}
