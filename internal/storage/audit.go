package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID        string `db:"id"`
	GuildID   string `db:"guild_id"`
	UserID    string `db:"user_id"`
	Level     string `db:"level"`
	Event     string `db:"event"`
	Details   string `db:"details"`
	CreatedAt int64  `db:"created_at"`
}

func (c conn) AddAuditLog(ctx context.Context, log AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	_, err := c.exec(ctx, "add audit log", `
		INSERT INTO audit_logs (id, guild_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, log.ID, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt)
	return err
}

func (c conn) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	var logs []AuditLog
	err := c.all(ctx, "list audit logs", &logs, `
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`, guildID, since.Unix())
	return logs, err
}

func (c conn) CleanupAuditLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	return c.exec(ctx, "cleanup audit logs", `DELETE FROM audit_logs WHERE created_at < ?`, cutoff.Unix())
}
