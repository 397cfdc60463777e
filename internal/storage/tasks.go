package storage

import (
	"context"
)

type ScheduledTask struct {
	Kind    string `db:"kind"`
	GuildID string `db:"guild_id"`
	Key     string `db:"task_key"`
	FireAt  int64  `db:"fire_at"`
	Payload string `db:"payload"`
}

func (c conn) UpsertScheduledTask(ctx context.Context, t ScheduledTask) error {
	if t.Payload == "" {
		t.Payload = "{}"
	}
	_, err := c.exec(ctx, "upsert scheduled task", `
		INSERT INTO scheduled_tasks (kind, guild_id, task_key, fire_at, payload) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, guild_id, task_key) DO UPDATE SET
			fire_at = excluded.fire_at,
			payload = excluded.payload
	`, t.Kind, t.GuildID, t.Key, t.FireAt, t.Payload)
	return err
}

func (c conn) ScheduledTask(ctx context.Context, kind, guildID, key string) (ScheduledTask, bool, error) {
	var t ScheduledTask
	found, err := c.get(ctx, "get scheduled task", &t, `
		SELECT kind, guild_id, task_key, fire_at, payload FROM scheduled_tasks
		WHERE kind = ? AND guild_id = ? AND task_key = ?
	`, kind, guildID, key)
	return t, found, err
}

func (c conn) DeleteScheduledTask(ctx context.Context, kind, guildID, key string) (bool, error) {
	n, err := c.exec(ctx, "delete scheduled task", `
		DELETE FROM scheduled_tasks WHERE kind = ? AND guild_id = ? AND task_key = ?
	`, kind, guildID, key)
	return n > 0, err
}

func (c conn) ListScheduledTasks(ctx context.Context) ([]ScheduledTask, error) {
	var tasks []ScheduledTask
	err := c.all(ctx, "list scheduled tasks", &tasks, `
		SELECT kind, guild_id, task_key, fire_at, payload FROM scheduled_tasks ORDER BY fire_at
	`)
	return tasks, err
}
