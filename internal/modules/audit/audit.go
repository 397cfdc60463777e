// Package audit records tenant-visible events: every moderation action,
// setting change and enforcement failure lands here before being mirrored to
// the tenant log channel.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"guildwarden/internal/clock"
	"guildwarden/internal/storage"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

// maxDetails bounds the stored details; longer text is cut.
const maxDetails = 1024

type Notifier func(context.Context, storage.AuditLog)

type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	clock  clock.Clock

	mu     sync.RWMutex
	notify Notifier
}

func NewLogger(store *storage.Store, logger *zap.Logger, c clock.Clock) *Logger {
	return &Logger{store: store, logger: logger, clock: c}
}

// SetNotifier installs the hook that mirrors entries to the tenant log channel.
func (l *Logger) SetNotifier(notify Notifier) {
	l.mu.Lock()
	l.notify = notify
	l.mu.Unlock()
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	if r := []rune(details); len(r) > maxDetails {
		details = string(r[:maxDetails])
	}
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.clock.Now().Unix(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("persisting audit entry failed", zap.Error(err))
		}
	}

	l.mu.RLock()
	notify := l.notify
	l.mu.RUnlock()
	if notify != nil {
		notify(ctx, entry)
	}

	l.logger.Info("audit",
		zap.String("level", level),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("event", event),
		zap.String("details", details),
	)
}

// Pruner deletes audit rows past the retention period once a day.
type Pruner struct {
	store     *storage.Store
	clock     clock.Clock
	logger    *zap.Logger
	retention time.Duration
	interval  time.Duration
}

func NewPruner(store *storage.Store, c clock.Clock, logger *zap.Logger, retention time.Duration) *Pruner {
	return &Pruner{store: store, clock: c, logger: logger, retention: retention, interval: 24 * time.Hour}
}

func (p *Pruner) String() string { return "audit-pruner" }

// Serve prunes immediately, then every interval until ctx ends. A zero
// retention keeps everything.
func (p *Pruner) Serve(ctx context.Context) error {
	if p.retention <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		p.Prune(ctx)
		if err := clock.Sleep(ctx, p.clock, p.interval); err != nil {
			return err
		}
	}
}

func (p *Pruner) Prune(ctx context.Context) int64 {
	cutoff := p.clock.Now().Add(-p.retention)
	n, err := p.store.CleanupAuditLogs(ctx, cutoff)
	if err != nil {
		p.logger.Warn("pruning audit logs failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		p.logger.Info("pruned audit logs", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
	}
	return n
}
