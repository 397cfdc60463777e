package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"guildwarden/internal/clock"
	"guildwarden/internal/storage"
)

func TestLogPersistsAndNotifies(t *testing.T) {
	store, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	logger := NewLogger(store, zap.NewNop(), clock.NewFake(now))
	var notified []storage.AuditLog
	logger.SetNotifier(func(_ context.Context, entry storage.AuditLog) {
		notified = append(notified, entry)
	})

	logger.Log(context.Background(), LevelWarn, "g1", "u1", "ban", "reason=spam")

	if len(notified) != 1 || notified[0].Event != "ban" || notified[0].CreatedAt != now.Unix() {
		t.Fatalf("unexpected notifications: %+v", notified)
	}
	logs, err := store.ListAuditLogs(context.Background(), "g1", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Level != LevelWarn || logs[0].ID == "" {
		t.Fatalf("unexpected audit rows: %+v", logs)
	}
}

func TestLogTruncatesDetails(t *testing.T) {
	store, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := NewLogger(store, zap.NewNop(), clock.NewFake(time.Unix(1_700_000_000, 0)))
	var got storage.AuditLog
	logger.SetNotifier(func(_ context.Context, entry storage.AuditLog) { got = entry })

	long := make([]rune, maxDetails+50)
	for i := range long {
		long[i] = 'é'
	}
	logger.Log(context.Background(), LevelInfo, "g1", "", "settings_changed", string(long))

	if n := len([]rune(got.Details)); n != maxDetails {
		t.Fatalf("expected %d runes, got %d", maxDetails, n)
	}
}

func TestPrunerRemovesExpiredRows(t *testing.T) {
	store, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	start := time.Unix(1_700_000_000, 0)
	clk := clock.NewFake(start)
	logger := NewLogger(store, zap.NewNop(), clk)
	logger.Log(context.Background(), LevelInfo, "g1", "u1", "old", "")
	clk.Advance(48 * time.Hour)
	logger.Log(context.Background(), LevelInfo, "g1", "u1", "fresh", "")

	pruner := NewPruner(store, clk, zap.NewNop(), 24*time.Hour)
	if n := pruner.Prune(context.Background()); n != 1 {
		t.Fatalf("expected 1 pruned row, got %d", n)
	}
	logs, err := store.ListAuditLogs(context.Background(), "g1", start.Add(-time.Hour))
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != "fresh" {
		t.Fatalf("unexpected audit rows: %+v", logs)
	}
}
