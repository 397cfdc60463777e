package analytics

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildwarden/internal/clock"
	"guildwarden/internal/fault"
	"guildwarden/internal/platform/platformtest"
	"guildwarden/internal/storage"
)

func newService(t *testing.T) (*Service, *storage.Store, *platformtest.Fake, *clock.Fake) {
	t.Helper()
	store, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "analytics.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	fake := platformtest.New("bot", clk)
	fake.AddChannel(&discordgo.Channel{ID: "ops"})
	return New(store, fake, clk, zap.NewNop(), "ops"), store, fake, clk
}

func TestReportCountsByLevel(t *testing.T) {
	svc, store, _, clk := newService(t)
	ctx := context.Background()
	for _, level := range []string{"INFO", "INFO", "WARN"} {
		if err := store.AddAuditLog(ctx, storage.AuditLog{GuildID: "g1", Level: level, Event: "ban", CreatedAt: clk.Now().Unix()}); err != nil {
			t.Fatalf("add audit log: %v", err)
		}
	}

	report, err := svc.Report(ctx, "g1", clk.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Total != 3 || report.ByLevel["INFO"] != 2 || report.ByEvent["ban"] != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestRateLimitSummaryIsThrottled(t *testing.T) {
	svc, _, fake, clk := newService(t)
	ctx := context.Background()

	svc.RateLimited(ctx, "channels/1/messages", time.Second, false)
	svc.RateLimited(ctx, "channels/1/messages", time.Second, false)
	svc.RateLimited(ctx, "global", time.Second, true)
	if got := len(fake.BotMessages("ops")); got != 1 {
		t.Fatalf("expected a single summary, got %d", got)
	}

	clk.Advance(SummaryInterval)
	svc.RateLimited(ctx, "guilds/1/members", time.Second, false)
	msgs := fake.BotMessages("ops")
	if len(msgs) != 2 {
		t.Fatalf("expected a second summary, got %d", len(msgs))
	}
	if !strings.Contains(msgs[1].Content, "(1 global)") || !strings.Contains(msgs[1].Content, "channels/1/messages") {
		t.Fatalf("unexpected summary: %s", msgs[1].Content)
	}
}

func TestFailureEscalatesIntegrityOnly(t *testing.T) {
	svc, _, fake, _ := newService(t)
	ctx := context.Background()

	svc.Failure(ctx, "giveaway.end", fault.Missing("message gone"))
	svc.Failure(ctx, "giveaway.end", fault.New(fault.Transient, "502"))
	if got := len(fake.BotMessages("ops")); got != 0 {
		t.Fatalf("expected no operator messages, got %d", got)
	}
	svc.Failure(ctx, "giveaway.end", fault.New(fault.IntegrityViolation, "bad row"))
	if got := len(fake.BotMessages("ops")); got != 1 {
		t.Fatalf("expected one operator message, got %d", got)
	}
}
