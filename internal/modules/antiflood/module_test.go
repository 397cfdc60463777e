package antiflood

import (
	"context"
	"testing"
	"time"

	"guildwarden/internal/core/coretest"
	"guildwarden/internal/pipeline"
	"guildwarden/internal/storage"
)

func setup(t *testing.T, limit int) (*coretest.Env, *pipeline.Chain) {
	t.Helper()
	env := coretest.New(t)
	env.Channel("10")
	_, err := env.Store.UpdateGuildSettings(context.Background(), coretest.GuildID, func(s *storage.GuildSettings) error {
		s.FloodFilter = true
		s.FloodLimit = limit
		return nil
	})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	return env, pipeline.New(env.Bundle, nil, New(env.Bundle))
}

func TestFloodThresholdDeletesBeyondLimit(t *testing.T) {
	env, chain := setup(t, 3)
	env.Fake.AddMember(coretest.GuildID, "7", true)

	var posted []string
	for i := 0; i < 6; i++ {
		msg := env.Fake.Post("10", "7", "buy my stuff")
		posted = append(posted, msg.ID)
		if _, err := chain.Process(context.Background(), msg); err != nil {
			t.Fatalf("process %d: %v", i+1, err)
		}
		env.Clock.Advance(10 * time.Second)
	}

	remaining := env.Fake.Messages("10")
	if len(remaining) != 3 {
		t.Fatalf("expected 3 messages left, got %d", len(remaining))
	}
	for i, msg := range remaining {
		if msg.ID != posted[i] {
			t.Fatalf("message %d should have survived", i+1)
		}
	}
	if dms := env.Fake.DMs("7"); len(dms) != 3 {
		t.Fatalf("expected one dm per deletion, got %d", len(dms))
	}
	if env.Fake.Banned(coretest.GuildID, "7") || len(env.Fake.Kicked(coretest.GuildID)) != 0 || env.Fake.TimedOutUntil(coretest.GuildID, "7") != nil {
		t.Fatalf("flood control must not punish beyond deletion")
	}
}

func TestFloodCountsAcrossAuthors(t *testing.T) {
	env, chain := setup(t, 2)
	for _, author := range []string{"1", "2", "3"} {
		if _, err := chain.Process(context.Background(), env.Fake.Post("10", author, "same")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if len(env.Fake.Messages("10")) != 2 {
		t.Fatalf("third identical message in the channel should be deleted")
	}
	if len(env.Fake.DMs("3")) != 1 {
		t.Fatalf("the author of the deleted message should be told")
	}
}

func TestFloodWindowExpires(t *testing.T) {
	env, chain := setup(t, 1)
	ctx := context.Background()
	if _, err := chain.Process(ctx, env.Fake.Post("10", "7", "again")); err != nil {
		t.Fatalf("process: %v", err)
	}
	env.Clock.Advance(Window + time.Second)
	handledBy, err := chain.Process(ctx, env.Fake.Post("10", "7", "again"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if handledBy != "" {
		t.Fatalf("expected the window to have expired, handled by %q", handledBy)
	}
}

func TestModeratorsAreExempt(t *testing.T) {
	env, chain := setup(t, 1)
	env.Fake.SetPermissions("7", "10", 1<<13)
	for i := 0; i < 3; i++ {
		if _, err := chain.Process(context.Background(), env.Fake.Post("10", "7", "hi")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if len(env.Fake.Messages("10")) != 3 {
		t.Fatalf("moderator messages must not be deleted")
	}
}

func TestFloodComparesExactContent(t *testing.T) {
	env, chain := setup(t, 1)
	for _, content := range []string{"hello", "HELLO", " hello "} {
		if _, err := chain.Process(context.Background(), env.Fake.Post("10", "7", content)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if n := len(env.Fake.Messages("10")); n != 2 {
		t.Fatalf("only the trimmed repeat should be deleted, %d messages left", n)
	}
}
