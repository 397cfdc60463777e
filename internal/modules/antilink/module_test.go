package antilink

import (
	"context"
	"testing"

	"guildwarden/internal/core/coretest"
	"guildwarden/internal/moderation"
	"guildwarden/internal/pipeline"
	"guildwarden/internal/storage"
	"guildwarden/internal/warnings"
)

func setup(t *testing.T, punishment storage.LinkPunishment) (*coretest.Env, *pipeline.Chain) {
	t.Helper()
	env := coretest.New(t)
	env.Channel("10")
	env.Fake.AddMember(coretest.GuildID, "7", true)
	_, err := env.Store.UpdateGuildSettings(context.Background(), coretest.GuildID, func(s *storage.GuildSettings) error {
		s.LinkFilter = true
		s.LinkPunishment = punishment
		return nil
	})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	mod := moderation.New(env.Bundle)
	return env, pipeline.New(env.Bundle, nil, New(env.Bundle, mod, warnings.New(env.Bundle, mod)))
}

func TestLinkDeletedAndWarned(t *testing.T) {
	env, chain := setup(t, storage.LinkPunishWarn)
	msg := env.Fake.Post("10", "7", "free stuff at https://example.com/x")

	handledBy, err := chain.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if handledBy != "anti-link" {
		t.Fatalf("expected anti-link to handle, got %q", handledBy)
	}
	for _, m := range env.Fake.Messages("10") {
		if m.ID == msg.ID {
			t.Fatalf("link message should be deleted")
		}
	}
	if len(env.Fake.BotMessages("10")) != 1 {
		t.Fatalf("expected a notice in the channel")
	}
	count, err := env.Store.CountWarnings(context.Background(), coretest.GuildID, "7")
	if err != nil || count != 1 {
		t.Fatalf("expected one warning, got %d (%v)", count, err)
	}
}

func TestLinkKick(t *testing.T) {
	env, chain := setup(t, storage.LinkPunishKick)
	if _, err := chain.Process(context.Background(), env.Fake.Post("10", "7", "join discord.gg/abc")); err != nil {
		t.Fatalf("process: %v", err)
	}
	kicked := env.Fake.Kicked(coretest.GuildID)
	if len(kicked) != 1 || kicked[0] != "7" {
		t.Fatalf("expected the author to be kicked, got %v", kicked)
	}
}

func TestPlainTextPasses(t *testing.T) {
	env, chain := setup(t, storage.LinkPunishBan)
	handledBy, err := chain.Process(context.Background(), env.Fake.Post("10", "7", "no links here."))
	if err != nil || handledBy != "" {
		t.Fatalf("unexpected handling %q (%v)", handledBy, err)
	}
	if env.Fake.Banned(coretest.GuildID, "7") {
		t.Fatalf("plain text must not be punished")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(storage.GuildSettings{}); got != "off" {
		t.Fatalf("got %q", got)
	}
	if got := Describe(storage.GuildSettings{LinkFilter: true, LinkPunishment: storage.LinkPunishKick}); got != "on, punishment kick" {
		t.Fatalf("got %q", got)
	}
}
