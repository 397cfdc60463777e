package wordblock

import (
	"context"
	"testing"

	"guildwarden/internal/core/coretest"
	"guildwarden/internal/fault"
	"guildwarden/internal/pipeline"
	"guildwarden/internal/storage"
)

func TestBlockedWordRemoved(t *testing.T) {
	env := coretest.New(t)
	env.Channel("10")
	ctx := context.Background()
	module := New(env.Bundle)
	if _, err := env.Store.UpdateGuildSettings(ctx, coretest.GuildID, func(s *storage.GuildSettings) error {
		s.WordBlock = true
		return nil
	}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	word, err := module.Add(ctx, coretest.GuildID, "Raciste")
	if err != nil || word != "raciste" {
		t.Fatalf("add: %q %v", word, err)
	}
	chain := pipeline.New(env.Bundle, nil, module)

	handledBy, err := chain.Process(ctx, env.Fake.Post("10", "7", "ce message est RACISTÉ"))
	if err != nil || handledBy != "word-block" {
		t.Fatalf("expected word-block, got %q (%v)", handledBy, err)
	}
	handledBy, err = chain.Process(ctx, env.Fake.Post("10", "7", "bonjour tout le monde"))
	if err != nil || handledBy != "" {
		t.Fatalf("safe message handled by %q (%v)", handledBy, err)
	}
}

func TestAddRejectsPhrases(t *testing.T) {
	env := coretest.New(t)
	module := New(env.Bundle)
	if _, err := module.Add(context.Background(), coretest.GuildID, "two words"); !fault.Is(err, fault.UserInput) {
		t.Fatalf("expected input error, got %v", err)
	}
	if err := module.Remove(context.Background(), coretest.GuildID, "never"); !fault.Is(err, fault.EntityMissing) {
		t.Fatalf("expected missing error, got %v", err)
	}
}

func TestNormalizeText(t *testing.T) {
	if got := NormalizeText("Ça Élève"); got != "ca eleve" {
		t.Fatalf("got %q", got)
	}
}
