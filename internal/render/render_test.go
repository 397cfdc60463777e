package render

import (
	"testing"
	"time"

	"guildwarden/internal/clock"
	"guildwarden/internal/config"
	"guildwarden/internal/fault"
)

func TestTemplate(t *testing.T) {
	got := Template("welcome {user} to {server} ({count}) {unknown}", map[string]string{
		"user":   "<@1>",
		"server": "Den",
		"count":  "12",
	})
	if got != "welcome <@1> to Den (12) {unknown}" {
		t.Fatalf("unexpected template output: %s", got)
	}
}

func TestFailureHidesInternalDetail(t *testing.T) {
	e := New(config.DefaultConfig().EmbedColors, clock.NewFake(time.Unix(0, 0)))
	embed := e.Failure("Ban", fault.Denied("I need the Ban Members permission"))
	if embed.Description != "I need the Ban Members permission" {
		t.Fatalf("unexpected description: %s", embed.Description)
	}
	if embed.Color != config.DefaultConfig().EmbedColors.Error {
		t.Fatalf("unexpected color: %x", embed.Color)
	}
	if embed.Timestamp != "1970-01-01T00:00:00Z" {
		t.Fatalf("unexpected timestamp: %s", embed.Timestamp)
	}
}
