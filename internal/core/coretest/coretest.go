// Package coretest builds a capability bundle over in-memory fakes.
package coretest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guildwarden/internal/clock"
	"guildwarden/internal/config"
	"guildwarden/internal/core"
	"guildwarden/internal/platform/platformtest"
	"guildwarden/internal/storage"
)

const (
	BotID   = "900"
	GuildID = "100"
)

// Start is the fake clock's initial reading.
var Start = time.Unix(1_700_000_000, 0)

type Env struct {
	*core.Bundle
	Fake  *platformtest.Fake
	Clock *clock.Fake
}

// New returns a bundle over a fresh sqlite database in t.TempDir, a fake
// platform holding GuildID and a fake clock at Start.
func New(t *testing.T) *Env {
	t.Helper()
	return Open(t, filepath.Join(t.TempDir(), "guildwarden.db"), clock.NewFake(Start))
}

// Open is New over an explicit database path and clock, for restart tests.
func Open(t *testing.T, path string, clk *clock.Fake) *Env {
	t.Helper()
	store, err := storage.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate())

	fake := platformtest.New(BotID, clk)
	fake.AddGuild(&discordgo.Guild{ID: GuildID, Name: "Den", OwnerID: "1"})

	cfg := config.DefaultConfig()
	cfg.Scheduler.ArmPacing = 0
	cfg.Scheduler.RetryDelay = 10 * time.Second
	return &Env{
		Bundle: core.New(cfg, store, fake, clk, zap.NewNop()),
		Fake:   fake,
		Clock:  clk,
	}
}

// Channel registers a text channel in GuildID.
func (e *Env) Channel(id string) {
	e.Fake.AddChannel(&discordgo.Channel{ID: id, GuildID: GuildID, Name: "chan-" + id, Type: discordgo.ChannelTypeGuildText})
}
