package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileAppliesYAMLOverDefaults(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	path := writeConfig(t, `
discord_token: abc
shard_count: 4
shard_id: 2
http_timeout: 45s
database:
  driver: postgres
  dsn: postgres://localhost/guildwarden
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShardCount != 4 || cfg.ShardID != 2 {
		t.Fatalf("unexpected shards: %d/%d", cfg.ShardID, cfg.ShardCount)
	}
	if cfg.HTTPTimeout != 45*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.HTTPTimeout)
	}
	if cfg.Database.Driver != "pgx" {
		t.Fatalf("expected pgx driver, got %q", cfg.Database.Driver)
	}
	if cfg.Feeds.PollDelay != 6*time.Second {
		t.Fatalf("default poll delay lost: %v", cfg.Feeds.PollDelay)
	}
}

func TestLoadFileEnvironmentWins(t *testing.T) {
	path := writeConfig(t, "discord_token: from-file\n")
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("OWNER_IDS", "1,2")
	t.Setenv("LOG_FILE_ENABLED", "true")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiscordToken != "from-env" {
		t.Fatalf("expected env token, got %q", cfg.DiscordToken)
	}
	if !cfg.IsOwner("2") || cfg.IsOwner("3") {
		t.Fatalf("unexpected owners: %v", cfg.OwnerIDs)
	}
	if !cfg.LogFile.Enabled {
		t.Fatalf("expected log file toggle from env")
	}
}

func TestValidateRejectsBadShard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DiscordToken = "abc"
	cfg.ShardID = 1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected shard validation error")
	}
	cfg.ShardID = 0
	cfg.HTTPTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected timeout validation error")
	}
}

func TestMissingTokenFails(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected missing token error")
	}
}
