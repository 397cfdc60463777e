package config

import (
	"os"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken    string          `yaml:"discord_token" env:"DISCORD_TOKEN"`
	ShardCount      int             `yaml:"shard_count" env:"SHARD_COUNT"`
	ShardID         int             `yaml:"shard_id" env:"SHARD_ID"`
	HTTPTimeout     time.Duration   `yaml:"http_timeout" env:"HTTP_TIMEOUT"`
	OperatorChannel string          `yaml:"operator_channel" env:"OPERATOR_CHANNEL"`
	OwnerIDs        []string        `yaml:"owner_ids" env:"OWNER_IDS" envSeparator:","`
	SupportURL      string          `yaml:"support_url" env:"SUPPORT_URL"`
	InviteURL       string          `yaml:"invite_url" env:"INVITE_URL"`
	LogLevel        string          `yaml:"log_level" env:"LOG_LEVEL"`
	AuditRetention  time.Duration   `yaml:"audit_retention" env:"AUDIT_RETENTION"`
	LogFile         LogFileConfig   `yaml:"log_file" envPrefix:"LOG_FILE_"`
	Database        DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Features        FeatureConfig   `yaml:"features" envPrefix:"FEATURE_"`
	Health          HealthConfig    `yaml:"health" envPrefix:"HEALTH_"`
	Scheduler       SchedulerConfig `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	Feeds           FeedConfig      `yaml:"feeds" envPrefix:"FEEDS_"`
	EmbedColors     EmbedColors     `yaml:"embed_colors" envPrefix:"EMBED_COLOR_"`
}

type LogFileConfig struct {
	Enabled    bool   `yaml:"enabled" env:"ENABLED"`
	Path       string `yaml:"path" env:"PATH"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

type FeatureConfig struct {
	LazyMemberChunking bool `yaml:"lazy_member_chunking" env:"LAZY_MEMBER_CHUNKING"`
	ShardSanityCheck   bool `yaml:"shard_sanity_check" env:"SHARD_SANITY_CHECK"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
}

type SchedulerConfig struct {
	ArmPacing  time.Duration `yaml:"arm_pacing" env:"ARM_PACING"`
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
}

type FeedConfig struct {
	PollDelay time.Duration `yaml:"poll_delay" env:"POLL_DELAY"`
	UserAgent string        `yaml:"user_agent" env:"USER_AGENT"`
}

type EmbedColors struct {
	Action  int `yaml:"action" env:"ACTION"`
	Warning int `yaml:"warning" env:"WARNING"`
	Error   int `yaml:"error" env:"ERROR"`
	Success int `yaml:"success" env:"SUCCESS"`
}

func DefaultConfig() Config {
	return Config{
		ShardCount:     1,
		HTTPTimeout:    300 * time.Second,
		LogLevel:       "info",
		AuditRetention: 90 * 24 * time.Hour,
		LogFile: LogFileConfig{
			Path:       "logs/guildwarden.log",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "/data/guildwarden.db"},
		Health:   HealthConfig{Enabled: false, Addr: ":8080"},
		Scheduler: SchedulerConfig{
			ArmPacing:  500 * time.Millisecond,
			RetryDelay: 30 * time.Second,
		},
		Feeds: FeedConfig{
			PollDelay: 6 * time.Second,
			UserAgent: "guildwarden-feeds/1.0",
		},
		EmbedColors: EmbedColors{
			Action:  0xF59E0B,
			Warning: 0xEF4444,
			Error:   0xF97316,
			Success: 0x22C55E,
		},
	}
}

func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.WrapIf(err, "load .env")
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFile(path)
}

// LoadFile reads path when it exists, then applies environment overrides.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.WrapIf(err, "parse "+path)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, errors.WrapIf(err, "read "+path)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.WrapIf(err, "environment overrides")
	}

	cfg.Database.Driver = normalizeDriver(cfg.Database.Driver)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}
	if c.ShardCount < 1 {
		return errors.Errorf("shard_count must be at least 1, got %d", c.ShardCount)
	}
	if c.ShardID < 0 || c.ShardID >= c.ShardCount {
		return errors.Errorf("shard_id %d out of range for %d shards", c.ShardID, c.ShardCount)
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("http_timeout must be positive")
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	return nil
}

func (c Config) IsOwner(userID string) bool {
	for _, id := range c.OwnerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func normalizeDriver(value string) string {
	switch strings.ToLower(value) {
	case "pgx", "postgres", "postgresql":
		return "pgx"
	default:
		return "sqlite"
	}
}

func BuildLogger(level string, file LogFileConfig) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.MessageKey = "message"
	encoderCfg.LevelKey = "level"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), lvl),
	}
	if file.Enabled && file.Path != "" {
		rotating := &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotating), lvl))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
