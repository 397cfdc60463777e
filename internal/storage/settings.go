package storage

import (
	"context"
)

type LinkPunishment string

const (
	LinkPunishNone LinkPunishment = "none"
	LinkPunishWarn LinkPunishment = "warn"
	LinkPunishKick LinkPunishment = "kick"
	LinkPunishBan  LinkPunishment = "ban"
)

func ParseLinkPunishment(value string) (LinkPunishment, bool) {
	switch LinkPunishment(value) {
	case LinkPunishNone, LinkPunishWarn, LinkPunishKick, LinkPunishBan:
		return LinkPunishment(value), true
	}
	return "", false
}

type GuildSettings struct {
	GuildID           string         `db:"guild_id"`
	LinkFilter        bool           `db:"link_filter"`
	LinkPunishment    LinkPunishment `db:"link_punishment"`
	FloodFilter       bool           `db:"flood_filter"`
	FloodLimit        int            `db:"flood_limit"`
	SuggestionChannel string         `db:"suggestion_channel"`
	SuggestionUp      string         `db:"suggestion_up"`
	SuggestionDown    string         `db:"suggestion_down"`
	SuggestionThreads bool           `db:"suggestion_threads"`
	LogChannel        string         `db:"log_channel"`
	WelcomeChannel    string         `db:"welcome_channel"`
	WelcomeMessage    string         `db:"welcome_message"`
	GoodbyeChannel    string         `db:"goodbye_channel"`
	GoodbyeMessage    string         `db:"goodbye_message"`
	StartRole         string         `db:"start_role"`
	GhostPing         bool           `db:"ghost_ping"`
	Leveling          bool           `db:"leveling"`
	WordBlock         bool           `db:"word_block"`
	MusicRoles        StringList     `db:"music_roles"`
}

func DefaultGuildSettings(guildID string) GuildSettings {
	return GuildSettings{
		GuildID:        guildID,
		LinkPunishment: LinkPunishNone,
		FloodLimit:     3,
		SuggestionUp:   "👍",
		SuggestionDown: "👎",
	}
}

// GuildSettings returns the stored row or the defaults for an unknown guild.
func (c conn) GuildSettings(ctx context.Context, guildID string) (GuildSettings, error) {
	settings := DefaultGuildSettings(guildID)
	found, err := c.get(ctx, "get guild settings", &settings, `SELECT * FROM guild_settings WHERE guild_id = ?`, guildID)
	if err != nil {
		return GuildSettings{}, err
	}
	if found {
		fillSettingDefaults(&settings)
	}
	return settings, nil
}

func fillSettingDefaults(settings *GuildSettings) {
	defaults := DefaultGuildSettings(settings.GuildID)
	if settings.SuggestionUp == "" {
		settings.SuggestionUp = defaults.SuggestionUp
	}
	if settings.SuggestionDown == "" {
		settings.SuggestionDown = defaults.SuggestionDown
	}
	if settings.LinkPunishment == "" {
		settings.LinkPunishment = defaults.LinkPunishment
	}
}

func (c conn) UpsertGuildSettings(ctx context.Context, settings GuildSettings) error {
	_, err := c.exec(ctx, "upsert guild settings", `
		INSERT INTO guild_settings (
			guild_id, link_filter, link_punishment, flood_filter, flood_limit,
			suggestion_channel, suggestion_up, suggestion_down, suggestion_threads,
			log_channel, welcome_channel, welcome_message, goodbye_channel, goodbye_message,
			start_role, ghost_ping, leveling, word_block, music_roles
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			link_filter = excluded.link_filter,
			link_punishment = excluded.link_punishment,
			flood_filter = excluded.flood_filter,
			flood_limit = excluded.flood_limit,
			suggestion_channel = excluded.suggestion_channel,
			suggestion_up = excluded.suggestion_up,
			suggestion_down = excluded.suggestion_down,
			suggestion_threads = excluded.suggestion_threads,
			log_channel = excluded.log_channel,
			welcome_channel = excluded.welcome_channel,
			welcome_message = excluded.welcome_message,
			goodbye_channel = excluded.goodbye_channel,
			goodbye_message = excluded.goodbye_message,
			start_role = excluded.start_role,
			ghost_ping = excluded.ghost_ping,
			leveling = excluded.leveling,
			word_block = excluded.word_block,
			music_roles = excluded.music_roles
	`,
		settings.GuildID,
		settings.LinkFilter,
		string(settings.LinkPunishment),
		settings.FloodFilter,
		settings.FloodLimit,
		settings.SuggestionChannel,
		settings.SuggestionUp,
		settings.SuggestionDown,
		settings.SuggestionThreads,
		settings.LogChannel,
		settings.WelcomeChannel,
		settings.WelcomeMessage,
		settings.GoodbyeChannel,
		settings.GoodbyeMessage,
		settings.StartRole,
		settings.GhostPing,
		settings.Leveling,
		settings.WordBlock,
		settings.MusicRoles,
	)
	return err
}

// UpdateGuildSettings applies mutate to the current settings atomically.
func (s *Store) UpdateGuildSettings(ctx context.Context, guildID string, mutate func(*GuildSettings) error) (GuildSettings, error) {
	var updated GuildSettings
	err := s.Tx(ctx, func(tx *Tx) error {
		settings, err := tx.GuildSettings(ctx, guildID)
		if err != nil {
			return err
		}
		if err := mutate(&settings); err != nil {
			return err
		}
		updated = settings
		return tx.UpsertGuildSettings(ctx, settings)
	})
	return updated, err
}
