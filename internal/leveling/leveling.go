// Package leveling accrues experience per message and hands out reward
// roles and level-up alerts.
package leveling

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"guildwarden/internal/core"
	"guildwarden/internal/fault"
	"guildwarden/internal/platform"
	"guildwarden/internal/render"
	"guildwarden/internal/storage"
)

const (
	BaseGain      = 5
	XPPerLevel    = 50
	MaxMultiplier = 1000
	DefaultAlert  = "{user} reached level {level}!"
)

var metricLevelUps = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guildwarden_leveling_level_ups_total",
	Help: "Level-ups awarded across all guilds",
})

// Threshold is the experience needed to leave level.
func Threshold(level int) int {
	return level * XPPerLevel
}

// Gain is the experience a message earns: the best multiplier among the
// member's roles, never below BaseGain.
func Gain(multipliers storage.Multipliers, roleIDs []string) int {
	gain := BaseGain
	for _, roleID := range roleIDs {
		if m, ok := multipliers[roleID]; ok && m > gain {
			gain = m
		}
	}
	return gain
}

// Apply adds gain to counter. It returns the levels reached, in order.
func Apply(counter *storage.LevelingCounter, gain int) []int {
	if counter.Level < 1 {
		counter.Level = 1
	}
	counter.XP += gain
	var reached []int
	for counter.XP >= Threshold(counter.Level) {
		counter.XP = 0
		counter.Level++
		reached = append(reached, counter.Level)
	}
	return reached
}

type Service struct {
	*core.Bundle
	logger *zap.Logger

	mu     sync.Mutex
	warned map[string]struct{}
}

func New(b *core.Bundle) *Service {
	return &Service{Bundle: b, logger: b.Logger.Named("leveling"), warned: make(map[string]struct{})}
}

// Message is the part of an inbound message accrual looks at.
type Message struct {
	GuildID   string
	ChannelID string
	UserID    string
	RoleIDs   []string
}

// Accrue credits one message and returns the levels reached.
func (s *Service) Accrue(ctx context.Context, msg Message) ([]int, error) {
	profile, err := s.Store.LevelingProfile(ctx, msg.GuildID)
	if err != nil {
		return nil, err
	}

	var reached []int
	err = s.Store.Tx(ctx, func(tx *storage.Tx) error {
		counter, found, err := tx.LevelingCounter(ctx, msg.GuildID, msg.UserID)
		if err != nil {
			return err
		}
		if !found {
			counter = storage.LevelingCounter{GuildID: msg.GuildID, UserID: msg.UserID, Level: 1}
		}
		reached = Apply(&counter, Gain(profile.Multipliers, msg.RoleIDs))
		return tx.UpsertLevelingCounter(ctx, counter)
	})
	if err != nil {
		return nil, err
	}

	for _, level := range reached {
		metricLevelUps.Inc()
		s.levelUp(ctx, profile, msg, level)
	}
	return reached, nil
}

func (s *Service) levelUp(ctx context.Context, profile storage.LevelingProfile, msg Message, level int) {
	if roleID, ok := profile.RewardRoles[level]; ok {
		if err := s.Platform.AddRole(ctx, msg.GuildID, msg.UserID, roleID); err != nil {
			s.rewardFailed(ctx, msg, roleID, level, err)
		}
	}

	alert := profile.Alert
	if alert.Mode == "" {
		return
	}
	template := alert.Template
	if template == "" {
		template = DefaultAlert
	}
	content := render.Template(template, map[string]string{
		"user":  render.Mention(msg.UserID),
		"level": strconv.Itoa(level),
	})
	if alert.Mode == storage.AlertChannel || alert.Mode == storage.AlertBoth {
		channelID := alert.ChannelID
		if channelID == "" {
			channelID = msg.ChannelID
		}
		s.Notify(ctx, channelID, &discordgo.MessageSend{Content: content, AllowedMentions: platform.UserMentions()})
	}
	if alert.Mode == storage.AlertDM || alert.Mode == storage.AlertBoth {
		s.DM(ctx, msg.UserID, platform.Text(content))
	}
}

// rewardFailed posts a notice the first time a reward role cannot be granted.
func (s *Service) rewardFailed(ctx context.Context, msg Message, roleID string, level int, err error) {
	if !fault.Is(err, fault.PermissionDenied) {
		s.logger.Warn("granting reward role failed", zap.String("guild_id", msg.GuildID), zap.String("role_id", roleID), zap.Error(err))
		return
	}
	key := msg.GuildID + ":" + roleID
	s.mu.Lock()
	_, seen := s.warned[key]
	s.warned[key] = struct{}{}
	s.mu.Unlock()
	if seen {
		return
	}
	embed := s.Embeds.Warning("Reward role not granted", fmt.Sprintf("I could not give %s for level %d. Move my role above it and check Manage Roles.", render.RoleMention(roleID), level))
	s.Notify(ctx, msg.ChannelID, platform.Embed(embed))
}

type Standing struct {
	Counter storage.LevelingCounter
	Rank    int
}

func (s *Service) Rank(ctx context.Context, guildID, userID string) (Standing, error) {
	counter, found, err := s.Store.LevelingCounter(ctx, guildID, userID)
	if err != nil {
		return Standing{}, err
	}
	if !found {
		return Standing{Counter: storage.LevelingCounter{GuildID: guildID, UserID: userID, Level: 1}}, nil
	}
	rank, err := s.Store.LevelingRank(ctx, guildID, userID)
	if err != nil {
		return Standing{}, err
	}
	return Standing{Counter: counter, Rank: rank}, nil
}

func (s *Service) Top(ctx context.Context, guildID string, n int) ([]storage.LevelingCounter, error) {
	if n < 1 || n > 25 {
		n = 10
	}
	return s.Store.TopLevelingCounters(ctx, guildID, n)
}

// Reset clears one member, or every member when userID is empty.
func (s *Service) Reset(ctx context.Context, guildID, userID string) (int64, error) {
	if userID == "" {
		return s.Store.ResetLevelingCounters(ctx, guildID)
	}
	removed, err := s.Store.ResetLevelingCounter(ctx, guildID, userID)
	if removed {
		return 1, err
	}
	return 0, err
}

func (s *Service) updateProfile(ctx context.Context, guildID string, mutate func(*storage.LevelingProfile) error) (storage.LevelingProfile, error) {
	var updated storage.LevelingProfile
	err := s.Store.Tx(ctx, func(tx *storage.Tx) error {
		profile, err := tx.LevelingProfile(ctx, guildID)
		if err != nil {
			return err
		}
		if profile.RewardRoles == nil {
			profile.RewardRoles = storage.RewardRoles{}
		}
		if profile.Multipliers == nil {
			profile.Multipliers = storage.Multipliers{}
		}
		if err := mutate(&profile); err != nil {
			return err
		}
		updated = profile
		return tx.UpsertLevelingProfile(ctx, profile)
	})
	return updated, err
}

// SetReward grants roleID at level. An empty roleID removes the reward.
func (s *Service) SetReward(ctx context.Context, guildID string, level int, roleID string) error {
	if level < 2 {
		return fault.Input("rewards start at level 2")
	}
	_, err := s.updateProfile(ctx, guildID, func(p *storage.LevelingProfile) error {
		if roleID == "" {
			if _, ok := p.RewardRoles[level]; !ok {
				return fault.Missing("there is no reward for level %d", level)
			}
			delete(p.RewardRoles, level)
			return nil
		}
		p.RewardRoles[level] = roleID
		return nil
	})
	return err
}

// SetMultiplier sets the per-message gain for holders of roleID. Zero removes it.
func (s *Service) SetMultiplier(ctx context.Context, guildID, roleID string, gain int) error {
	if gain < 0 || gain > MaxMultiplier {
		return fault.Input("the gain must be between 0 and %d", MaxMultiplier)
	}
	_, err := s.updateProfile(ctx, guildID, func(p *storage.LevelingProfile) error {
		if gain == 0 {
			delete(p.Multipliers, roleID)
			return nil
		}
		p.Multipliers[roleID] = gain
		return nil
	})
	return err
}

// SetAlert configures level-up alerts. An empty mode disables them.
func (s *Service) SetAlert(ctx context.Context, guildID string, mode storage.AlertMode, channelID, template string) error {
	switch mode {
	case "", storage.AlertChannel, storage.AlertDM, storage.AlertBoth:
	default:
		return fault.Input("unknown alert mode %q, expected channel, dm or both", mode)
	}
	_, err := s.updateProfile(ctx, guildID, func(p *storage.LevelingProfile) error {
		if mode == "" {
			p.Alert = storage.LevelAlert{}
			return nil
		}
		p.Alert = storage.LevelAlert{Mode: mode, ChannelID: channelID, Template: template}
		return nil
	})
	return err
}

func (s *Service) Profile(ctx context.Context, guildID string) (storage.LevelingProfile, error) {
	return s.Store.LevelingProfile(ctx, guildID)
}
