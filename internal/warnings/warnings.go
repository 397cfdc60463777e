// Package warnings keeps the per-member warning ledger and escalates to the
// punishment configured for the new warning count.
package warnings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guildwarden/internal/core"
	"guildwarden/internal/fault"
	"guildwarden/internal/moderation"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/storage"
	"guildwarden/internal/utils"
)

type Service struct {
	*core.Bundle
	mod    *moderation.Service
	logger *zap.Logger
}

func New(b *core.Bundle, mod *moderation.Service) *Service {
	return &Service{Bundle: b, mod: mod, logger: b.Logger.Named("warnings")}
}

// Escalation is the punishment a warning triggered.
type Escalation struct {
	Policy storage.PunishmentPolicy
	// Err is set when the punishment could not be applied. The warning
	// itself is kept either way.
	Err error
}

type Result struct {
	Warning    storage.Warning
	Count      int
	Escalation *Escalation
}

// Add records a warning and applies the policy for the new count, if any.
func (s *Service) Add(ctx context.Context, guildID, moderatorID, userID, reason string) (Result, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "No reason given"
	}
	w := storage.Warning{
		GuildID:     guildID,
		UserID:      userID,
		WarningID:   fingerprint(),
		Reason:      reason,
		ModeratorID: moderatorID,
		CreatedAt:   s.Clock.Now().Unix(),
	}
	count, err := s.Store.AddWarning(ctx, w)
	if err != nil {
		return Result{}, err
	}
	s.Audit.Log(ctx, audit.LevelWarn, guildID, userID, "warning_added", fmt.Sprintf("id=%s count=%d moderator=%s", w.WarningID, count, moderatorID))

	result := Result{Warning: w, Count: count}
	policy, found, err := s.Store.PunishmentPolicy(ctx, guildID, count)
	if err != nil {
		// The warning stands; a broken policy row must not undo it.
		s.Ops.Failure(ctx, "warnings.policy", err)
		return result, nil
	}
	if !found {
		return result, nil
	}
	result.Escalation = &Escalation{Policy: policy, Err: s.escalate(ctx, policy, userID)}
	if result.Escalation.Err != nil {
		s.logger.Info("escalation not applied", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(result.Escalation.Err))
	}
	return result, nil
}

func (s *Service) escalate(ctx context.Context, p storage.PunishmentPolicy, userID string) error {
	reason := fmt.Sprintf("Reached %d warnings", p.WarnCount)
	d := time.Duration(p.DurationSeconds) * time.Second
	switch p.Action {
	case storage.PunishMute:
		if d > moderation.MaxTimeout {
			d = moderation.MaxTimeout
		}
		return s.mod.Mute(ctx, p.GuildID, "", userID, d, reason)
	case storage.PunishTempban:
		return s.mod.EscalateTempban(ctx, p.GuildID, userID, d, reason)
	case storage.PunishKick:
		return s.mod.Kick(ctx, p.GuildID, "", userID, reason)
	case storage.PunishBan:
		return s.mod.Ban(ctx, p.GuildID, "", userID, reason)
	default:
		return fault.Newf(fault.IntegrityViolation, "unknown punishment %q", p.Action)
	}
}

func (s *Service) Remove(ctx context.Context, guildID, userID, warningID string) error {
	removed, err := s.Store.RemoveWarning(ctx, guildID, userID, warningID)
	if err != nil {
		return err
	}
	if !removed {
		return fault.Missing("no warning with id %s for that member", warningID)
	}
	s.Audit.Log(ctx, audit.LevelInfo, guildID, userID, "warning_removed", "id="+warningID)
	return nil
}

func (s *Service) List(ctx context.Context, guildID, userID string) ([]storage.Warning, error) {
	return s.Store.ListWarnings(ctx, guildID, userID)
}

func (s *Service) Clear(ctx context.Context, guildID, userID string) (int64, error) {
	n, err := s.Store.ClearWarnings(ctx, guildID, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.Audit.Log(ctx, audit.LevelInfo, guildID, userID, "warnings_cleared", fmt.Sprintf("count=%d", n))
	}
	return n, nil
}

// SetPolicy parses operator input into a punishment rule for count.
func (s *Service) SetPolicy(ctx context.Context, guildID string, count int, action, duration string) (storage.PunishmentPolicy, error) {
	parsed, err := storage.ParsePunishmentAction(action)
	if err != nil {
		return storage.PunishmentPolicy{}, err
	}
	policy := storage.PunishmentPolicy{GuildID: guildID, WarnCount: count, Action: parsed}
	if parsed.NeedsDuration() {
		d, err := utils.ParseDuration(duration)
		if err != nil {
			return storage.PunishmentPolicy{}, err
		}
		if parsed == storage.PunishMute && d > moderation.MaxTimeout {
			return storage.PunishmentPolicy{}, fault.Input("a mute can last at most 28 days")
		}
		policy.DurationSeconds = int64(d / time.Second)
	}
	if err := s.Store.SetPunishmentPolicy(ctx, policy); err != nil {
		return storage.PunishmentPolicy{}, err
	}
	return policy, nil
}

func (s *Service) DeletePolicy(ctx context.Context, guildID string, count int) error {
	removed, err := s.Store.DeletePunishmentPolicy(ctx, guildID, count)
	if err != nil {
		return err
	}
	if !removed {
		return fault.Missing("there is no punishment rule for %d warnings", count)
	}
	return nil
}

func (s *Service) Policies(ctx context.Context, guildID string) ([]storage.PunishmentPolicy, error) {
	return s.Store.ListPunishmentPolicies(ctx, guildID)
}

func fingerprint() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}
