// Package moderation applies member sanctions and channel controls. Timed
// sanctions are persisted and handed to the scheduler so they survive
// restarts.
package moderation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildwarden/internal/core"
	"guildwarden/internal/fault"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/scheduler"
	"guildwarden/internal/storage"
)

const (
	MaxTimeout    = 28 * 24 * time.Hour
	MaxSlowmode   = 6 * time.Hour
	MaxClear      = 100
	bulkDeleteAge = 14 * 24 * time.Hour
)

type unbanPayload struct {
	UserID string `json:"user_id"`
}

type escalationPayload struct {
	UserID          string `json:"user_id"`
	DurationSeconds int64  `json:"duration_seconds"`
	Reason          string `json:"reason"`
}

type Service struct {
	*core.Bundle
	logger *zap.Logger
}

// New registers the tempban.unban and warning.escalation.tempban handlers.
func New(b *core.Bundle) *Service {
	s := &Service{Bundle: b, logger: b.Logger.Named("moderation")}
	b.Scheduler.Register(scheduler.KindTempbanUnban, scheduler.Handler{Run: s.runUnban})
	b.Scheduler.Register(scheduler.KindEscalationTempban, scheduler.Handler{Run: s.runEscalation})
	return s
}

func (s *Service) Ban(ctx context.Context, guildID, moderatorID, userID, reason string) error {
	if err := s.Platform.Ban(ctx, guildID, userID, reason); err != nil {
		return explain("ban", err)
	}
	s.Audit.Log(ctx, audit.LevelWarn, guildID, userID, "ban", detail(moderatorID, reason, 0))
	return nil
}

// Tempban bans userID and schedules the unban. The temp-ban row and the
// scheduled task are written before the ban so a crash never leaves a
// permanent ban behind.
func (s *Service) Tempban(ctx context.Context, guildID, moderatorID, userID string, d time.Duration, reason string) (time.Time, error) {
	if d <= 0 {
		return time.Time{}, fault.Input("a temporary ban needs a positive duration")
	}
	unbanAt := s.Clock.Now().Add(d)
	if err := s.Store.UpsertTempBan(ctx, storage.TempBan{GuildID: guildID, UserID: userID, UnbanAt: unbanAt.Unix()}); err != nil {
		return time.Time{}, err
	}
	if err := s.Scheduler.Schedule(ctx, scheduler.KindTempbanUnban, guildID, userID, unbanAt, unbanPayload{UserID: userID}); err != nil {
		s.rollbackTempban(ctx, guildID, userID)
		return time.Time{}, err
	}
	if err := s.Platform.Ban(ctx, guildID, userID, reason); err != nil {
		s.rollbackTempban(ctx, guildID, userID)
		return time.Time{}, explain("ban", err)
	}
	s.Audit.Log(ctx, audit.LevelWarn, guildID, userID, "tempban", detail(moderatorID, reason, d))
	return unbanAt, nil
}

func (s *Service) rollbackTempban(ctx context.Context, guildID, userID string) {
	if err := s.Scheduler.Cancel(ctx, scheduler.KindTempbanUnban, guildID, userID); err != nil {
		s.logger.Warn("cancelling unban after failed ban", zap.Error(err))
	}
	if _, err := s.Store.DeleteTempBan(ctx, guildID, userID); err != nil {
		s.logger.Warn("dropping temp ban after failed ban", zap.Error(err))
	}
}

// Unban lifts a ban and forgets any pending timed unban.
func (s *Service) Unban(ctx context.Context, guildID, moderatorID, userID string) error {
	if err := s.Scheduler.Cancel(ctx, scheduler.KindTempbanUnban, guildID, userID); err != nil {
		return err
	}
	if _, err := s.Store.DeleteTempBan(ctx, guildID, userID); err != nil {
		return err
	}
	if err := s.Platform.Unban(ctx, guildID, userID); err != nil {
		if fault.Is(err, fault.EntityMissing) {
			return fault.Input("that user is not banned")
		}
		return explain("unban", err)
	}
	s.Audit.Log(ctx, audit.LevelInfo, guildID, userID, "unban", detail(moderatorID, "", 0))
	return nil
}

func (s *Service) Kick(ctx context.Context, guildID, moderatorID, userID, reason string) error {
	if err := s.Platform.Kick(ctx, guildID, userID, reason); err != nil {
		if fault.Is(err, fault.EntityMissing) {
			return fault.Input("that user is not a member of this server")
		}
		return explain("kick", err)
	}
	s.Audit.Log(ctx, audit.LevelWarn, guildID, userID, "kick", detail(moderatorID, reason, 0))
	return nil
}

// Mute applies a communication timeout of d, at most MaxTimeout.
func (s *Service) Mute(ctx context.Context, guildID, moderatorID, userID string, d time.Duration, reason string) error {
	if d <= 0 || d > MaxTimeout {
		return fault.Input("a mute must last between 1 second and 28 days")
	}
	until := s.Clock.Now().Add(d)
	if err := s.Platform.Timeout(ctx, guildID, userID, &until); err != nil {
		return explain("mute", err)
	}
	s.Audit.Log(ctx, audit.LevelWarn, guildID, userID, "mute", detail(moderatorID, reason, d))
	return nil
}

func (s *Service) Unmute(ctx context.Context, guildID, moderatorID, userID string) error {
	if err := s.Platform.Timeout(ctx, guildID, userID, nil); err != nil {
		return explain("unmute", err)
	}
	s.Audit.Log(ctx, audit.LevelInfo, guildID, userID, "unmute", detail(moderatorID, "", 0))
	return nil
}

// Clear deletes up to n of the channel's newest messages younger than the
// platform's bulk-delete horizon and returns how many were removed.
func (s *Service) Clear(ctx context.Context, guildID, moderatorID, channelID string, n int) (int, error) {
	if n < 1 || n > MaxClear {
		return 0, fault.Input("you can clear between 1 and %d messages", MaxClear)
	}
	msgs, err := s.Platform.MessagesSince(ctx, channelID, s.Clock.Now().Add(-bulkDeleteAge), n)
	if err != nil {
		return 0, explain("read history", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if len(ids) == 1 {
		err = s.Platform.DeleteMessage(ctx, channelID, ids[0])
	} else {
		err = s.Platform.BulkDeleteMessages(ctx, channelID, ids)
	}
	if err != nil {
		return 0, explain("delete messages", err)
	}
	s.Audit.Log(ctx, audit.LevelInfo, guildID, moderatorID, "clear", fmt.Sprintf("channel=%s count=%d", channelID, len(ids)))
	return len(ids), nil
}

func (s *Service) Slowmode(ctx context.Context, guildID, moderatorID, channelID string, d time.Duration) error {
	if d < 0 || d > MaxSlowmode {
		return fault.Input("slowmode must be between 0 seconds and 6 hours")
	}
	seconds := int(d / time.Second)
	if _, err := s.Platform.EditChannel(ctx, channelID, &discordgo.ChannelEdit{RateLimitPerUser: &seconds}); err != nil {
		return explain("edit channel", err)
	}
	s.Audit.Log(ctx, audit.LevelInfo, guildID, moderatorID, "slowmode", fmt.Sprintf("channel=%s seconds=%d", channelID, seconds))
	return nil
}

// Lock denies the default role the right to send messages in the channel.
func (s *Service) Lock(ctx context.Context, guildID, moderatorID, channelID string) error {
	return s.setLocked(ctx, guildID, moderatorID, channelID, true)
}

func (s *Service) Unlock(ctx context.Context, guildID, moderatorID, channelID string) error {
	return s.setLocked(ctx, guildID, moderatorID, channelID, false)
}

func (s *Service) setLocked(ctx context.Context, guildID, moderatorID, channelID string, locked bool) error {
	var deny int64
	event := "unlock"
	if locked {
		deny = discordgo.PermissionSendMessages
		event = "lock"
	}
	// The default role shares the guild's id.
	if err := s.Platform.SetPermissionOverride(ctx, channelID, guildID, discordgo.PermissionOverwriteTypeRole, 0, deny); err != nil {
		return explain(event+" channel", err)
	}
	s.Audit.Log(ctx, audit.LevelInfo, guildID, moderatorID, event, "channel="+channelID)
	return nil
}

// EscalateTempban bans for d on behalf of the warnings ledger. Transient
// failures are handed to the scheduler as a warning.escalation.tempban task
// so the sanction is applied once the platform recovers.
func (s *Service) EscalateTempban(ctx context.Context, guildID, userID string, d time.Duration, reason string) error {
	_, err := s.Tempban(ctx, guildID, "", userID, d, reason)
	if err == nil || !fault.Retryable(err) {
		return err
	}
	s.logger.Warn("escalation deferred", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
	payload := escalationPayload{UserID: userID, DurationSeconds: int64(d / time.Second), Reason: reason}
	return s.Scheduler.Schedule(ctx, scheduler.KindEscalationTempban, guildID, userID, s.Clock.Now().Add(s.Config.Scheduler.RetryDelay), payload)
}

func (s *Service) runUnban(ctx context.Context, task scheduler.Task) error {
	var p unbanPayload
	if err := task.Decode(&p); err != nil {
		return err
	}
	if p.UserID == "" {
		p.UserID = task.Key
	}
	err := s.Platform.Unban(ctx, task.GuildID, p.UserID)
	switch {
	case err == nil:
		s.Audit.Log(ctx, audit.LevelInfo, task.GuildID, p.UserID, "tempban_expired", "")
	case fault.Is(err, fault.EntityMissing):
		// unbanned by hand in the meantime
	default:
		return err
	}
	_, err = s.Store.DeleteTempBan(ctx, task.GuildID, p.UserID)
	return err
}

func (s *Service) runEscalation(ctx context.Context, task scheduler.Task) error {
	var p escalationPayload
	if err := task.Decode(&p); err != nil {
		return err
	}
	if p.DurationSeconds <= 0 {
		return fault.Newf(fault.IntegrityViolation, "escalation for %s has no duration", p.UserID)
	}
	_, err := s.Tempban(ctx, task.GuildID, "", p.UserID, time.Duration(p.DurationSeconds)*time.Second, p.Reason)
	return err
}

// explain gives permission failures a message naming what was attempted.
func explain(action string, err error) error {
	if fault.Is(err, fault.PermissionDenied) {
		return fault.Wrap(fault.PermissionDenied, err, "I am not allowed to "+action+" here, check my role position and permissions")
	}
	return err
}

func detail(moderatorID, reason string, d time.Duration) string {
	out := "moderator=" + moderatorID
	if reason != "" {
		out += " reason=" + strconv.Quote(reason)
	}
	if d > 0 {
		out += " duration=" + d.String()
	}
	return out
}
