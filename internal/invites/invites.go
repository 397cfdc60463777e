// Package invites attributes member joins to the invite that was used by
// diffing invite use counts against the last snapshot.
package invites

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
	"guildwarden/internal/platform"
	"guildwarden/internal/render"
	"guildwarden/internal/storage"
)

const (
	DefaultJoinTemplate  = "{user} joined, invited by {inviter} who now has {invites} invites."
	DefaultLeaveTemplate = "{user} left. They were invited by {inviter}."
	unresolvedTemplate   = "{user} joined, but I couldn't figure out which invite they used."
	// FakeWindowDays is how close to today an account's creation day must be
	// for its join to count as fake.
	FakeWindowDays = 7
)

type Service struct {
	*core.Bundle
	logger *zap.Logger
}

func New(b *core.Bundle) *Service {
	return &Service{Bundle: b, logger: b.Logger.Named("invites")}
}

// IsFake reports whether an account created at created looks freshly made
// for the join at now. Only the calendar month and day are compared, so an
// account created late in the previous month is never fake.
func IsFake(created, now time.Time) bool {
	created, now = created.UTC(), now.UTC()
	if created.Year() != now.Year() || created.Month() != now.Month() {
		return false
	}
	diff := now.Day() - created.Day()
	return diff >= 0 && diff <= FakeWindowDays
}

// Join is the outcome of one attributed join.
type Join struct {
	InviterID string
	Code      string
	Fake      bool
	Ledger    storage.InviteLedger
}

func snapshotOf(live []*discordgo.Invite) storage.InviteUses {
	uses := make(storage.InviteUses, 0, len(live))
	for _, inv := range live {
		use := storage.InviteUse{Code: inv.Code, Uses: inv.Uses}
		if inv.Inviter != nil {
			use.InviterID = inv.Inviter.ID
		}
		uses = append(uses, use)
	}
	return uses
}

// diff returns the first live invite used exactly once since the snapshot.
func diff(snapshot storage.InviteUses, live []*discordgo.Invite) (*discordgo.Invite, bool) {
	before := make(map[string]int, len(snapshot))
	for _, use := range snapshot {
		before[use.Code] = use.Uses
	}
	for _, inv := range live {
		if inv.Uses == before[inv.Code]+1 {
			return inv, true
		}
	}
	return nil, false
}

// MemberJoin credits the inviter of userID. ok is false when the tenant has
// not opted in or the inviter could not be resolved.
func (s *Service) MemberJoin(ctx context.Context, guildID, userID string) (Join, bool, error) {
	snap, enabled, err := s.Store.InviteSnapshot(ctx, guildID)
	if err != nil || !enabled {
		return Join{}, false, err
	}
	live, err := s.Platform.Invites(ctx, guildID)
	if err != nil {
		s.logger.Debug("fetching invites failed", zap.String("guild_id", guildID), zap.Error(err))
		return Join{}, false, nil
	}

	inv, resolved := diff(snap.Invites, live)
	var join Join
	err = s.Store.Tx(ctx, func(tx *storage.Tx) error {
		snap.Invites = snapshotOf(live)
		if err := tx.UpsertInviteSnapshot(ctx, snap); err != nil {
			return err
		}
		if !resolved || inv.Inviter == nil {
			resolved = false
			return nil
		}

		ledger, err := tx.InviteLedger(ctx, guildID, inv.Inviter.ID)
		if err != nil {
			return err
		}
		join = Join{InviterID: inv.Inviter.ID, Code: inv.Code}
		if created, ok := platform.AccountCreated(userID); ok && IsFake(created, s.Clock.Now()) {
			join.Fake = true
			ledger.Fake++
		} else {
			ledger.Normal++
			if !ledger.Invited.Contains(userID) {
				ledger.Invited = append(ledger.Invited, userID)
			}
		}
		join.Ledger = ledger
		return tx.UpsertInviteLedger(ctx, ledger)
	})
	if err != nil {
		return Join{}, false, err
	}

	if resolved {
		s.Audit.Log(ctx, audit.LevelInfo, guildID, userID, "invite_join", fmt.Sprintf("code=%s inviter=%s fake=%t", join.Code, join.InviterID, join.Fake))
	}
	s.notifyJoin(ctx, snap.Notify, guildID, userID, join, resolved)
	return join, resolved, nil
}

func (s *Service) notifyJoin(ctx context.Context, notify storage.InviteNotify, guildID, userID string, join Join, resolved bool) {
	if notify.ChannelID == "" {
		return
	}
	template := unresolvedTemplate
	values := map[string]string{"user": render.Mention(userID)}
	if resolved {
		template = notify.JoinTemplate
		if template == "" {
			template = DefaultJoinTemplate
		}
		values["inviter"] = render.Mention(join.InviterID)
		values["invites"] = strconv.Itoa(join.Ledger.Total())
		values["code"] = join.Code
	}
	s.Notify(ctx, notify.ChannelID, platform.Text(render.Template(template, values)))
}

// MemberLeave decrements the ledger that invited userID.
func (s *Service) MemberLeave(ctx context.Context, guildID, userID string) (string, error) {
	snap, enabled, err := s.Store.InviteSnapshot(ctx, guildID)
	if err != nil || !enabled {
		return "", err
	}

	var inviterID string
	err = s.Store.Tx(ctx, func(tx *storage.Tx) error {
		ledger, found, err := tx.LedgerInviting(ctx, guildID, userID)
		if err != nil || !found {
			return err
		}
		inviterID = ledger.UserID
		ledger.Invited = ledger.Invited.Without(userID)
		ledger.Left++
		return tx.UpsertInviteLedger(ctx, ledger)
	})
	if err != nil {
		return "", err
	}
	s.refreshSnapshot(ctx, snap)

	if snap.Notify.ChannelID != "" {
		template := snap.Notify.LeaveTemplate
		if template == "" {
			template = DefaultLeaveTemplate
		}
		if inviterID == "" {
			template = "{user} left."
		}
		s.Notify(ctx, snap.Notify.ChannelID, platform.Text(render.Template(template, map[string]string{
			"user":    render.Mention(userID),
			"inviter": render.Mention(inviterID),
		})))
	}
	if inviterID != "" {
		s.Audit.Log(ctx, audit.LevelInfo, guildID, userID, "invite_leave", "inviter="+inviterID)
	}
	return inviterID, nil
}

// Refresh re-reads the live invites to absorb drift. Tenants that have not
// opted in are skipped.
func (s *Service) Refresh(ctx context.Context, guildID string) error {
	snap, enabled, err := s.Store.InviteSnapshot(ctx, guildID)
	if err != nil || !enabled {
		return err
	}
	s.refreshSnapshot(ctx, snap)
	return nil
}

func (s *Service) refreshSnapshot(ctx context.Context, snap storage.InviteSnapshot) {
	live, err := s.Platform.Invites(ctx, snap.GuildID)
	if err != nil {
		s.logger.Debug("refreshing invites failed", zap.String("guild_id", snap.GuildID), zap.Error(err))
		return
	}
	snap.Invites = snapshotOf(live)
	if err := s.Store.UpsertInviteSnapshot(ctx, snap); err != nil {
		s.logger.Warn("storing invite snapshot failed", zap.String("guild_id", snap.GuildID), zap.Error(err))
	}
}

// Enable opts the tenant in and takes the first snapshot.
func (s *Service) Enable(ctx context.Context, guildID, moderatorID string) error {
	_, enabled, err := s.Store.InviteSnapshot(ctx, guildID)
	if err != nil {
		return err
	}
	if enabled {
		return fault.Input("invite tracking is already enabled")
	}
	live, err := s.Platform.Invites(ctx, guildID)
	if err != nil {
		if fault.Is(err, fault.PermissionDenied) {
			return fault.Denied("I need the Manage Server permission to read invites")
		}
		return err
	}
	snap := storage.InviteSnapshot{GuildID: guildID, EnabledAt: s.Clock.Now().Unix(), Invites: snapshotOf(live)}
	if err := s.Store.UpsertInviteSnapshot(ctx, snap); err != nil {
		return err
	}
	s.Audit.Log(ctx, audit.LevelInfo, guildID, moderatorID, "invites_enabled", fmt.Sprintf("codes=%d", len(live)))
	return nil
}

// Disable opts the tenant out. Ledgers are kept.
func (s *Service) Disable(ctx context.Context, guildID, moderatorID string) error {
	removed, err := s.Store.DeleteInviteSnapshot(ctx, guildID)
	if err != nil {
		return err
	}
	if !removed {
		return fault.Input("invite tracking is not enabled")
	}
	s.Audit.Log(ctx, audit.LevelInfo, guildID, moderatorID, "invites_disabled", "")
	return nil
}

func (s *Service) Check(ctx context.Context, guildID, userID string) (storage.InviteLedger, error) {
	return s.Store.InviteLedger(ctx, guildID, userID)
}

func (s *Service) Top(ctx context.Context, guildID string, n int) ([]storage.InviteLedger, error) {
	if n < 1 || n > 25 {
		n = 10
	}
	return s.Store.TopInviteLedgers(ctx, guildID, n)
}

// SetNotify configures join and leave notices. An empty channel disables them.
func (s *Service) SetNotify(ctx context.Context, guildID string, notify storage.InviteNotify) error {
	return s.Store.Tx(ctx, func(tx *storage.Tx) error {
		snap, enabled, err := tx.InviteSnapshot(ctx, guildID)
		if err != nil {
			return err
		}
		if !enabled {
			return fault.Input("enable invite tracking first")
		}
		snap.Notify = notify
		return tx.UpsertInviteSnapshot(ctx, snap)
	})
}

// AdjustBonus adds delta bonus invites to userID and returns the new ledger.
func (s *Service) AdjustBonus(ctx context.Context, guildID, moderatorID, userID string, delta int) (storage.InviteLedger, error) {
	if delta == 0 || delta > 10000 || delta < -10000 {
		return storage.InviteLedger{}, fault.Input("the amount must be non-zero and at most 10000 either way")
	}
	var ledger storage.InviteLedger
	err := s.Store.Tx(ctx, func(tx *storage.Tx) error {
		var err error
		ledger, err = tx.InviteLedger(ctx, guildID, userID)
		if err != nil {
			return err
		}
		ledger.Bonus += delta
		return tx.UpsertInviteLedger(ctx, ledger)
	})
	if err != nil {
		return storage.InviteLedger{}, err
	}
	s.Audit.Log(ctx, audit.LevelInfo, guildID, moderatorID, "invites_bonus", fmt.Sprintf("user=%s delta=%d", userID, delta))
	return ledger, nil
}

// Info describes the tenant's tracking state.
type Info struct {
	Enabled   bool
	EnabledAt time.Time
	Codes     int
	Notify    storage.InviteNotify
	Ledgers   int
}

func (s *Service) Info(ctx context.Context, guildID string) (Info, error) {
	snap, enabled, err := s.Store.InviteSnapshot(ctx, guildID)
	if err != nil {
		return Info{}, err
	}
	ledgers, err := s.Store.ListInviteLedgers(ctx, guildID)
	if err != nil {
		return Info{}, err
	}
	info := Info{Enabled: enabled, Ledgers: len(ledgers)}
	if enabled {
		info.EnabledAt = time.Unix(snap.EnabledAt, 0)
		info.Codes = len(snap.Invites)
		info.Notify = snap.Notify
	}
	return info, nil
}
