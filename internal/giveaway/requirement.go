package giveaway

import (
	"context"
	"fmt"

	"guildwarden/internal/fault"
	"guildwarden/internal/platform"
	"guildwarden/internal/render"
	"guildwarden/internal/storage"
)

// DescribeRequirement renders a requirement for embeds and DMs.
func DescribeRequirement(req storage.Requirement) string {
	switch req.Kind {
	case storage.RequireLevel:
		return fmt.Sprintf("Level %d or higher", req.Threshold)
	case storage.RequireRole:
		return "Holds " + render.RoleMention(req.RoleID)
	case storage.RequireInvites:
		return fmt.Sprintf("At least %d invites", req.Threshold)
	default:
		return "None"
	}
}

// Eligible evaluates req for userID against live data. reason explains a
// refusal.
func (s *Service) Eligible(ctx context.Context, guildID, userID string, req storage.Requirement) (ok bool, reason string, err error) {
	switch req.Kind {
	case storage.RequireNone:
		return true, "", nil
	case storage.RequireLevel:
		counter, found, err := s.Store.LevelingCounter(ctx, guildID, userID)
		if err != nil {
			return false, "", err
		}
		level := 1
		if found {
			level = counter.Level
		}
		if level >= req.Threshold {
			return true, "", nil
		}
		return false, fmt.Sprintf("you need level %d to enter, you are level %d", req.Threshold, level), nil
	case storage.RequireRole:
		member, err := s.Platform.Member(ctx, guildID, userID)
		if fault.Is(err, fault.EntityMissing) {
			return false, "you are no longer a member of the server", nil
		}
		if err != nil {
			return false, "", err
		}
		if platform.HasRole(member, req.RoleID) {
			return true, "", nil
		}
		return false, "you need a specific role to enter", nil
	case storage.RequireInvites:
		ledger, err := s.Store.InviteLedger(ctx, guildID, userID)
		if err != nil {
			return false, "", err
		}
		if ledger.Total() >= req.Threshold {
			return true, "", nil
		}
		return false, fmt.Sprintf("you need %d invites to enter, you have %d", req.Threshold, ledger.Total()), nil
	default:
		return false, "", fault.Newf(fault.IntegrityViolation, "unknown requirement %q", req.Kind)
	}
}
