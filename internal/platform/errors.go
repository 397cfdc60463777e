package platform

import (
	"context"
	"net"
	"net/http"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"

	"guildwarden/internal/fault"
)

// Classify maps a discordgo failure onto the fault taxonomy.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if fault.KindOf(err) != fault.Unknown {
		return err
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		return classifyREST(op, restErr)
	}
	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		return fault.Wrap(fault.Transient, err, op+": rate limited")
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return fault.Wrap(fault.EntityMissing, err, op)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fault.Wrap(fault.Transient, err, op+": timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fault.Wrap(fault.Transient, err, op)
	}
	return fault.Wrap(fault.Transient, err, op)
}

func classifyREST(op string, restErr *discordgo.RESTError) error {
	code := 0
	if restErr.Message != nil {
		code = restErr.Message.Code
	}
	switch code {
	case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
		return fault.Wrap(fault.PermissionDenied, restErr, op+": missing permissions")
	case discordgo.ErrCodeUnknownChannel,
		discordgo.ErrCodeUnknownGuild,
		discordgo.ErrCodeUnknownInvite,
		discordgo.ErrCodeUnknownMember,
		discordgo.ErrCodeUnknownMessage,
		discordgo.ErrCodeUnknownRole,
		discordgo.ErrCodeUnknownUser,
		discordgo.ErrCodeUnknownBan:
		return fault.Wrap(fault.EntityMissing, restErr, op)
	}

	status := 0
	if restErr.Response != nil {
		status = restErr.Response.StatusCode
	}
	switch {
	case status == http.StatusForbidden:
		return fault.Wrap(fault.PermissionDenied, restErr, op+": missing permissions")
	case status == http.StatusNotFound:
		return fault.Wrap(fault.EntityMissing, restErr, op)
	case status == http.StatusTooManyRequests, status >= 500, status == 0:
		return fault.Wrap(fault.Transient, restErr, op)
	default:
		return fault.Wrap(fault.IntegrityViolation, restErr, op)
	}
}
