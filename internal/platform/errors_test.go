package platform

import (
	"context"
	"net/http"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"

	"guildwarden/internal/fault"
)

func restError(status, code int) error {
	err := &discordgo.RESTError{Response: &http.Response{StatusCode: status}}
	if code != 0 {
		err.Message = &discordgo.APIErrorMessage{Code: code}
	}
	return err
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want fault.Kind
	}{
		{"missing permissions code", restError(http.StatusForbidden, discordgo.ErrCodeMissingPermissions), fault.PermissionDenied},
		{"forbidden without code", restError(http.StatusForbidden, 0), fault.PermissionDenied},
		{"unknown message", restError(http.StatusNotFound, discordgo.ErrCodeUnknownMessage), fault.EntityMissing},
		{"not found", restError(http.StatusNotFound, 0), fault.EntityMissing},
		{"server error", restError(http.StatusBadGateway, 0), fault.Transient},
		{"rate limited", restError(http.StatusTooManyRequests, 0), fault.Transient},
		{"bad request", restError(http.StatusBadRequest, 50035), fault.IntegrityViolation},
		{"deadline", errors.WithStack(context.DeadlineExceeded), fault.Transient},
		{"state miss", discordgo.ErrStateNotFound, fault.EntityMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, fault.KindOf(Classify("op", tc.err)))
		})
	}
	assert.NoError(t, Classify("op", nil))
}

func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission(discordgo.PermissionAdministrator, discordgo.PermissionBanMembers))
	assert.True(t, HasPermission(discordgo.PermissionBanMembers|discordgo.PermissionKickMembers, discordgo.PermissionBanMembers))
	assert.False(t, HasPermission(discordgo.PermissionKickMembers, discordgo.PermissionBanMembers|discordgo.PermissionKickMembers))
}

func TestAccountCreated(t *testing.T) {
	created, ok := AccountCreated("175928847299117063")
	assert.True(t, ok)
	assert.Equal(t, 2016, created.UTC().Year())
	assert.True(t, created.Before(time.Now()))

	_, ok = AccountCreated("not-a-snowflake")
	assert.False(t, ok)
}
