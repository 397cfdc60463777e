package fault

import (
	"context"
	"testing"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOfSurvivesWrapping(t *testing.T) {
	err := Input("duration must be positive")
	wrapped := errors.WrapIf(err, "tempban")
	assert.Equal(t, UserInput, KindOf(wrapped))
	assert.True(t, Is(wrapped, UserInput))
	assert.False(t, Retryable(wrapped))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Wrap(Transient, errors.New("502"), "send message")))
	assert.True(t, Retryable(Wrap(StoreUnavailable, errors.New("conn reset"), "fetch")))
	assert.True(t, Retryable(errors.WithStack(context.DeadlineExceeded)))
	assert.False(t, Retryable(Missing("channel gone")))
	assert.False(t, Retryable(nil))
}

func TestMessageHidesInternalDetail(t *testing.T) {
	assert.Equal(t, "limit reached", Message(Input("limit reached")))
	assert.NotContains(t, Message(Wrap(IntegrityViolation, errors.New("UNIQUE constraint"), "insert")), "UNIQUE")
	assert.NotContains(t, Message(errors.New("boom")), "boom")
}
