package breaker

import (
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guildwarden/internal/fault"
)

func TestTripsAfterTwoFailures(t *testing.T) {
	s := New(zap.NewNop(), DefaultOptions())
	boom := errors.New("boom")
	calls := 0
	fail := func() error { calls++; return boom }

	assert.Equal(t, boom, s.Do("welcome", fail))
	assert.Equal(t, boom, s.Do("welcome", fail))
	assert.ErrorIs(t, s.Do("welcome", fail), ErrUnavailable)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "open", s.State("welcome"))

	assert.NoError(t, s.Do("goodbye", func() error { return nil }), "breakers are per handler")
}

func TestExpectedErrorsDoNotTrip(t *testing.T) {
	s := New(zap.NewNop(), DefaultOptions())
	for i := 0; i < 5; i++ {
		err := s.Do("giveaway", func() error { return fault.Input("bad duration") })
		require.True(t, fault.Is(err, fault.UserInput))
	}
	assert.Equal(t, "closed", s.State("giveaway"))
}

func TestPanicIsRecoveredAndCounted(t *testing.T) {
	s := New(zap.NewNop(), DefaultOptions())
	panicky := func() error { panic("nil map") }

	err := s.Do("tickets", panicky)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil map")
	require.Error(t, s.Do("tickets", panicky))
	assert.ErrorIs(t, s.Do("tickets", panicky), ErrUnavailable)
}

func TestClosesAfterCooldown(t *testing.T) {
	s := New(zap.NewNop(), Options{Failures: 2, Window: time.Second, Cooldown: 20 * time.Millisecond})
	fail := func() error { return errors.New("boom") }
	_ = s.Do("feeds", fail)
	_ = s.Do("feeds", fail)
	require.ErrorIs(t, s.Do("feeds", fail), ErrUnavailable)

	time.Sleep(40 * time.Millisecond)
	assert.NoError(t, s.Do("feeds", func() error { return nil }))
	assert.Equal(t, "closed", s.State("feeds"))
}
