// Package breaker disables a failing event or command handler for a
// cool-down period after repeated unexpected failures.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"guildwarden/internal/fault"
)

// UnavailableMessage is the stock reply while a handler is open.
const UnavailableMessage = "This feature is temporarily unavailable, please try again in a minute."

var ErrUnavailable = errors.NewPlain("handler temporarily unavailable")

var metricTrips = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guildwarden_breaker_trips_total",
	Help: "Handlers disabled after repeated failures",
}, []string{"handler"})

type Options struct {
	Failures uint32
	Window   time.Duration
	Cooldown time.Duration
}

func DefaultOptions() Options {
	return Options{Failures: 2, Window: 10 * time.Second, Cooldown: 60 * time.Second}
}

// Set holds one breaker per handler name, created on first use.
type Set struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func New(logger *zap.Logger, opts Options) *Set {
	return &Set{opts: opts, logger: logger, breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}])}
}

func (s *Set) get(name string) *gobreaker.CircuitBreaker[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    s.opts.Window,
		Timeout:     s.opts.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.opts.Failures
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metricTrips.WithLabelValues(name).Inc()
			}
			s.logger.Warn("handler breaker changed state", zap.String("handler", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
	s.breakers[name] = cb
	return cb
}

// Do runs fn under the breaker for name. A panic in fn is recovered and
// counted as a failure. While the breaker is open fn is not called and Do
// returns ErrUnavailable.
func (s *Set) Do(name string, fn func() error) error {
	_, err := s.get(name).Execute(func() (_ struct{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.WithStack(fmt.Errorf("panic in %s: %v", name, r))
			}
		}()
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	return err
}

// State reports the breaker state of name, "closed" for unseen handlers.
func (s *Set) State(name string) string {
	s.mu.Lock()
	cb, ok := s.breakers[name]
	s.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

// Rejections of user input and platform hiccups are expected outcomes, not
// handler faults.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	switch fault.KindOf(err) {
	case fault.UserInput, fault.PermissionDenied, fault.EntityMissing, fault.Transient, fault.StoreUnavailable:
		return true
	}
	return false
}
