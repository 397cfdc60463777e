// Package scheduler runs durable delayed tasks keyed by (kind, guild, key).
// A row is written before any timer is armed, so a task survives a crash at
// any point and is re-armed on the next start.
package scheduler

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"guildwarden/internal/clock"
	"guildwarden/internal/fault"
	"guildwarden/internal/storage"
)

const (
	KindGiveawayEnd       = "giveaway.end"
	KindTempbanUnban      = "tempban.unban"
	KindEscalationTempban = "warning.escalation.tempban"
	KindLocalCommandSync  = "localcommand.sync"
)

var (
	metricFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildwarden_scheduler_fired_total",
		Help: "Scheduled task executions by kind and outcome",
	}, []string{"kind", "outcome"})

	metricArmed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guildwarden_scheduler_armed",
		Help: "Timers currently armed",
	})
)

type Task struct {
	Kind    string
	GuildID string
	Key     string
	FireAt  time.Time
	Payload []byte
}

func (t Task) Decode(v interface{}) error {
	if len(t.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fault.Wrap(fault.IntegrityViolation, err, "decode "+t.Kind+" payload")
	}
	return nil
}

func (t Task) id() taskID {
	return taskID{kind: t.Kind, guild: t.GuildID, key: t.Key}
}

func fromRow(row storage.ScheduledTask) Task {
	return Task{
		Kind:    row.Kind,
		GuildID: row.GuildID,
		Key:     row.Key,
		FireAt:  time.Unix(row.FireAt, 0),
		Payload: []byte(row.Payload),
	}
}

// Handler runs a kind of task. Run must be idempotent: a crash between Run
// and the row deletion runs it again on restart. Errors for which
// fault.Retryable holds keep the row and re-arm after a backoff.
//
// Refresh, when set, is polled every RefreshEvery while the task is armed and
// returns the current fire time from the owning component's rows; ok false
// means the owner is gone and the task is dropped.
type Handler struct {
	Run          func(ctx context.Context, task Task) error
	Refresh      func(ctx context.Context, task Task) (fireAt time.Time, ok bool, err error)
	RefreshEvery time.Duration
}

type Options struct {
	ArmPacing  time.Duration
	RetryDelay time.Duration
	MaxRetry   time.Duration
}

type taskID struct {
	kind, guild, key string
}

type entry struct {
	gen     uint64
	task    Task
	timer   clock.Timer
	refresh clock.Timer
	retry   *backoff.ExponentialBackOff
}

type Scheduler struct {
	store  *storage.Store
	clock  clock.Clock
	logger *zap.Logger
	opts   Options

	mu       sync.Mutex
	base     context.Context
	handlers map[string]Handler
	armed    map[taskID]*entry
	gen      uint64
	wg       sync.WaitGroup
}

func New(store *storage.Store, c clock.Clock, logger *zap.Logger, opts Options) *Scheduler {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 30 * time.Second
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = 15 * time.Minute
	}
	return &Scheduler{
		store:    store,
		clock:    c,
		logger:   logger,
		opts:     opts,
		base:     context.Background(),
		handlers: map[string]Handler{},
		armed:    map[taskID]*entry{},
	}
}

func (s *Scheduler) Register(kind string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

func (s *Scheduler) String() string {
	return "scheduler"
}

// Schedule persists the task and arms it. An existing task with the same
// identity is replaced.
func (s *Scheduler) Schedule(ctx context.Context, kind, guildID, key string, fireAt time.Time, payload interface{}) error {
	s.mu.Lock()
	_, known := s.handlers[kind]
	s.mu.Unlock()
	if !known {
		return fault.Newf(fault.IntegrityViolation, "no handler registered for %s", kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fault.Wrap(fault.IntegrityViolation, err, "encode "+kind+" payload")
	}
	row := storage.ScheduledTask{Kind: kind, GuildID: guildID, Key: key, FireAt: fireAt.Unix(), Payload: string(data)}
	if err := s.store.UpsertScheduledTask(ctx, row); err != nil {
		return err
	}
	s.arm(fromRow(row), nil)
	return nil
}

// Cancel drops the task. A cancel observed before the timer fires means the
// callback never runs.
func (s *Scheduler) Cancel(ctx context.Context, kind, guildID, key string) error {
	s.mu.Lock()
	s.disarmLocked(taskID{kind: kind, guild: guildID, key: key})
	s.mu.Unlock()

	_, err := s.store.DeleteScheduledTask(ctx, kind, guildID, key)
	return err
}

// Armed reports whether a timer is currently held for the task.
func (s *Scheduler) Armed(kind, guildID, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.armed[taskID{kind: kind, guild: guildID, key: key}]
	return ok
}

// Serve loads every persisted task, arms them with a small pacing delay and
// blocks until ctx is done.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	if err := s.Recover(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	s.stopAll()
	return ctx.Err()
}

// Recover arms every persisted task. Rows whose fire time passed run
// immediately.
func (s *Scheduler) Recover(ctx context.Context) error {
	rows, err := s.store.ListScheduledTasks(ctx)
	if err != nil {
		return errors.WrapIf(err, "load scheduled tasks")
	}
	s.logger.Info("recovering scheduled tasks", zap.Int("count", len(rows)))

	for i, row := range rows {
		s.mu.Lock()
		_, known := s.handlers[row.Kind]
		s.mu.Unlock()
		if !known {
			s.logger.Warn("dropping task without handler", zap.String("kind", row.Kind), zap.String("guild_id", row.GuildID))
			if _, err := s.store.DeleteScheduledTask(ctx, row.Kind, row.GuildID, row.Key); err != nil {
				return err
			}
			continue
		}
		s.arm(fromRow(row), nil)
		if i < len(rows)-1 && s.opts.ArmPacing > 0 {
			if err := clock.Sleep(ctx, s.clock, s.opts.ArmPacing); err != nil {
				return nil
			}
		}
	}
	return nil
}

// Wait blocks until every running callback has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.armed {
		s.disarmLocked(id)
	}
}

func (s *Scheduler) arm(task Task, retry *backoff.ExponentialBackOff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(task, retry)
}

func (s *Scheduler) armLocked(task Task, retry *backoff.ExponentialBackOff) {
	id := task.id()
	s.disarmLocked(id)

	s.gen++
	gen := s.gen
	e := &entry{gen: gen, task: task, retry: retry}

	delay := task.FireAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	e.timer = s.clock.AfterFunc(delay, func() { s.fire(id, gen) })
	// A retry waits out its backoff; the owner's fire time is already past.
	if h := s.handlers[task.Kind]; h.Refresh != nil && h.RefreshEvery > 0 && delay > 0 && retry == nil {
		e.refresh = s.clock.AfterFunc(h.RefreshEvery, func() { s.poll(id, gen) })
	}
	s.armed[id] = e
	metricArmed.Set(float64(len(s.armed)))
}

func (s *Scheduler) disarmLocked(id taskID) {
	e, ok := s.armed[id]
	if !ok {
		return
	}
	e.timer.Stop()
	if e.refresh != nil {
		e.refresh.Stop()
	}
	delete(s.armed, id)
	metricArmed.Set(float64(len(s.armed)))
}

// current returns the entry when gen still owns id.
func (s *Scheduler) current(id taskID, gen uint64) (*entry, Handler, context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.armed[id]
	if !ok || e.gen != gen {
		return nil, Handler{}, nil, false
	}
	return e, s.handlers[id.kind], s.base, true
}

func (s *Scheduler) fire(id taskID, gen uint64) {
	e, h, ctx, ok := s.current(id, gen)
	if !ok {
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.Lock()
	if e.refresh != nil {
		e.refresh.Stop()
	}
	s.mu.Unlock()

	logger := s.logger.With(zap.String("kind", id.kind), zap.String("guild_id", id.guild), zap.String("key", id.key))

	row, found, err := s.store.ScheduledTask(ctx, id.kind, id.guild, id.key)
	if err != nil {
		logger.Warn("reading scheduled task failed", zap.Error(err))
		s.retry(id, gen, e, "store")
		return
	}
	if !found {
		s.release(id, gen)
		metricFired.WithLabelValues(id.kind, "vanished").Inc()
		return
	}
	task := fromRow(row)
	if task.FireAt.After(s.clock.Now()) {
		s.rearmIfCurrent(id, gen, task, nil)
		return
	}

	err = h.Run(ctx, task)
	switch {
	case err == nil:
		s.finish(ctx, id, gen, logger)
		metricFired.WithLabelValues(id.kind, "ok").Inc()
	case fault.Retryable(err):
		logger.Warn("scheduled task failed, will retry", zap.Error(err))
		s.retry(id, gen, e, "retry")
	default:
		logger.Error("scheduled task failed permanently", zap.Error(err))
		s.finish(ctx, id, gen, logger)
		metricFired.WithLabelValues(id.kind, "failed").Inc()
	}
}

// finish deletes the row unless the task was re-scheduled while running.
func (s *Scheduler) finish(ctx context.Context, id taskID, gen uint64, logger *zap.Logger) {
	if !s.release(id, gen) {
		return
	}
	if _, err := s.store.DeleteScheduledTask(ctx, id.kind, id.guild, id.key); err != nil {
		logger.Warn("deleting finished task failed", zap.Error(err))
	}
}

func (s *Scheduler) release(id taskID, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.armed[id]
	if !ok || e.gen != gen {
		return false
	}
	delete(s.armed, id)
	metricArmed.Set(float64(len(s.armed)))
	return true
}

func (s *Scheduler) retry(id taskID, gen uint64, e *entry, outcome string) {
	b := e.retry
	if b == nil {
		b = backoff.NewExponentialBackOff()
		b.InitialInterval = s.opts.RetryDelay
		b.MaxInterval = s.opts.MaxRetry
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Reset()
	}
	task := e.task
	task.FireAt = s.clock.Now().Add(b.NextBackOff())
	s.rearmIfCurrent(id, gen, task, b)
	metricFired.WithLabelValues(id.kind, outcome).Inc()
}

func (s *Scheduler) rearmIfCurrent(id taskID, gen uint64, task Task, b *backoff.ExponentialBackOff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.armed[id]; !ok || e.gen != gen {
		return
	}
	s.armLocked(task, b)
}

func (s *Scheduler) poll(id taskID, gen uint64) {
	e, h, ctx, ok := s.current(id, gen)
	if !ok {
		return
	}

	fireAt, exists, err := h.Refresh(ctx, e.task)
	switch {
	case err != nil:
		s.logger.Debug("refresh failed", zap.String("kind", id.kind), zap.Error(err))
	case !exists:
		if s.release(id, gen) {
			if _, err := s.store.DeleteScheduledTask(ctx, id.kind, id.guild, id.key); err != nil {
				s.logger.Warn("dropping orphaned task failed", zap.Error(err))
			}
		}
		return
	case fireAt.Unix() != e.task.FireAt.Unix():
		task := e.task
		task.FireAt = fireAt
		row := storage.ScheduledTask{Kind: task.Kind, GuildID: task.GuildID, Key: task.Key, FireAt: fireAt.Unix(), Payload: string(task.Payload)}
		if err := s.store.UpsertScheduledTask(ctx, row); err != nil {
			s.logger.Warn("persisting refreshed fire time failed", zap.Error(err))
		}
		s.rearmIfCurrent(id, gen, task, nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.armed[id]; ok && cur.gen == gen {
		cur.refresh = s.clock.AfterFunc(h.RefreshEvery, func() { s.poll(id, gen) })
	}
}
