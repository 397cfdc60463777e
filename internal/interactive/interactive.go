// Package interactive runs multi-step operator conversations as explicit
// state machines. Each step posts a prompt and waits for the invoker's next
// message in the same channel until its own timeout. Side effects belong in
// OnComplete, which only runs after the final step accepts.
package interactive

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildwarden/internal/clock"
	"guildwarden/internal/core"
	"guildwarden/internal/fault"
	"guildwarden/internal/platform"
)

const (
	ChannelPickTimeout = 60 * time.Second
	MemberPickTimeout  = 120 * time.Second
	TextTimeout        = 600 * time.Second
)

// Finish, returned from Accept, completes the workflow.
const Finish = -1

// CancelWord aborts the active workflow when sent as a reply.
const CancelWord = "cancel"

type Reason int

const (
	Cancelled Reason = iota
	TimedOut
	Replaced
	Failed
)

func (r Reason) String() string {
	switch r {
	case TimedOut:
		return "timed out"
	case Replaced:
		return "replaced"
	case Failed:
		return "failed"
	default:
		return "cancelled"
	}
}

type Step struct {
	Prompt  string
	Timeout time.Duration
	// Accept consumes the reply and returns the index of the next step or
	// Finish. A UserInput error re-prompts the same step.
	Accept func(input string) (next int, err error)
}

type Workflow struct {
	Name       string
	Steps      []Step
	OnComplete func(ctx context.Context) error
	// OnCancel rolls back whatever the workflow made visible before it
	// started asking, e.g. a half-configured panel message.
	OnCancel func(ctx context.Context, reason Reason)
}

type key struct{ channel, user string }

type session struct {
	wf    *Workflow
	step  int
	gen   int
	timer clock.Timer
}

type Manager struct {
	*core.Bundle
	logger *zap.Logger

	mu     sync.Mutex
	active map[key]*session
}

func New(b *core.Bundle) *Manager {
	return &Manager{Bundle: b, logger: b.Logger.Named("interactive"), active: make(map[key]*session)}
}

// Begin starts wf for userID in channelID, cancelling any workflow that user
// already had running there.
func (m *Manager) Begin(ctx context.Context, channelID, userID string, wf *Workflow) error {
	if len(wf.Steps) == 0 {
		return fault.New(fault.IntegrityViolation, "workflow "+wf.Name+" has no steps")
	}
	k := key{channelID, userID}
	s := &session{wf: wf}

	m.mu.Lock()
	prev := m.active[k]
	m.active[k] = s
	m.mu.Unlock()
	if prev != nil {
		m.finish(k, prev)
		m.cancelled(ctx, channelID, prev, Replaced)
	}
	m.enter(ctx, channelID, k, s, 0)
	return nil
}

// enter moves s to step i, posts its prompt and arms its timeout.
func (m *Manager) enter(ctx context.Context, channelID string, k key, s *session, i int) {
	step := s.wf.Steps[i]
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = TextTimeout
	}

	m.mu.Lock()
	s.step = i
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = m.Clock.AfterFunc(timeout, func() { m.expire(channelID, k, s, gen) })
	m.mu.Unlock()

	m.Notify(ctx, channelID, platform.Text(step.Prompt+"\n-# Reply `"+CancelWord+"` to stop."))
}

func (m *Manager) expire(channelID string, k key, s *session, gen int) {
	m.mu.Lock()
	if m.active[k] != s || s.gen != gen {
		m.mu.Unlock()
		return
	}
	delete(m.active, k)
	m.mu.Unlock()

	ctx := context.Background()
	m.cancelled(ctx, channelID, s, TimedOut)
	m.Notify(ctx, channelID, platform.Embed(m.Embeds.Warning(s.wf.Name, "Timed out waiting for a reply, nothing was changed.")))
}

func (m *Manager) cancelled(ctx context.Context, channelID string, s *session, reason Reason) {
	m.logger.Debug("workflow ended early", zap.String("workflow", s.wf.Name), zap.String("channel_id", channelID), zap.Stringer("reason", reason))
	if s.wf.OnCancel != nil {
		s.wf.OnCancel(ctx, reason)
	}
}

// Feed routes msg to the author's active workflow in that channel. It
// reports whether the message was consumed.
func (m *Manager) Feed(ctx context.Context, msg *discordgo.Message) bool {
	if msg == nil || msg.Author == nil {
		return false
	}
	k := key{msg.ChannelID, msg.Author.ID}
	m.mu.Lock()
	s, ok := m.active[k]
	var step Step
	if ok {
		step = s.wf.Steps[s.step]
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	input := strings.TrimSpace(msg.Content)
	if strings.EqualFold(input, CancelWord) {
		m.Cancel(ctx, msg.ChannelID, msg.Author.ID)
		return true
	}

	next, err := step.Accept(input)
	if fault.Is(err, fault.UserInput) {
		m.Notify(ctx, msg.ChannelID, platform.Embed(m.Embeds.Failure(s.wf.Name, err)))
		return true
	}
	if !m.owns(k, s) {
		return true
	}
	if err != nil {
		if !m.finish(k, s) {
			return true
		}
		m.cancelled(ctx, msg.ChannelID, s, Failed)
		m.Notify(ctx, msg.ChannelID, platform.Embed(m.Embeds.Failure(s.wf.Name, err)))
		return true
	}
	if next == Finish || next >= len(s.wf.Steps) {
		m.complete(ctx, msg.ChannelID, k, s)
		return true
	}
	m.enter(ctx, msg.ChannelID, k, s, next)
	return true
}

func (m *Manager) complete(ctx context.Context, channelID string, k key, s *session) {
	if !m.finish(k, s) || s.wf.OnComplete == nil {
		return
	}
	if err := s.wf.OnComplete(ctx); err != nil {
		m.cancelled(ctx, channelID, s, Failed)
		m.Notify(ctx, channelID, platform.Embed(m.Embeds.Failure(s.wf.Name, err)))
	}
}

// Cancel aborts the user's workflow in channelID, if any.
func (m *Manager) Cancel(ctx context.Context, channelID, userID string) bool {
	k := key{channelID, userID}
	m.mu.Lock()
	s, ok := m.active[k]
	m.mu.Unlock()
	if !ok || !m.finish(k, s) {
		return false
	}
	m.cancelled(ctx, channelID, s, Cancelled)
	m.Notify(ctx, channelID, platform.Embed(m.Embeds.Warning(s.wf.Name, "Cancelled, nothing was changed.")))
	return true
}

func (m *Manager) owns(k key, s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[k] == s
}

// finish stops s and reports whether this call removed it from the active
// set. Only that caller may run the workflow's completion or rollback.
func (m *Manager) finish(k key, s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := m.active[k] == s
	if removed {
		delete(m.active, k)
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	return removed
}

// Active reports whether userID has a workflow waiting in channelID.
func (m *Manager) Active(channelID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[key{channelID, userID}]
	return ok
}
