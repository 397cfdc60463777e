package interactive

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildwarden/internal/core/coretest"
	"guildwarden/internal/fault"
)

type recorder struct {
	channel  string
	title    string
	done     bool
	reasons  []Reason
	panelHid bool
}

func (r *recorder) workflow() *Workflow {
	return &Workflow{
		Name: "Ticket panel",
		Steps: []Step{
			{
				Prompt:  "Which channel?",
				Timeout: ChannelPickTimeout,
				Accept: func(input string) (int, error) {
					if !strings.HasPrefix(input, "<#") {
						return 0, fault.Input("mention a channel")
					}
					r.channel = strings.Trim(input, "<#>")
					return 1, nil
				},
			},
			{
				Prompt:  "Panel title?",
				Timeout: TextTimeout,
				Accept: func(input string) (int, error) {
					r.title = input
					return Finish, nil
				},
			},
		},
		OnComplete: func(context.Context) error { r.done = true; return nil },
		OnCancel: func(_ context.Context, reason Reason) {
			r.reasons = append(r.reasons, reason)
			r.panelHid = true
		},
	}
}

func reply(channel, user, content string) *discordgo.Message {
	return &discordgo.Message{ChannelID: channel, Content: content, Author: &discordgo.User{ID: user}}
}

func TestWorkflowCompletes(t *testing.T) {
	env := coretest.New(t)
	env.Channel("10")
	m := New(env.Bundle)
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, m.Begin(ctx, "10", "5", r.workflow()))
	assert.False(t, m.Feed(ctx, reply("10", "6", "<#22>")), "other users are not routed")
	assert.True(t, m.Feed(ctx, reply("10", "5", "<#22>")))
	assert.True(t, m.Feed(ctx, reply("10", "5", "Support")))

	assert.True(t, r.done)
	assert.Equal(t, "22", r.channel)
	assert.Equal(t, "Support", r.title)
	assert.Empty(t, r.reasons)
	assert.False(t, m.Active("10", "5"))
}

func TestInvalidReplyRepromptsSameStep(t *testing.T) {
	env := coretest.New(t)
	env.Channel("10")
	m := New(env.Bundle)
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, m.Begin(ctx, "10", "5", r.workflow()))
	assert.True(t, m.Feed(ctx, reply("10", "5", "general")))
	assert.True(t, m.Active("10", "5"))
	assert.Empty(t, r.channel)

	assert.True(t, m.Feed(ctx, reply("10", "5", "<#22>")))
	assert.Equal(t, "22", r.channel)
}

func TestStepTimeoutRollsBack(t *testing.T) {
	env := coretest.New(t)
	env.Channel("10")
	m := New(env.Bundle)
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, m.Begin(ctx, "10", "5", r.workflow()))
	env.Clock.Advance(59 * time.Second)
	assert.True(t, m.Active("10", "5"))

	env.Clock.Advance(time.Second)
	assert.False(t, m.Active("10", "5"))
	assert.Equal(t, []Reason{TimedOut}, r.reasons)
	assert.True(t, r.panelHid)
	assert.False(t, r.done)
	assert.False(t, m.Feed(ctx, reply("10", "5", "<#22>")))
}

func TestEachStepHasItsOwnTimeout(t *testing.T) {
	env := coretest.New(t)
	env.Channel("10")
	m := New(env.Bundle)
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, m.Begin(ctx, "10", "5", r.workflow()))
	env.Clock.Advance(50 * time.Second)
	m.Feed(ctx, reply("10", "5", "<#22>"))

	env.Clock.Advance(5 * time.Minute)
	assert.True(t, m.Active("10", "5"), "the text step waits 600s")
	env.Clock.Advance(5 * time.Minute)
	assert.False(t, m.Active("10", "5"))
	assert.Equal(t, []Reason{TimedOut}, r.reasons)
}

func TestCancelWordAndReplacement(t *testing.T) {
	env := coretest.New(t)
	env.Channel("10")
	m := New(env.Bundle)
	ctx := context.Background()
	first, second := &recorder{}, &recorder{}

	require.NoError(t, m.Begin(ctx, "10", "5", first.workflow()))
	require.NoError(t, m.Begin(ctx, "10", "5", second.workflow()))
	assert.Equal(t, []Reason{Replaced}, first.reasons)

	assert.True(t, m.Feed(ctx, reply("10", "5", "Cancel")))
	assert.Equal(t, []Reason{Cancelled}, second.reasons)
	assert.False(t, m.Active("10", "5"))

	env.Clock.Advance(time.Hour)
	assert.Len(t, first.reasons, 1, "a replaced workflow's timer is disarmed")
}

func TestEmptyWorkflowRejected(t *testing.T) {
	env := coretest.New(t)
	m := New(env.Bundle)
	err := m.Begin(context.Background(), "10", "5", &Workflow{Name: "empty"})
	assert.True(t, fault.Is(err, fault.IntegrityViolation))
}

func TestConcurrentFinalRepliesCompleteOnce(t *testing.T) {
	env := coretest.New(t)
	env.Channel("10")
	m := New(env.Bundle)
	ctx := context.Background()

	var completed atomic.Int32
	wf := &Workflow{
		Name: "Ticket panel",
		Steps: []Step{{
			Prompt: "Panel title?",
			Accept: func(string) (int, error) { return Finish, nil },
		}},
		OnComplete: func(context.Context) error { completed.Add(1); return nil },
	}
	require.NoError(t, m.Begin(ctx, "10", "5", wf))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Feed(ctx, reply("10", "5", "Support"))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, completed.Load())
	assert.False(t, m.Active("10", "5"))
}

func TestFinishOnlyRemovesOnce(t *testing.T) {
	env := coretest.New(t)
	env.Channel("10")
	m := New(env.Bundle)
	r := &recorder{}

	require.NoError(t, m.Begin(context.Background(), "10", "5", r.workflow()))
	k := key{"10", "5"}
	m.mu.Lock()
	s := m.active[k]
	m.mu.Unlock()

	assert.True(t, m.finish(k, s))
	assert.False(t, m.finish(k, s))
	assert.False(t, m.Cancel(context.Background(), "10", "5"))
	assert.Empty(t, r.reasons)
}
