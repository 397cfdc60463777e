package moderation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildwarden/internal/clock"
	"guildwarden/internal/core/coretest"
	"guildwarden/internal/fault"
	"guildwarden/internal/scheduler"
)

const guild = coretest.GuildID

func setup(t *testing.T) (*Service, *coretest.Env) {
	t.Helper()
	env := coretest.New(t)
	env.Channel("c1")
	env.Fake.AddMember(guild, "P", true)
	return New(env.Bundle), env
}

func taskExists(t *testing.T, env *coretest.Env, kind, key string) bool {
	t.Helper()
	_, found, err := env.Store.ScheduledTask(context.Background(), kind, guild, key)
	require.NoError(t, err)
	return found
}

func TestTempbanSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "guildwarden.db")

	before := coretest.Open(t, path, clock.NewFake(coretest.Start))
	before.Fake.AddMember(guild, "P", true)
	_, err := New(before.Bundle).Tempban(ctx, guild, "M", "P", 10*time.Second, "spam")
	require.NoError(t, err)
	assert.True(t, before.Fake.Banned(guild, "P"))

	// the process dies at t=3s and comes back at t=4s
	before.Clock.Advance(3 * time.Second)

	after := coretest.Open(t, path, clock.NewFake(coretest.Start.Add(4*time.Second)))
	require.NoError(t, after.Fake.Ban(ctx, guild, "P", "spam"))
	New(after.Bundle)
	require.NoError(t, after.Scheduler.Recover(ctx))

	after.Clock.Advance(5 * time.Second)
	assert.True(t, after.Fake.Banned(guild, "P"))

	after.Clock.Advance(time.Second)
	assert.False(t, after.Fake.Banned(guild, "P"))
	_, found, err := after.Store.TempBan(ctx, guild, "P")
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, taskExists(t, after, scheduler.KindTempbanUnban, "P"))
}

func TestTempbanRollsBackWhenBanFails(t *testing.T) {
	svc, env := setup(t)
	ctx := context.Background()
	env.Fake.Failures["ban"] = fault.New(fault.PermissionDenied, "missing permissions")

	_, err := svc.Tempban(ctx, guild, "M", "P", time.Hour, "")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.PermissionDenied))
	assert.Contains(t, fault.Message(err), "not allowed to ban")
	assert.False(t, taskExists(t, env, scheduler.KindTempbanUnban, "P"))
	_, found, err := env.Store.TempBan(ctx, guild, "P")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUnbanCancelsPendingUnban(t *testing.T) {
	svc, env := setup(t)
	ctx := context.Background()

	_, err := svc.Tempban(ctx, guild, "M", "P", time.Hour, "")
	require.NoError(t, err)
	require.NoError(t, svc.Unban(ctx, guild, "M", "P"))
	assert.False(t, env.Fake.Banned(guild, "P"))
	assert.False(t, env.Scheduler.Armed(scheduler.KindTempbanUnban, guild, "P"))
	assert.False(t, taskExists(t, env, scheduler.KindTempbanUnban, "P"))

	err = svc.Unban(ctx, guild, "M", "P")
	assert.True(t, fault.Is(err, fault.UserInput))
}

func TestMuteBounds(t *testing.T) {
	svc, env := setup(t)
	ctx := context.Background()

	assert.True(t, fault.Is(svc.Mute(ctx, guild, "M", "P", 29*24*time.Hour, ""), fault.UserInput))
	require.NoError(t, svc.Mute(ctx, guild, "M", "P", time.Hour, ""))
	until := env.Fake.TimedOutUntil(guild, "P")
	require.NotNil(t, until)
	assert.Equal(t, coretest.Start.Add(time.Hour), *until)

	require.NoError(t, svc.Unmute(ctx, guild, "M", "P"))
	assert.Nil(t, env.Fake.TimedOutUntil(guild, "P"))
}

func TestClearDeletesNewestMessages(t *testing.T) {
	svc, env := setup(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		env.Fake.Post("c1", "P", "hello")
	}

	n, err := svc.Clear(ctx, guild, "M", "c1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, env.Fake.Messages("c1"), 2)

	_, err = svc.Clear(ctx, guild, "M", "c1", 0)
	assert.True(t, fault.Is(err, fault.UserInput))
}

func TestLockAndSlowmode(t *testing.T) {
	svc, env := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Lock(ctx, guild, "M", "c1"))
	require.NoError(t, svc.Unlock(ctx, guild, "M", "c1"))
	overrides := env.Fake.Overrides()
	require.Len(t, overrides, 2)
	assert.Equal(t, guild, overrides[0].TargetID)
	assert.Equal(t, int64(discordgo.PermissionSendMessages), overrides[0].Deny)
	assert.Zero(t, overrides[1].Deny)

	require.NoError(t, svc.Slowmode(ctx, guild, "M", "c1", 30*time.Second))
	ch, err := env.Platform.Channel(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 30, ch.RateLimitPerUser)
	assert.True(t, fault.Is(svc.Slowmode(ctx, guild, "M", "c1", 7*time.Hour), fault.UserInput))
}

func TestEscalationDeferredOnTransientFailure(t *testing.T) {
	svc, env := setup(t)
	ctx := context.Background()
	env.Fake.Failures["ban"] = fault.New(fault.Transient, "502")

	require.NoError(t, svc.EscalateTempban(ctx, guild, "P", time.Hour, "3 warnings"))
	assert.False(t, env.Fake.Banned(guild, "P"))
	assert.True(t, taskExists(t, env, scheduler.KindEscalationTempban, "P"))

	delete(env.Fake.Failures, "ban")
	env.Clock.Advance(10 * time.Second)
	assert.True(t, env.Fake.Banned(guild, "P"))
	assert.False(t, taskExists(t, env, scheduler.KindEscalationTempban, "P"))
	assert.True(t, taskExists(t, env, scheduler.KindTempbanUnban, "P"))
}
