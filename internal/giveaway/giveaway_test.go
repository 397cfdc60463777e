package giveaway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildwarden/internal/core/coretest"
	"guildwarden/internal/fault"
	"guildwarden/internal/render"
	"guildwarden/internal/scheduler"
	"guildwarden/internal/storage"
)

func setup(t *testing.T) (*Service, *coretest.Env) {
	t.Helper()
	env := coretest.New(t)
	env.Channel("10")
	return New(env.Bundle), env
}

func TestEndNowFinishesWithinRefreshBound(t *testing.T) {
	svc, env := setup(t)
	ctx := context.Background()

	g, err := svc.Start(ctx, StartInput{GuildID: coretest.GuildID, ChannelID: "10", HostID: "1", Reward: "Nitro", Duration: time.Hour, Winners: 1})
	require.NoError(t, err)
	env.Fake.React(g.MessageID, JoinEmoji, "7")

	env.Clock.Advance(5 * time.Second)
	require.NoError(t, svc.EndNow(ctx, coretest.GuildID, "Nitro"))
	env.Clock.Advance(RefreshEvery)

	_, found, err := env.Store.Giveaway(ctx, coretest.GuildID, "Nitro")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = env.Store.ScheduledTask(ctx, scheduler.KindGiveawayEnd, coretest.GuildID, "Nitro")
	require.NoError(t, err)
	assert.False(t, found)

	msgs := env.Fake.Messages("10")
	require.Len(t, msgs, 2)
	require.Len(t, msgs[0].Embeds, 1)
	assert.Equal(t, EndedTitle, msgs[0].Embeds[0].Title)
	assert.Equal(t, render.ColorGreen, msgs[0].Embeds[0].Color)
	assert.Contains(t, msgs[1].Content, "<@7>")
}

func TestEndRechecksRequirement(t *testing.T) {
	svc, env := setup(t)
	ctx := context.Background()
	env.Fake.AddMember(coretest.GuildID, "7", true, "vip")
	env.Fake.AddMember(coretest.GuildID, "8", true)

	g, err := svc.Start(ctx, StartInput{
		GuildID: coretest.GuildID, ChannelID: "10", HostID: "1", Reward: "Role prize",
		Duration: time.Minute, Winners: 2,
		Requirement: storage.Requirement{Kind: storage.RequireRole, RoleID: "vip"},
	})
	require.NoError(t, err)
	env.Fake.React(g.MessageID, JoinEmoji, "7")
	env.Fake.React(g.MessageID, JoinEmoji, "8")

	env.Clock.Advance(time.Minute)

	msgs := env.Fake.Messages("10")
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "<@7>")
	assert.NotContains(t, msgs[1].Content, "<@8>")
}

func TestNoEntrants(t *testing.T) {
	svc, env := setup(t)
	_, err := svc.Start(context.Background(), StartInput{GuildID: coretest.GuildID, ChannelID: "10", HostID: "1", Reward: "Mug", Duration: time.Minute, Winners: 1})
	require.NoError(t, err)

	env.Clock.Advance(time.Minute)
	msgs := env.Fake.Messages("10")
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "No valid entries")
}

func TestStartValidation(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	base := StartInput{GuildID: coretest.GuildID, ChannelID: "10", HostID: "1", Reward: "Prize", Duration: time.Hour, Winners: 1}

	bad := base
	bad.Winners = 0
	_, err := svc.Start(ctx, bad)
	assert.True(t, fault.Is(err, fault.UserInput))

	bad = base
	bad.Duration = time.Second
	_, err = svc.Start(ctx, bad)
	assert.True(t, fault.Is(err, fault.UserInput))

	_, err = svc.Start(ctx, base)
	require.NoError(t, err)
	_, err = svc.Start(ctx, base)
	assert.True(t, fault.Is(err, fault.UserInput), "one giveaway per reward")

	assert.True(t, fault.Is(svc.EndNow(ctx, coretest.GuildID, "unknown"), fault.EntityMissing))
}

func TestRerollAfterEnd(t *testing.T) {
	svc, env := setup(t)
	ctx := context.Background()
	g, err := svc.Start(ctx, StartInput{GuildID: coretest.GuildID, ChannelID: "10", HostID: "1", Reward: "Key", Duration: time.Minute, Winners: 1})
	require.NoError(t, err)
	env.Fake.React(g.MessageID, JoinEmoji, "7")
	env.Fake.React(g.MessageID, JoinEmoji, "8")

	_, err = svc.Reroll(ctx, coretest.GuildID, "10", g.MessageID, 1)
	assert.True(t, fault.Is(err, fault.UserInput), "running giveaways cannot be rerolled")

	env.Clock.Advance(time.Minute)
	winners, err := svc.Reroll(ctx, coretest.GuildID, "10", g.MessageID, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"7", "8"}, winners)
}

func TestEligibleLevelAndInvites(t *testing.T) {
	svc, env := setup(t)
	ctx := context.Background()
	require.NoError(t, env.Store.UpsertLevelingCounter(ctx, storage.LevelingCounter{GuildID: coretest.GuildID, UserID: "7", Level: 4}))
	require.NoError(t, env.Store.UpsertInviteLedger(ctx, storage.InviteLedger{GuildID: coretest.GuildID, UserID: "7", Normal: 3, Left: 1, Bonus: 1}))

	ok, _, err := svc.Eligible(ctx, coretest.GuildID, "7", storage.Requirement{Kind: storage.RequireLevel, Threshold: 4})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, reason, err := svc.Eligible(ctx, coretest.GuildID, "8", storage.Requirement{Kind: storage.RequireLevel, Threshold: 2})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "level 2")

	ok, _, err = svc.Eligible(ctx, coretest.GuildID, "7", storage.Requirement{Kind: storage.RequireInvites, Threshold: 3})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _, err = svc.Eligible(ctx, coretest.GuildID, "7", storage.Requirement{Kind: storage.RequireInvites, Threshold: 4})
	require.NoError(t, err)
	assert.False(t, ok)
}
