package invites

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildwarden/internal/core/coretest"
	"guildwarden/internal/fault"
	"guildwarden/internal/storage"
)

// snowflake builds a user id whose embedded creation time is t.
func snowflake(t time.Time) string {
	return strconv.FormatInt((t.UnixMilli()-1420070400000)<<22, 10)
}

func invite(code string, uses int, inviter string) *discordgo.Invite {
	return &discordgo.Invite{Code: code, Uses: uses, Inviter: &discordgo.User{ID: inviter}}
}

func setup(t *testing.T) (*Service, *coretest.Env) {
	t.Helper()
	env := coretest.New(t)
	env.Channel("50")
	svc := New(env.Bundle)
	env.Fake.SetInvites(coretest.GuildID, invite("abc", 4, "I"), invite("xyz", 0, "J"))
	require.NoError(t, svc.Enable(context.Background(), coretest.GuildID, "M"))
	return svc, env
}

func TestFakeInviteClassification(t *testing.T) {
	svc, env := setup(t)
	ctx := context.Background()
	joiner := snowflake(env.Clock.Now().Add(-48 * time.Hour))

	env.Fake.SetInvites(coretest.GuildID, invite("abc", 5, "I"), invite("xyz", 0, "J"))
	join, ok, err := svc.MemberJoin(ctx, coretest.GuildID, joiner)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, join.Fake)
	assert.Equal(t, "I", join.InviterID)

	ledger, err := svc.Check(ctx, coretest.GuildID, "I")
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.Fake)
	assert.Equal(t, 0, ledger.Normal)
	assert.False(t, ledger.Invited.Contains(joiner))

	snap, _, err := env.Store.InviteSnapshot(ctx, coretest.GuildID)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.Invites[0].Uses)
}

func TestLedgerConservation(t *testing.T) {
	svc, env := setup(t)
	ctx := context.Background()
	old := env.Clock.Now().AddDate(-2, 0, 0)

	uses := map[string]int{"abc": 4, "xyz": 0}
	inviters := map[string]string{"abc": "I", "xyz": "J"}
	joins := []struct{ code, user string }{
		{"abc", snowflake(old)},
		{"xyz", snowflake(old.Add(time.Hour))},
		{"abc", snowflake(old.Add(2 * time.Hour))},
		{"abc", snowflake(old.Add(3 * time.Hour))},
	}
	for _, j := range joins {
		uses[j.code]++
		env.Fake.SetInvites(coretest.GuildID, invite("abc", uses["abc"], "I"), invite("xyz", uses["xyz"], "J"))
		join, ok, err := svc.MemberJoin(ctx, coretest.GuildID, j.user)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, inviters[j.code], join.InviterID)
		assert.False(t, join.Fake)
	}

	for _, leaver := range []string{joins[0].user, joins[1].user, "never-tracked"} {
		_, err := svc.MemberLeave(ctx, coretest.GuildID, leaver)
		require.NoError(t, err)
	}

	ledgers, err := env.Store.ListInviteLedgers(ctx, coretest.GuildID)
	require.NoError(t, err)
	normal, left := 0, 0
	for _, l := range ledgers {
		normal += l.Normal
		left += l.Left
	}
	assert.Equal(t, len(joins), normal)
	assert.Equal(t, 2, left)

	i, err := svc.Check(ctx, coretest.GuildID, "I")
	require.NoError(t, err)
	assert.Equal(t, 2, i.Total())
	assert.Len(t, i.Invited, 2)
}

func TestUnresolvedJoinNotice(t *testing.T) {
	svc, env := setup(t)
	ctx := context.Background()
	require.NoError(t, svc.SetNotify(ctx, coretest.GuildID, storage.InviteNotify{ChannelID: "50"}))

	_, ok, err := svc.MemberJoin(ctx, coretest.GuildID, snowflake(env.Clock.Now().AddDate(-1, 0, 0)))
	require.NoError(t, err)
	assert.False(t, ok)
	notices := env.Fake.BotMessages("50")
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Content, "couldn't figure out")
}

func TestJoinNoticeTemplate(t *testing.T) {
	svc, env := setup(t)
	ctx := context.Background()
	require.NoError(t, svc.SetNotify(ctx, coretest.GuildID, storage.InviteNotify{ChannelID: "50", JoinTemplate: "{user} via {code} by {inviter} ({invites})"}))
	user := snowflake(env.Clock.Now().AddDate(-1, 0, 0))

	env.Fake.SetInvites(coretest.GuildID, invite("abc", 4, "I"), invite("xyz", 1, "J"))
	_, ok, err := svc.MemberJoin(ctx, coretest.GuildID, user)
	require.NoError(t, err)
	require.True(t, ok)
	notices := env.Fake.BotMessages("50")
	require.Len(t, notices, 1)
	assert.Equal(t, "<@"+user+"> via xyz by <@J> (1)", notices[0].Content)
}

func TestPlatformFailureIsSilent(t *testing.T) {
	svc, env := setup(t)
	env.Fake.Failures["fetch invites"] = fault.New(fault.Transient, "502")
	_, ok, err := svc.MemberJoin(context.Background(), coretest.GuildID, "1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnableDisableEnable(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	assert.True(t, fault.Is(svc.Enable(ctx, coretest.GuildID, "M"), fault.UserInput))
	require.NoError(t, svc.Disable(ctx, coretest.GuildID, "M"))
	assert.True(t, fault.Is(svc.Disable(ctx, coretest.GuildID, "M"), fault.UserInput))
	require.NoError(t, svc.Enable(ctx, coretest.GuildID, "M"))

	info, err := svc.Info(ctx, coretest.GuildID)
	require.NoError(t, err)
	assert.True(t, info.Enabled)
	assert.Equal(t, 2, info.Codes)
}

func TestBonus(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	ledger, err := svc.AdjustBonus(ctx, coretest.GuildID, "M", "I", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, ledger.Total())
	ledger, err = svc.AdjustBonus(ctx, coretest.GuildID, "M", "I", -2)
	require.NoError(t, err)
	assert.Equal(t, 3, ledger.Total())
	_, err = svc.AdjustBonus(ctx, coretest.GuildID, "M", "I", 0)
	assert.True(t, fault.Is(err, fault.UserInput))
}

func TestIsFake(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.True(t, IsFake(now.AddDate(0, 0, -7), now))
	assert.False(t, IsFake(now.AddDate(0, 0, -8), now))
	assert.False(t, IsFake(now.AddDate(-1, 0, 0), now))
	// the heuristic does not look across month boundaries
	assert.False(t, IsFake(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
}
