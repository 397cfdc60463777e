package cache

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildwarden/internal/clock"
	"guildwarden/internal/platform/platformtest"
)

func TestChannelNegativeMemo(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	fake := platformtest.New("bot", clk)
	c := New(fake, clk, false)
	ctx := context.Background()

	_, ok, err := c.Channel(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = c.Channel(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, fake.Calls("fetch channel"))

	fake.AddChannel(&discordgo.Channel{ID: "gone", GuildID: "g"})
	clk.Advance(NegativeTTL + time.Second)

	ch, ok, err := c.Channel(ctx, "gone")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "g", ch.GuildID)
	assert.Equal(t, 2, fake.Calls("fetch channel"))

	_, _, _ = c.Channel(ctx, "gone")
	assert.Equal(t, 2, fake.Calls("fetch channel"))

	c.InvalidateChannel("gone")
	_, _, _ = c.Channel(ctx, "gone")
	assert.Equal(t, 3, fake.Calls("fetch channel"))
}

func TestMemberFallsBackToHTTP(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	fake := platformtest.New("bot", clk)
	fake.AddMember("g", "in-state", true, "r1")
	fake.AddMember("g", "http-only", false, "r2")
	c := New(fake, clk, false)
	ctx := context.Background()

	m, ok, err := c.Member(ctx, "g", "in-state")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"r1"}, m.Roles)
	assert.Equal(t, 0, fake.Calls("fetch member"))

	m, ok, err = c.Member(ctx, "g", "http-only")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"r2"}, m.Roles)
	assert.Equal(t, 1, fake.Calls("fetch member"))
}

func TestLazyMembersSkipState(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	fake := platformtest.New("bot", clk)
	fake.AddMember("g", "u", true)
	c := New(fake, clk, true)

	_, ok, err := c.Member(context.Background(), "g", "u")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, fake.Calls("fetch member"))
}

func TestRoleLookup(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	fake := platformtest.New("bot", clk)
	fake.AddRoleDef("g", &discordgo.Role{ID: "r1", Name: "Helper", Position: 3})
	c := New(fake, clk, false)

	role, ok, err := c.Role(context.Background(), "g", "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Helper", role.Name)

	_, ok, err = c.Role(context.Background(), "g", "r2")
	require.NoError(t, err)
	assert.False(t, ok)
}
