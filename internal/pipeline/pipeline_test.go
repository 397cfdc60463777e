package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildwarden/internal/core/coretest"
	"guildwarden/internal/leveling"
	"guildwarden/internal/storage"
)

type stubFilter struct {
	name    string
	outcome Outcome
	err     error
	seen    []string
}

func (f *stubFilter) Name() string { return f.name }

func (f *stubFilter) Handle(_ context.Context, msg *Message) (Outcome, error) {
	f.seen = append(f.seen, msg.ID)
	return f.outcome, f.err
}

func enableLeveling(t *testing.T, env *coretest.Env) {
	t.Helper()
	_, err := env.Store.UpdateGuildSettings(context.Background(), coretest.GuildID, func(s *storage.GuildSettings) error {
		s.Leveling = true
		return nil
	})
	require.NoError(t, err)
}

func TestChainShortCircuitsButAlwaysAccrues(t *testing.T) {
	env := coretest.New(t)
	env.Channel("10")
	enableLeveling(t, env)

	first := &stubFilter{name: "first"}
	second := &stubFilter{name: "second", outcome: Handled}
	third := &stubFilter{name: "third"}
	chain := New(env.Bundle, leveling.New(env.Bundle), first, second, third)

	msg := env.Fake.Post("10", "7", "hello")
	handledBy, err := chain.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "second", handledBy)
	assert.Len(t, first.seen, 1)
	assert.Len(t, second.seen, 1)
	assert.Empty(t, third.seen)

	counter, found, err := env.Store.LevelingCounter(context.Background(), coretest.GuildID, "7")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, leveling.BaseGain, counter.XP)
}

func TestChainContinuesPastFailingFilter(t *testing.T) {
	env := coretest.New(t)
	env.Channel("10")

	broken := &stubFilter{name: "broken", err: errors.New("boom")}
	next := &stubFilter{name: "next", outcome: Handled}
	chain := New(env.Bundle, nil, broken, next)

	handledBy, err := chain.Process(context.Background(), env.Fake.Post("10", "7", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "next", handledBy)
}

func TestChainIgnoresBotsAndDirectMessages(t *testing.T) {
	env := coretest.New(t)
	env.Channel("10")
	f := &stubFilter{name: "f"}
	chain := New(env.Bundle, nil, f)

	bot := env.Fake.Post("10", coretest.BotID, "hello")
	_, err := chain.Process(context.Background(), bot)
	require.NoError(t, err)

	dm := &discordgo.Message{ID: "1", ChannelID: "dm", Author: &discordgo.User{ID: "7"}, Content: "hi"}
	_, err = chain.Process(context.Background(), dm)
	require.NoError(t, err)
	assert.Empty(t, f.seen)
}

func TestModeratorFlag(t *testing.T) {
	env := coretest.New(t)
	env.Channel("10")
	_, err := env.Store.UpdateGuildSettings(context.Background(), coretest.GuildID, func(s *storage.GuildSettings) error {
		s.LinkFilter = true
		return nil
	})
	require.NoError(t, err)
	env.Fake.SetPermissions("8", "10", discordgo.PermissionManageMessages)

	var moderator []bool
	spy := filterFunc(func(msg *Message) { moderator = append(moderator, msg.Moderator) })
	chain := New(env.Bundle, nil, spy)
	_, err = chain.Process(context.Background(), env.Fake.Post("10", "7", "x"))
	require.NoError(t, err)
	_, err = chain.Process(context.Background(), env.Fake.Post("10", "8", "x"))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, moderator)
}

type filterFunc func(msg *Message)

func (f filterFunc) Name() string { return "spy" }

func (f filterFunc) Handle(_ context.Context, msg *Message) (Outcome, error) {
	f(msg)
	return NotHandled, nil
}

func TestGreetingOnlyForDirectMention(t *testing.T) {
	env := coretest.New(t)
	env.Channel("10")
	chain := New(env.Bundle, nil, NewGreeting(env.Bundle))
	ctx := context.Background()

	handledBy, err := chain.Process(ctx, env.Fake.Post("10", "7", "hey <@"+coretest.BotID+">"))
	require.NoError(t, err)
	assert.Equal(t, "greeting", handledBy)
	require.Len(t, env.Fake.BotMessages("10"), 1)
	assert.Equal(t, "Hello!", env.Fake.BotMessages("10")[0].Embeds[0].Title)

	broadcast := env.Fake.Post("10", "7", "@everyone <@"+coretest.BotID+">")
	broadcast.MentionEveryone = true
	handledBy, err = chain.Process(ctx, broadcast)
	require.NoError(t, err)
	assert.Empty(t, handledBy)

	handledBy, err = chain.Process(ctx, env.Fake.Post("10", "7", "no mention here"))
	require.NoError(t, err)
	assert.Empty(t, handledBy)
}

func TestSuggestionRepostsAsBallot(t *testing.T) {
	env := coretest.New(t)
	env.Channel("20")
	_, err := env.Store.UpdateGuildSettings(context.Background(), coretest.GuildID, func(s *storage.GuildSettings) error {
		s.SuggestionChannel = "20"
		s.SuggestionThreads = true
		return nil
	})
	require.NoError(t, err)
	chain := New(env.Bundle, nil, NewSuggestion(env.Bundle))

	original := env.Fake.Post("20", "7", "add a music channel")
	handledBy, err := chain.Process(context.Background(), original)
	require.NoError(t, err)
	assert.Equal(t, "suggestion", handledBy)

	msgs := env.Fake.Messages("20")
	require.Len(t, msgs, 1)
	posted := msgs[0]
	assert.NotEqual(t, original.ID, posted.ID)
	require.Len(t, posted.Embeds, 1)
	assert.Equal(t, "add a music channel", posted.Embeds[0].Description)
	assert.Equal(t, []string{coretest.BotID}, env.Fake.ReactionUserIDs(posted.ID, "👍"))
	assert.Equal(t, []string{coretest.BotID}, env.Fake.ReactionUserIDs(posted.ID, "👎"))
	assert.Equal(t, 1, env.Fake.Calls("start thread"))
}

func TestResponderFirstMatchWins(t *testing.T) {
	env := coretest.New(t)
	env.Channel("10")
	ctx := context.Background()
	require.NoError(t, env.Store.AddAutoResponse(ctx, storage.AutoResponse{GuildID: coretest.GuildID, Trigger: "hello", MatchMode: storage.MatchContains, Reply: "first"}))
	require.NoError(t, env.Store.AddAutoResponse(ctx, storage.AutoResponse{GuildID: coretest.GuildID, Trigger: "hello there", MatchMode: storage.MatchEquals, Reply: "second"}))
	chain := New(env.Bundle, nil, NewResponder(env.Bundle))

	handledBy, err := chain.Process(ctx, env.Fake.Post("10", "7", "HELLO there"))
	require.NoError(t, err)
	assert.Equal(t, "auto-responder", handledBy)
	replies := env.Fake.BotMessages("10")
	require.Len(t, replies, 1)
	assert.Equal(t, "first", replies[0].Content)

	handledBy, err = chain.Process(ctx, env.Fake.Post("10", "7", "goodbye"))
	require.NoError(t, err)
	assert.Empty(t, handledBy)
}
