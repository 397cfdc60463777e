package bot

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildwarden/internal/breaker"
	"guildwarden/internal/commands"
	"guildwarden/internal/core/coretest"
	"guildwarden/internal/fault"
	"guildwarden/internal/feeds"
	"guildwarden/internal/giveaway"
	"guildwarden/internal/interactive"
	"guildwarden/internal/invites"
	"guildwarden/internal/leveling"
	"guildwarden/internal/moderation"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/modules/wordblock"
	"guildwarden/internal/permissions"
	"guildwarden/internal/pipeline"
	"guildwarden/internal/reactions"
	"guildwarden/internal/storage"
	"guildwarden/internal/warnings"
)

const (
	logs     = "30"
	welcome  = "20"
	general  = "10"
	newcomer = "8"
)

type noFeeds struct{}

func (noFeeds) Newest(context.Context, string) (feeds.Item, error) {
	return feeds.Item{}, fault.Input("no feeds in tests")
}

func setup(t *testing.T) (*Bot, *coretest.Env) {
	t.Helper()
	env := coretest.New(t)
	env.Channel(general)
	env.Channel(welcome)
	env.Channel(logs)

	mod := moderation.New(env.Bundle)
	gw := giveaway.New(env.Bundle)
	lvl := leveling.New(env.Bundle)
	inv := invites.New(env.Bundle)
	router := reactions.New(env.Bundle, gw)
	flows := interactive.New(env.Bundle)
	breakers := breaker.New(env.Logger, breaker.DefaultOptions())
	surface := commands.New(env.Bundle, commands.Deps{
		Moderation: mod,
		Warnings:   warnings.New(env.Bundle, mod),
		Giveaways:  gw,
		Leveling:   lvl,
		Invites:    inv,
		Reactions:  router,
		WordBlock:  wordblock.New(env.Bundle),
		Feeds:      feeds.New(env.Bundle, noFeeds{}),
		Flows:      flows,
		Breakers:   breakers,
		Perms:      permissions.New(env.Bundle),
	})
	b := New(env.Bundle, nil, Deps{
		Surface:   surface,
		Chain:     pipeline.New(env.Bundle, lvl),
		Reactions: router,
		Invites:   inv,
		Flows:     flows,
		Breakers:  breakers,
	})
	return b, env
}

func configure(t *testing.T, env *coretest.Env, mutate func(*storage.GuildSettings)) {
	t.Helper()
	_, err := env.Store.UpdateGuildSettings(context.Background(), coretest.GuildID, func(s *storage.GuildSettings) error {
		mutate(s)
		return nil
	})
	require.NoError(t, err)
}

func join(userID string) *discordgo.GuildMemberAdd {
	return &discordgo.GuildMemberAdd{Member: &discordgo.Member{
		GuildID: coretest.GuildID,
		User:    &discordgo.User{ID: userID, Username: "newbie"},
	}}
}

func embedTitles(msgs []*discordgo.Message) []string {
	var titles []string
	for _, m := range msgs {
		for _, e := range m.Embeds {
			titles = append(titles, e.Title)
		}
	}
	return titles
}

func fieldValue(e *discordgo.MessageEmbed, name string) string {
	for _, f := range e.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func TestMemberJoinWelcomesAndGrantsStartRole(t *testing.T) {
	b, env := setup(t)
	env.Fake.AddMember(coretest.GuildID, newcomer, true)
	configure(t, env, func(s *storage.GuildSettings) {
		s.WelcomeChannel = welcome
		s.StartRole = "r1"
		s.LogChannel = logs
	})

	b.onMemberAdd(nil, join(newcomer))

	sent := env.Fake.BotMessages(welcome)
	require.Len(t, sent, 1)
	assert.Equal(t, "Welcome <@8> to Den! You are member #1.", sent[0].Content)
	assert.Contains(t, env.Fake.MemberRoles(coretest.GuildID, newcomer), "r1")
	assert.Equal(t, []string{"Member joined"}, embedTitles(env.Fake.BotMessages(logs)))
}

func TestMemberJoinUsesCustomTemplate(t *testing.T) {
	b, env := setup(t)
	env.Fake.AddMember(coretest.GuildID, newcomer, true)
	b.Config.SupportURL = "https://support.example"
	configure(t, env, func(s *storage.GuildSettings) {
		s.WelcomeChannel = welcome
		s.WelcomeMessage = "Hi {username}, help lives at {support}"
	})

	b.onMemberAdd(nil, join(newcomer))

	sent := env.Fake.BotMessages(welcome)
	require.Len(t, sent, 1)
	assert.Equal(t, "Hi newbie, help lives at https://support.example", sent[0].Content)
}

func TestStartRoleDeniedIsAudited(t *testing.T) {
	b, env := setup(t)
	env.Fake.AddMember(coretest.GuildID, newcomer, true)
	env.Fake.Failures["grant role"] = fault.Denied("missing Manage Roles")
	configure(t, env, func(s *storage.GuildSettings) {
		s.StartRole = "r1"
		s.LogChannel = logs
	})

	b.onMemberAdd(nil, join(newcomer))

	assert.Empty(t, env.Fake.MemberRoles(coretest.GuildID, newcomer))
	entries, err := env.Store.ListAuditLogs(context.Background(), coretest.GuildID, coretest.Start.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.LevelWarn, entries[0].Level)
	assert.Equal(t, "start_role_failed", entries[0].Event)
}

func TestMemberLeaveSaysGoodbye(t *testing.T) {
	b, env := setup(t)
	configure(t, env, func(s *storage.GuildSettings) {
		s.GoodbyeChannel = welcome
	})

	b.onMemberRemove(nil, &discordgo.GuildMemberRemove{Member: &discordgo.Member{
		GuildID: coretest.GuildID,
		User:    &discordgo.User{ID: newcomer, Username: "newbie"},
	}})

	sent := env.Fake.BotMessages(welcome)
	require.Len(t, sent, 1)
	assert.Equal(t, "<@8> left Den.", sent[0].Content)
}

func mention(id, author string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        id,
		ChannelID: general,
		GuildID:   coretest.GuildID,
		Content:   "hey <@8>",
		Author:    &discordgo.User{ID: author},
		Mentions:  []*discordgo.User{{ID: newcomer}},
	}}
}

func deleted(id string) *discordgo.MessageDelete {
	return &discordgo.MessageDelete{Message: &discordgo.Message{ID: id, ChannelID: general, GuildID: coretest.GuildID}}
}

func TestGhostPingNotice(t *testing.T) {
	b, env := setup(t)
	configure(t, env, func(s *storage.GuildSettings) { s.GhostPing = true })

	b.onMessageCreate(nil, mention("m1", "7"))
	b.onMessageDelete(nil, deleted("m1"))

	sent := env.Fake.BotMessages(general)
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Embeds, 1)
	assert.Equal(t, "Ghost ping", sent[0].Embeds[0].Title)
	assert.Contains(t, sent[0].Embeds[0].Description, "<@7>")
	assert.Contains(t, sent[0].Embeds[0].Description, "<@8>")
}

func TestGhostPingIgnoresOldAndSelfMentions(t *testing.T) {
	b, env := setup(t)
	configure(t, env, func(s *storage.GuildSettings) { s.GhostPing = true })

	b.onMessageCreate(nil, mention("m1", "7"))
	env.Clock.Advance(ghostWindow + time.Second)
	b.onMessageDelete(nil, deleted("m1"))

	b.onMessageCreate(nil, mention("m2", newcomer))
	b.onMessageDelete(nil, deleted("m2"))

	assert.Empty(t, env.Fake.BotMessages(general))
}

func TestGhostPingDisabled(t *testing.T) {
	b, env := setup(t)

	b.onMessageCreate(nil, mention("m1", "7"))
	b.onMessageDelete(nil, deleted("m1"))

	assert.Empty(t, env.Fake.BotMessages(general))
}

func TestEditAndDeleteMirrored(t *testing.T) {
	b, env := setup(t)
	configure(t, env, func(s *storage.GuildSettings) { s.LogChannel = logs })
	author := &discordgo.User{ID: "7"}
	before := &discordgo.Message{ID: "m1", ChannelID: general, GuildID: coretest.GuildID, Author: author, Content: "old"}
	after := &discordgo.Message{ID: "m1", ChannelID: general, GuildID: coretest.GuildID, Author: author, Content: "new"}

	b.onMessageUpdate(nil, &discordgo.MessageUpdate{Message: after, BeforeUpdate: before})
	b.onMessageDelete(nil, &discordgo.MessageDelete{Message: deleted("m1").Message, BeforeDelete: after})

	sent := env.Fake.BotMessages(logs)
	require.Len(t, sent, 2)
	assert.Equal(t, "Message edited", sent[0].Embeds[0].Title)
	assert.Equal(t, "old", fieldValue(sent[0].Embeds[0], "Before"))
	assert.Equal(t, "new", fieldValue(sent[0].Embeds[0], "After"))
	assert.Equal(t, "Message deleted", sent[1].Embeds[0].Title)
	assert.Equal(t, "new", fieldValue(sent[1].Embeds[0], "Content"))
}

func TestAuditNoticesAggregate(t *testing.T) {
	b, env := setup(t)
	configure(t, env, func(s *storage.GuildSettings) { s.LogChannel = logs })
	ctx := context.Background()

	b.Audit.Log(ctx, audit.LevelWarn, coretest.GuildID, "7", "anti_link", "deleted a link")
	b.Audit.Log(ctx, audit.LevelWarn, coretest.GuildID, "7", "anti_link", "deleted a link")

	sent := env.Fake.BotMessages(logs)
	require.Len(t, sent, 1)
	assert.Equal(t, "2", fieldValue(sent[0].Embeds[0], "Count"))

	env.Clock.Advance(auditWindow + time.Minute)
	b.Audit.Log(ctx, audit.LevelWarn, coretest.GuildID, "7", "anti_link", "deleted a link")
	assert.Len(t, env.Fake.BotMessages(logs), 2)
}

func TestAuditNoticeWithoutLogChannel(t *testing.T) {
	b, env := setup(t)

	b.Audit.Log(context.Background(), audit.LevelInfo, coretest.GuildID, "7", "settings_changed", "x")

	assert.Zero(t, env.Fake.Calls("send message"))
}

func TestShardCheck(t *testing.T) {
	b, _ := setup(t)
	b.Config.ShardID, b.Config.ShardCount = 0, 2

	err := b.checkShard(&discordgo.Ready{Shard: &[2]int{1, 2}})
	assert.True(t, fault.Is(err, fault.IntegrityViolation))

	// (1 << 22) lands on shard 1 of 2.
	err = b.checkShard(&discordgo.Ready{Shard: &[2]int{0, 2}, Guilds: []*discordgo.Guild{{ID: "4194304"}}})
	assert.True(t, fault.Is(err, fault.IntegrityViolation))

	assert.NoError(t, b.checkShard(&discordgo.Ready{Shard: &[2]int{0, 2}, Guilds: []*discordgo.Guild{{ID: "8388608"}}}))
}

func TestRegisterCommandsWithoutSession(t *testing.T) {
	b, _ := setup(t)
	assert.NoError(t, b.registerCommands(context.Background()))
}

func TestChannelDeletedWithNothingStored(t *testing.T) {
	b, _ := setup(t)
	assert.NoError(t, b.channelDeleted(context.Background(), coretest.GuildID, general))
}
