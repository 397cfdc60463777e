package permissions

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildwarden/internal/core/coretest"
	"guildwarden/internal/fault"
	"guildwarden/internal/storage"
)

func banRequest(user string, roles ...string) Request {
	return Request{
		GuildID:   coretest.GuildID,
		ChannelID: "10",
		UserID:    user,
		RoleIDs:   roles,
		Command:   "moderation ban",
		Required:  discordgo.PermissionBanMembers,
	}
}

func TestChannelPermissionsAllow(t *testing.T) {
	env := coretest.New(t)
	r := New(env.Bundle)
	env.Fake.SetPermissions("5", "10", discordgo.PermissionBanMembers|discordgo.PermissionSendMessages)
	env.Fake.SetPermissions("6", "10", discordgo.PermissionAdministrator)

	assert.NoError(t, r.Check(context.Background(), banRequest("5")))
	assert.NoError(t, r.Check(context.Background(), banRequest("6")))

	err := r.Check(context.Background(), banRequest("7"))
	require.True(t, fault.Is(err, fault.PermissionDenied))
	assert.Contains(t, fault.Message(err), "Ban Members")
}

func TestGrantedRoleAllows(t *testing.T) {
	env := coretest.New(t)
	r := New(env.Bundle)
	ctx := context.Background()
	known := []string{"moderation ban", "moderation kick"}

	require.NoError(t, r.Grant(ctx, coretest.GuildID, "r1", " Moderation Ban ", known))
	assert.NoError(t, r.Check(ctx, banRequest("7", "r2", "r1")))
	assert.Error(t, r.Check(ctx, banRequest("7", "r2")))

	kick := banRequest("7", "r1")
	kick.Command = "moderation kick"
	assert.Error(t, r.Check(ctx, kick))

	assert.True(t, fault.Is(r.Grant(ctx, coretest.GuildID, "r1", "launch", known), fault.UserInput))

	require.NoError(t, r.Revoke(ctx, coretest.GuildID, "r1", "moderation ban"))
	assert.Error(t, r.Check(ctx, banRequest("7", "r1")))
	assert.True(t, fault.Is(r.Revoke(ctx, coretest.GuildID, "r1", "moderation ban"), fault.EntityMissing))
}

func TestGlobalBanWinsOverEverything(t *testing.T) {
	env := coretest.New(t)
	r := New(env.Bundle)
	ctx := context.Background()
	env.Fake.SetPermissions("5", "10", discordgo.PermissionAdministrator)
	require.NoError(t, env.Store.AddGlobalBan(ctx, storage.GlobalBan{UserID: "5", Reason: "abuse"}))

	err := r.Check(ctx, Request{GuildID: coretest.GuildID, ChannelID: "10", UserID: "5"})
	require.True(t, fault.Is(err, fault.PermissionDenied))
	assert.Equal(t, BannedMessage, fault.Message(err))
}

func TestMusicAllowList(t *testing.T) {
	env := coretest.New(t)
	r := New(env.Bundle)
	ctx := context.Background()
	music := Request{GuildID: coretest.GuildID, ChannelID: "10", UserID: "5", RoleIDs: []string{"dj"}, Music: true}

	assert.NoError(t, r.Check(ctx, music), "an empty list admits everyone")

	_, err := env.Store.UpdateGuildSettings(ctx, coretest.GuildID, func(s *storage.GuildSettings) error {
		s.MusicRoles = storage.StringList{"vip"}
		return nil
	})
	require.NoError(t, err)
	assert.True(t, fault.Is(r.Check(ctx, music), fault.PermissionDenied))

	music.RoleIDs = append(music.RoleIDs, "vip")
	assert.NoError(t, r.Check(ctx, music))
}

func TestNames(t *testing.T) {
	assert.Equal(t, "Ban Members, Kick Members", Names(discordgo.PermissionKickMembers|discordgo.PermissionBanMembers))
	assert.Equal(t, "required", Names(0))
}
