// Package platform is the only egress to the chat platform. Every outbound
// operation takes a context and returns errors classified by package fault.
package platform

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

type Client interface {
	BotUserID() string
	Latency() time.Duration
	Shard() (id, count int)

	SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	SendDM(ctx context.Context, userID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	EditMessage(ctx context.Context, edit *discordgo.MessageEdit) (*discordgo.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	BulkDeleteMessages(ctx context.Context, channelID string, messageIDs []string) error
	Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error)
	// MessagesSince returns up to limit of the newest messages of the channel
	// created at or after since, newest first.
	MessagesSince(ctx context.Context, channelID string, since time.Time, limit int) ([]*discordgo.Message, error)

	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error
	ReactionUsers(ctx context.Context, channelID, messageID, emoji string) ([]*discordgo.User, error)

	Guild(ctx context.Context, guildID string) (*discordgo.Guild, error)
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	Roles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
	Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
	// StateMember reads the gateway member cache without issuing a request.
	StateMember(guildID, userID string) (*discordgo.Member, bool)
	ChannelPermissions(ctx context.Context, userID, channelID string) (int64, error)

	CreateChannel(ctx context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error)
	EditChannel(ctx context.Context, channelID string, edit *discordgo.ChannelEdit) (*discordgo.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	StartThread(ctx context.Context, channelID, messageID, name string) (*discordgo.Channel, error)
	SetPermissionOverride(ctx context.Context, channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64) error

	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	Ban(ctx context.Context, guildID, userID, reason string) error
	Unban(ctx context.Context, guildID, userID string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	// Timeout applies a communication timeout; a nil until lifts it.
	Timeout(ctx context.Context, guildID, userID string, until *time.Time) error

	Invites(ctx context.Context, guildID string) ([]*discordgo.Invite, error)
	AuditLog(ctx context.Context, guildID string, action discordgo.AuditLogAction, limit int) (*discordgo.GuildAuditLog, error)

	RespondInteraction(ctx context.Context, i *discordgo.Interaction, resp *discordgo.InteractionResponse) error
	EditInteractionResponse(ctx context.Context, i *discordgo.Interaction, edit *discordgo.WebhookEdit) error
	CreateCommand(ctx context.Context, guildID string, cmd *discordgo.ApplicationCommand) (*discordgo.ApplicationCommand, error)
	DeleteCommand(ctx context.Context, guildID, commandID string) error
}

// Text builds a plain message with mentions disabled.
func Text(content string) *discordgo.MessageSend {
	return &discordgo.MessageSend{Content: content, AllowedMentions: NoMentions()}
}

// Embed wraps a single embed with mentions disabled.
func Embed(embed *discordgo.MessageEmbed) *discordgo.MessageSend {
	return &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}, AllowedMentions: NoMentions()}
}

func NoMentions() *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
}

// UserMentions resolves user mentions only.
func UserMentions() *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers}}
}

// AllMentions resolves users, roles and everyone.
func AllMentions() *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{
		discordgo.AllowedMentionTypeUsers,
		discordgo.AllowedMentionTypeRoles,
		discordgo.AllowedMentionTypeEveryone,
	}}
}

func HasPermission(perms, required int64) bool {
	if perms&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return perms&required == required
}

func HasRole(member *discordgo.Member, roleID string) bool {
	if member == nil {
		return false
	}
	for _, id := range member.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}

// AccountCreated derives the creation time encoded in a snowflake id.
func AccountCreated(userID string) (time.Time, bool) {
	t, err := discordgo.SnowflakeTimestamp(userID)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ShardFor returns the shard that receives events for guildID.
func ShardFor(guildID string, shardCount int) int {
	id, err := strconv.ParseUint(guildID, 10, 64)
	if err != nil || shardCount < 2 {
		return 0
	}
	return int((id >> 22) % uint64(shardCount))
}
