package platform

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
)

const historyPageSize = 100

// Discord implements Client over a discordgo session. Every REST call is
// bounded by timeout.
type Discord struct {
	session *discordgo.Session
	timeout time.Duration
}

func NewDiscord(session *discordgo.Session, timeout time.Duration) *Discord {
	return &Discord{session: session, timeout: timeout}
}

func (d *Discord) Session() *discordgo.Session {
	return d.session
}

func (d *Discord) call(ctx context.Context) (discordgo.RequestOption, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	return discordgo.WithContext(ctx), cancel
}

func (d *Discord) BotUserID() string {
	if d.session.State != nil && d.session.State.User != nil {
		return d.session.State.User.ID
	}
	return ""
}

func (d *Discord) Latency() time.Duration {
	return d.session.HeartbeatLatency()
}

func (d *Discord) Shard() (int, int) {
	return d.session.ShardID, d.session.ShardCount
}

func (d *Discord) SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	opt, cancel := d.call(ctx)
	defer cancel()
	m, err := d.session.ChannelMessageSendComplex(channelID, msg, opt)
	return m, Classify("send message", err)
}

func (d *Discord) SendDM(ctx context.Context, userID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	opt, cancel := d.call(ctx)
	defer cancel()
	channel, err := d.session.UserChannelCreate(userID, opt)
	if err != nil {
		return nil, Classify("open dm", err)
	}
	m, err := d.session.ChannelMessageSendComplex(channel.ID, msg, opt)
	return m, Classify("send dm", err)
}

func (d *Discord) EditMessage(ctx context.Context, edit *discordgo.MessageEdit) (*discordgo.Message, error) {
	opt, cancel := d.call(ctx)
	defer cancel()
	m, err := d.session.ChannelMessageEditComplex(edit, opt)
	return m, Classify("edit message", err)
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	opt, cancel := d.call(ctx)
	defer cancel()
	return Classify("delete message", d.session.ChannelMessageDelete(channelID, messageID, opt))
}

func (d *Discord) BulkDeleteMessages(ctx context.Context, channelID string, messageIDs []string) error {
	opt, cancel := d.call(ctx)
	defer cancel()
	for len(messageIDs) > 0 {
		n := len(messageIDs)
		if n > historyPageSize {
			n = historyPageSize
		}
		if err := d.session.ChannelMessagesBulkDelete(channelID, messageIDs[:n], opt); err != nil {
			return Classify("bulk delete", err)
		}
		messageIDs = messageIDs[n:]
	}
	return nil
}

func (d *Discord) Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	opt, cancel := d.call(ctx)
	defer cancel()
	m, err := d.session.ChannelMessage(channelID, messageID, opt)
	return m, Classify("fetch message", err)
}

func (d *Discord) MessagesSince(ctx context.Context, channelID string, since time.Time, limit int) ([]*discordgo.Message, error) {
	opt, cancel := d.call(ctx)
	defer cancel()

	var (
		out    []*discordgo.Message
		before string
	)
	for len(out) < limit {
		page, err := d.session.ChannelMessages(channelID, historyPageSize, before, "", "", opt)
		if err != nil {
			return out, Classify("fetch history", err)
		}
		if len(page) == 0 {
			return out, nil
		}
		for _, m := range page {
			if m.Timestamp.Before(since) || len(out) >= limit {
				return out, nil
			}
			out = append(out, m)
		}
		before = page[len(page)-1].ID
	}
	return out, nil
}

func (d *Discord) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	opt, cancel := d.call(ctx)
	defer cancel()
	return Classify("add reaction", d.session.MessageReactionAdd(channelID, messageID, emoji, opt))
}

func (d *Discord) RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error {
	opt, cancel := d.call(ctx)
	defer cancel()
	return Classify("remove reaction", d.session.MessageReactionRemove(channelID, messageID, emoji, userID, opt))
}

func (d *Discord) ReactionUsers(ctx context.Context, channelID, messageID, emoji string) ([]*discordgo.User, error) {
	opt, cancel := d.call(ctx)
	defer cancel()

	var (
		out   []*discordgo.User
		after string
	)
	for {
		page, err := d.session.MessageReactions(channelID, messageID, emoji, historyPageSize, "", after, opt)
		if err != nil {
			return out, Classify("fetch reactions", err)
		}
		out = append(out, page...)
		if len(page) < historyPageSize {
			return out, nil
		}
		after = page[len(page)-1].ID
	}
}

func (d *Discord) Guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if g, err := d.session.State.Guild(guildID); err == nil {
		return g, nil
	}
	opt, cancel := d.call(ctx)
	defer cancel()
	g, err := d.session.Guild(guildID, opt)
	return g, Classify("fetch guild", err)
}

func (d *Discord) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	opt, cancel := d.call(ctx)
	defer cancel()
	c, err := d.session.Channel(channelID, opt)
	return c, Classify("fetch channel", err)
}

func (d *Discord) Roles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	opt, cancel := d.call(ctx)
	defer cancel()
	roles, err := d.session.GuildRoles(guildID, opt)
	return roles, Classify("fetch roles", err)
}

func (d *Discord) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	opt, cancel := d.call(ctx)
	defer cancel()
	m, err := d.session.GuildMember(guildID, userID, opt)
	return m, Classify("fetch member", err)
}

func (d *Discord) StateMember(guildID, userID string) (*discordgo.Member, bool) {
	m, err := d.session.State.Member(guildID, userID)
	if err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func (d *Discord) ChannelPermissions(ctx context.Context, userID, channelID string) (int64, error) {
	opt, cancel := d.call(ctx)
	defer cancel()
	perms, err := d.session.UserChannelPermissions(userID, channelID, opt)
	return perms, Classify("resolve permissions", err)
}

func (d *Discord) CreateChannel(ctx context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	opt, cancel := d.call(ctx)
	defer cancel()
	c, err := d.session.GuildChannelCreateComplex(guildID, data, opt)
	return c, Classify("create channel", err)
}

func (d *Discord) EditChannel(ctx context.Context, channelID string, edit *discordgo.ChannelEdit) (*discordgo.Channel, error) {
	opt, cancel := d.call(ctx)
	defer cancel()
	c, err := d.session.ChannelEdit(channelID, edit, opt)
	return c, Classify("edit channel", err)
}

func (d *Discord) DeleteChannel(ctx context.Context, channelID string) error {
	opt, cancel := d.call(ctx)
	defer cancel()
	_, err := d.session.ChannelDelete(channelID, opt)
	return Classify("delete channel", err)
}

func (d *Discord) StartThread(ctx context.Context, channelID, messageID, name string) (*discordgo.Channel, error) {
	opt, cancel := d.call(ctx)
	defer cancel()
	c, err := d.session.MessageThreadStart(channelID, messageID, name, 1440, opt)
	return c, Classify("start thread", err)
}

func (d *Discord) SetPermissionOverride(ctx context.Context, channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64) error {
	opt, cancel := d.call(ctx)
	defer cancel()
	return Classify("set permission override", d.session.ChannelPermissionSet(channelID, targetID, targetType, allow, deny, opt))
}

func (d *Discord) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	opt, cancel := d.call(ctx)
	defer cancel()
	return Classify("grant role", d.session.GuildMemberRoleAdd(guildID, userID, roleID, opt))
}

func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	opt, cancel := d.call(ctx)
	defer cancel()
	return Classify("revoke role", d.session.GuildMemberRoleRemove(guildID, userID, roleID, opt))
}

func (d *Discord) Ban(ctx context.Context, guildID, userID, reason string) error {
	opt, cancel := d.call(ctx)
	defer cancel()
	return Classify("ban", d.session.GuildBanCreateWithReason(guildID, userID, reason, 0, opt))
}

func (d *Discord) Unban(ctx context.Context, guildID, userID string) error {
	opt, cancel := d.call(ctx)
	defer cancel()
	return Classify("unban", d.session.GuildBanDelete(guildID, userID, opt))
}

func (d *Discord) Kick(ctx context.Context, guildID, userID, reason string) error {
	opt, cancel := d.call(ctx)
	defer cancel()
	return Classify("kick", d.session.GuildMemberDeleteWithReason(guildID, userID, reason, opt))
}

func (d *Discord) Timeout(ctx context.Context, guildID, userID string, until *time.Time) error {
	opt, cancel := d.call(ctx)
	defer cancel()
	return Classify("timeout", d.session.GuildMemberTimeout(guildID, userID, until, opt))
}

func (d *Discord) Invites(ctx context.Context, guildID string) ([]*discordgo.Invite, error) {
	opt, cancel := d.call(ctx)
	defer cancel()
	invites, err := d.session.GuildInvites(guildID, opt)
	return invites, Classify("fetch invites", err)
}

func (d *Discord) AuditLog(ctx context.Context, guildID string, action discordgo.AuditLogAction, limit int) (*discordgo.GuildAuditLog, error) {
	opt, cancel := d.call(ctx)
	defer cancel()
	log, err := d.session.GuildAuditLog(guildID, "", "", int(action), limit, opt)
	return log, Classify("fetch audit log", err)
}

func (d *Discord) RespondInteraction(ctx context.Context, i *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	opt, cancel := d.call(ctx)
	defer cancel()
	return Classify("respond interaction", d.session.InteractionRespond(i, resp, opt))
}

func (d *Discord) EditInteractionResponse(ctx context.Context, i *discordgo.Interaction, edit *discordgo.WebhookEdit) error {
	opt, cancel := d.call(ctx)
	defer cancel()
	_, err := d.session.InteractionResponseEdit(i, edit, opt)
	return Classify("edit interaction response", err)
}

func (d *Discord) CreateCommand(ctx context.Context, guildID string, cmd *discordgo.ApplicationCommand) (*discordgo.ApplicationCommand, error) {
	opt, cancel := d.call(ctx)
	defer cancel()
	created, err := d.session.ApplicationCommandCreate(d.BotUserID(), guildID, cmd, opt)
	return created, Classify("create command", err)
}

func (d *Discord) DeleteCommand(ctx context.Context, guildID, commandID string) error {
	opt, cancel := d.call(ctx)
	defer cancel()
	return Classify("delete command", d.session.ApplicationCommandDelete(d.BotUserID(), guildID, commandID, opt))
}
