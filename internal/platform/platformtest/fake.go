// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"guildwarden/internal/clock"
	"guildwarden/internal/fault"
)

type Override struct {
	ChannelID string
	TargetID  string
	Type      discordgo.PermissionOverwriteType
	Allow     int64
	Deny      int64
}

// Fake records every outbound call. Failures keyed by operation name make the
// matching call fail.
type Fake struct {
	mu sync.Mutex

	BotID    string
	Clock    clock.Clock
	Failures map[string]error

	nextID    int64
	guilds    map[string]*discordgo.Guild
	channels  map[string]*discordgo.Channel
	roles     map[string][]*discordgo.Role
	members   map[string]map[string]*discordgo.Member
	state     map[string]map[string]bool
	messages  map[string][]*discordgo.Message
	reactions map[string]map[string][]string
	dms       map[string][]*discordgo.MessageSend
	bans      map[string]map[string]string
	kicks     map[string][]string
	timeouts  map[string]map[string]*time.Time
	invites   map[string][]*discordgo.Invite
	perms     map[string]int64
	overrides []Override
	commands  map[string][]*discordgo.ApplicationCommand
	responses []*discordgo.InteractionResponse
	calls     []string
}

func New(botID string, c clock.Clock) *Fake {
	return &Fake{
		BotID:     botID,
		Clock:     c,
		Failures:  map[string]error{},
		nextID:    1000,
		guilds:    map[string]*discordgo.Guild{},
		channels:  map[string]*discordgo.Channel{},
		roles:     map[string][]*discordgo.Role{},
		members:   map[string]map[string]*discordgo.Member{},
		state:     map[string]map[string]bool{},
		messages:  map[string][]*discordgo.Message{},
		reactions: map[string]map[string][]string{},
		dms:       map[string][]*discordgo.MessageSend{},
		bans:      map[string]map[string]string{},
		kicks:     map[string][]string{},
		timeouts:  map[string]map[string]*time.Time{},
		invites:   map[string][]*discordgo.Invite{},
		perms:     map[string]int64{},
		commands:  map[string][]*discordgo.ApplicationCommand{},
	}
}

func (f *Fake) id() string {
	f.nextID++
	return strconv.FormatInt(f.nextID, 10)
}

func (f *Fake) record(op string) error {
	f.calls = append(f.calls, op)
	if err, ok := f.Failures[op]; ok {
		return err
	}
	return nil
}

func missing(what string) error {
	return fault.Missing("unknown %s", what)
}

// Seeding helpers.

func (f *Fake) AddGuild(g *discordgo.Guild) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guilds[g.ID] = g
}

func (f *Fake) AddChannel(c *discordgo.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[c.ID] = c
}

func (f *Fake) RemoveChannel(channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.channels, channelID)
}

func (f *Fake) AddRoleDef(guildID string, role *discordgo.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[guildID] = append(f.roles[guildID], role)
}

// AddMember registers a member; inState controls whether StateMember sees it.
func (f *Fake) AddMember(guildID, userID string, inState bool, roles ...string) *discordgo.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &discordgo.Member{GuildID: guildID, User: &discordgo.User{ID: userID, Username: "user" + userID}, Roles: append([]string(nil), roles...)}
	if f.members[guildID] == nil {
		f.members[guildID] = map[string]*discordgo.Member{}
		f.state[guildID] = map[string]bool{}
	}
	f.members[guildID][userID] = m
	f.state[guildID][userID] = inState
	return m
}

func (f *Fake) RemoveMember(guildID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[guildID], userID)
	delete(f.state[guildID], userID)
}

func (f *Fake) SetPermissions(userID, channelID string, perms int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perms[channelID+"/"+userID] = perms
}

func (f *Fake) SetInvites(guildID string, invites ...*discordgo.Invite) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites[guildID] = invites
}

// Post appends a message authored by authorID to the channel history.
func (f *Fake) Post(channelID, authorID, content string) *discordgo.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.post(channelID, authorID, &discordgo.MessageSend{Content: content})
}

func (f *Fake) post(channelID, authorID string, msg *discordgo.MessageSend) *discordgo.Message {
	m := &discordgo.Message{
		ID:         f.id(),
		ChannelID:  channelID,
		Content:    msg.Content,
		Embeds:     msg.Embeds,
		Components: msg.Components,
		Author:     &discordgo.User{ID: authorID, Bot: authorID == f.BotID},
		Timestamp:  f.Clock.Now(),
	}
	if c, ok := f.channels[channelID]; ok {
		m.GuildID = c.GuildID
	}
	f.messages[channelID] = append(f.messages[channelID], m)
	return m
}

// React records userID reacting with emoji.
func (f *Fake) React(messageID, emoji, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.react(messageID, emoji, userID)
}

func (f *Fake) react(messageID, emoji, userID string) {
	if f.reactions[messageID] == nil {
		f.reactions[messageID] = map[string][]string{}
	}
	for _, id := range f.reactions[messageID][emoji] {
		if id == userID {
			return
		}
	}
	f.reactions[messageID][emoji] = append(f.reactions[messageID][emoji], userID)
}

// Inspection helpers.

func (f *Fake) Messages(channelID string) []*discordgo.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*discordgo.Message(nil), f.messages[channelID]...)
}

// BotMessages returns the messages the bot sent to the channel.
func (f *Fake) BotMessages(channelID string) []*discordgo.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*discordgo.Message
	for _, m := range f.messages[channelID] {
		if m.Author != nil && m.Author.ID == f.BotID {
			out = append(out, m)
		}
	}
	return out
}

func (f *Fake) DMs(userID string) []*discordgo.MessageSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*discordgo.MessageSend(nil), f.dms[userID]...)
}

func (f *Fake) Banned(guildID, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.bans[guildID][userID]
	return ok
}

func (f *Fake) Kicked(guildID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.kicks[guildID]...)
}

func (f *Fake) TimedOutUntil(guildID, userID string) *time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeouts[guildID][userID]
}

func (f *Fake) MemberRoles(guildID, userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[guildID][userID]
	if !ok {
		return nil
	}
	roles := append([]string(nil), m.Roles...)
	sort.Strings(roles)
	return roles
}

func (f *Fake) ReactionUserIDs(messageID, emoji string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reactions[messageID][emoji]...)
}

func (f *Fake) Overrides() []Override {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Override(nil), f.overrides...)
}

func (f *Fake) Responses() []*discordgo.InteractionResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*discordgo.InteractionResponse(nil), f.responses...)
}

func (f *Fake) Commands(guildID string) []*discordgo.ApplicationCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*discordgo.ApplicationCommand(nil), f.commands[guildID]...)
}

func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *Fake) Channels() []*discordgo.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*discordgo.Channel, 0, len(f.channels))
	for _, c := range f.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// platform.Client

func (f *Fake) BotUserID() string      { return f.BotID }
func (f *Fake) Latency() time.Duration { return 42 * time.Millisecond }
func (f *Fake) Shard() (id, count int) { return 0, 1 }

func (f *Fake) SendMessage(_ context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("send message"); err != nil {
		return nil, err
	}
	if _, ok := f.channels[channelID]; !ok {
		return nil, missing("channel")
	}
	return f.post(channelID, f.BotID, msg), nil
}

func (f *Fake) SendDM(_ context.Context, userID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("send dm"); err != nil {
		return nil, err
	}
	f.dms[userID] = append(f.dms[userID], msg)
	return &discordgo.Message{ID: f.id(), Content: msg.Content}, nil
}

func (f *Fake) EditMessage(_ context.Context, edit *discordgo.MessageEdit) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("edit message"); err != nil {
		return nil, err
	}
	m := f.find(edit.Channel, edit.ID)
	if m == nil {
		return nil, missing("message")
	}
	if edit.Content != nil {
		m.Content = *edit.Content
	}
	if edit.Embeds != nil {
		m.Embeds = *edit.Embeds
	}
	if edit.Components != nil {
		m.Components = *edit.Components
	}
	return m, nil
}

func (f *Fake) find(channelID, messageID string) *discordgo.Message {
	for _, m := range f.messages[channelID] {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

func (f *Fake) DeleteMessage(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete message"); err != nil {
		return err
	}
	return f.remove(channelID, messageID)
}

func (f *Fake) remove(channelID, messageID string) error {
	msgs := f.messages[channelID]
	for i, m := range msgs {
		if m.ID == messageID {
			f.messages[channelID] = append(msgs[:i:i], msgs[i+1:]...)
			return nil
		}
	}
	return missing("message")
}

func (f *Fake) BulkDeleteMessages(_ context.Context, channelID string, messageIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("bulk delete"); err != nil {
		return err
	}
	for _, id := range messageIDs {
		_ = f.remove(channelID, id)
	}
	return nil
}

func (f *Fake) Message(_ context.Context, channelID, messageID string) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("fetch message"); err != nil {
		return nil, err
	}
	m := f.find(channelID, messageID)
	if m == nil {
		return nil, missing("message")
	}
	return m, nil
}

func (f *Fake) MessagesSince(_ context.Context, channelID string, since time.Time, limit int) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("fetch history"); err != nil {
		return nil, err
	}
	if _, ok := f.channels[channelID]; !ok {
		return nil, missing("channel")
	}
	var out []*discordgo.Message
	msgs := f.messages[channelID]
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if msgs[i].Timestamp.Before(since) {
			break
		}
		out = append(out, msgs[i])
	}
	return out, nil
}

func (f *Fake) AddReaction(_ context.Context, _, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("add reaction"); err != nil {
		return err
	}
	f.react(messageID, emoji, f.BotID)
	return nil
}

func (f *Fake) RemoveReaction(_ context.Context, _, messageID, emoji, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("remove reaction"); err != nil {
		return err
	}
	users := f.reactions[messageID][emoji]
	for i, id := range users {
		if id == userID {
			f.reactions[messageID][emoji] = append(users[:i:i], users[i+1:]...)
			break
		}
	}
	return nil
}

func (f *Fake) ReactionUsers(_ context.Context, _, messageID, emoji string) ([]*discordgo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("fetch reactions"); err != nil {
		return nil, err
	}
	var out []*discordgo.User
	for _, id := range f.reactions[messageID][emoji] {
		out = append(out, &discordgo.User{ID: id, Bot: id == f.BotID})
	}
	return out, nil
}

func (f *Fake) Guild(_ context.Context, guildID string) (*discordgo.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("fetch guild"); err != nil {
		return nil, err
	}
	g, ok := f.guilds[guildID]
	if !ok {
		return nil, missing("guild")
	}
	g.MemberCount = len(f.members[guildID])
	return g, nil
}

func (f *Fake) Channel(_ context.Context, channelID string) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("fetch channel"); err != nil {
		return nil, err
	}
	c, ok := f.channels[channelID]
	if !ok {
		return nil, missing("channel")
	}
	return c, nil
}

func (f *Fake) Roles(_ context.Context, guildID string) ([]*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("fetch roles"); err != nil {
		return nil, err
	}
	return append([]*discordgo.Role(nil), f.roles[guildID]...), nil
}

func (f *Fake) Member(_ context.Context, guildID, userID string) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("fetch member"); err != nil {
		return nil, err
	}
	m, ok := f.members[guildID][userID]
	if !ok {
		return nil, missing("member")
	}
	copied := *m
	copied.Roles = append([]string(nil), m.Roles...)
	return &copied, nil
}

func (f *Fake) StateMember(guildID, userID string) (*discordgo.Member, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.state[guildID][userID] {
		return nil, false
	}
	m := f.members[guildID][userID]
	copied := *m
	copied.Roles = append([]string(nil), m.Roles...)
	return &copied, true
}

func (f *Fake) ChannelPermissions(_ context.Context, userID, channelID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("resolve permissions"); err != nil {
		return 0, err
	}
	return f.perms[channelID+"/"+userID], nil
}

func (f *Fake) CreateChannel(_ context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create channel"); err != nil {
		return nil, err
	}
	c := &discordgo.Channel{
		ID:                   f.id(),
		GuildID:              guildID,
		Name:                 data.Name,
		Type:                 data.Type,
		ParentID:             data.ParentID,
		PermissionOverwrites: data.PermissionOverwrites,
	}
	f.channels[c.ID] = c
	return c, nil
}

func (f *Fake) EditChannel(_ context.Context, channelID string, edit *discordgo.ChannelEdit) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("edit channel"); err != nil {
		return nil, err
	}
	c, ok := f.channels[channelID]
	if !ok {
		return nil, missing("channel")
	}
	if edit.RateLimitPerUser != nil {
		c.RateLimitPerUser = *edit.RateLimitPerUser
	}
	if edit.Name != "" {
		c.Name = edit.Name
	}
	return c, nil
}

func (f *Fake) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete channel"); err != nil {
		return err
	}
	if _, ok := f.channels[channelID]; !ok {
		return missing("channel")
	}
	delete(f.channels, channelID)
	return nil
}

func (f *Fake) StartThread(_ context.Context, channelID, _ string, name string) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("start thread"); err != nil {
		return nil, err
	}
	parent, ok := f.channels[channelID]
	if !ok {
		return nil, missing("channel")
	}
	c := &discordgo.Channel{ID: f.id(), GuildID: parent.GuildID, Name: name, ParentID: channelID, Type: discordgo.ChannelTypeGuildPublicThread}
	f.channels[c.ID] = c
	return c, nil
}

func (f *Fake) SetPermissionOverride(_ context.Context, channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("set permission override"); err != nil {
		return err
	}
	f.overrides = append(f.overrides, Override{ChannelID: channelID, TargetID: targetID, Type: targetType, Allow: allow, Deny: deny})
	return nil
}

func (f *Fake) AddRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("grant role"); err != nil {
		return err
	}
	m, ok := f.members[guildID][userID]
	if !ok {
		return missing("member")
	}
	for _, id := range m.Roles {
		if id == roleID {
			return nil
		}
	}
	m.Roles = append(m.Roles, roleID)
	return nil
}

func (f *Fake) RemoveRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("revoke role"); err != nil {
		return err
	}
	m, ok := f.members[guildID][userID]
	if !ok {
		return missing("member")
	}
	for i, id := range m.Roles {
		if id == roleID {
			m.Roles = append(m.Roles[:i:i], m.Roles[i+1:]...)
			break
		}
	}
	return nil
}

func (f *Fake) Ban(_ context.Context, guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ban"); err != nil {
		return err
	}
	if f.bans[guildID] == nil {
		f.bans[guildID] = map[string]string{}
	}
	f.bans[guildID][userID] = reason
	delete(f.members[guildID], userID)
	return nil
}

func (f *Fake) Unban(_ context.Context, guildID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("unban"); err != nil {
		return err
	}
	if _, ok := f.bans[guildID][userID]; !ok {
		return missing("ban")
	}
	delete(f.bans[guildID], userID)
	return nil
}

func (f *Fake) Kick(_ context.Context, guildID, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("kick"); err != nil {
		return err
	}
	if _, ok := f.members[guildID][userID]; !ok {
		return missing("member")
	}
	delete(f.members[guildID], userID)
	f.kicks[guildID] = append(f.kicks[guildID], userID)
	return nil
}

func (f *Fake) Timeout(_ context.Context, guildID, userID string, until *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("timeout"); err != nil {
		return err
	}
	if f.timeouts[guildID] == nil {
		f.timeouts[guildID] = map[string]*time.Time{}
	}
	f.timeouts[guildID][userID] = until
	return nil
}

func (f *Fake) Invites(_ context.Context, guildID string) ([]*discordgo.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("fetch invites"); err != nil {
		return nil, err
	}
	out := make([]*discordgo.Invite, 0, len(f.invites[guildID]))
	for _, inv := range f.invites[guildID] {
		copied := *inv
		out = append(out, &copied)
	}
	return out, nil
}

func (f *Fake) AuditLog(_ context.Context, _ string, _ discordgo.AuditLogAction, _ int) (*discordgo.GuildAuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("fetch audit log"); err != nil {
		return nil, err
	}
	return &discordgo.GuildAuditLog{}, nil
}

func (f *Fake) RespondInteraction(_ context.Context, _ *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("respond interaction"); err != nil {
		return err
	}
	f.responses = append(f.responses, resp)
	return nil
}

func (f *Fake) EditInteractionResponse(_ context.Context, _ *discordgo.Interaction, edit *discordgo.WebhookEdit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("edit interaction response"); err != nil {
		return err
	}
	data := &discordgo.InteractionResponseData{}
	if edit.Content != nil {
		data.Content = *edit.Content
	}
	if edit.Embeds != nil {
		data.Embeds = *edit.Embeds
	}
	f.responses = append(f.responses, &discordgo.InteractionResponse{Type: discordgo.InteractionResponseUpdateMessage, Data: data})
	return nil
}

func (f *Fake) CreateCommand(_ context.Context, guildID string, cmd *discordgo.ApplicationCommand) (*discordgo.ApplicationCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create command"); err != nil {
		return nil, err
	}
	created := *cmd
	created.ID = f.id()
	created.GuildID = guildID
	f.commands[guildID] = append(f.commands[guildID], &created)
	return &created, nil
}

func (f *Fake) DeleteCommand(_ context.Context, guildID, commandID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete command"); err != nil {
		return err
	}
	cmds := f.commands[guildID]
	for i, c := range cmds {
		if c.ID == commandID {
			f.commands[guildID] = append(cmds[:i:i], cmds[i+1:]...)
			return nil
		}
	}
	return missing("command")
}
