package bot

import (
	"context"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"

	"guildwarden/internal/commands"
	"guildwarden/internal/fault"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/platform"
	"guildwarden/internal/render"
)

// ghostWindow is how long after posting a deleted mention still counts as a
// ghost ping.
const ghostWindow = 5 * time.Minute

// maxMirrored bounds quoted message content in log channel notices.
const maxMirrored = 1000

type recentMessage struct {
	authorID string
	content  string
	mentions []string
	postedAt time.Time
}

func recentKey(channelID, messageID string) string { return channelID + ":" + messageID }

// remember keeps messages that mention someone other than their author.
func (b *Bot) remember(m *discordgo.Message) {
	var mentions []string
	for _, u := range m.Mentions {
		if u == nil || u.Bot || u.ID == m.Author.ID {
			continue
		}
		mentions = append(mentions, render.Mention(u.ID))
	}
	for _, r := range m.MentionRoles {
		mentions = append(mentions, render.RoleMention(r))
	}
	if len(mentions) == 0 {
		return
	}
	b.recent.Set(recentKey(m.ChannelID, m.ID), &recentMessage{
		authorID: m.Author.ID,
		content:  m.Content,
		mentions: mentions,
		postedAt: b.Clock.Now(),
	}, ghostWindow)
}

func (b *Bot) recalled(channelID, messageID string) (*recentMessage, bool) {
	item := b.recent.Get(recentKey(channelID, messageID))
	if item == nil || item.Expired() {
		return nil, false
	}
	return item.Value().(*recentMessage), true
}

func (b *Bot) messageEdited(ctx context.Context, before, after *discordgo.Message) error {
	if before.Author == nil || before.Author.Bot || before.Content == after.Content {
		return nil
	}
	settings, err := b.Store.GuildSettings(ctx, after.GuildID)
	if err != nil || settings.LogChannel == "" {
		return err
	}
	b.Notify(ctx, settings.LogChannel, platform.Embed(b.Embeds.Action("Message edited", "",
		render.Field("Author", render.Mention(before.Author.ID), true),
		render.Field("Channel", render.ChannelMention(after.ChannelID), true),
		render.Field("Before", clip(before.Content), false),
		render.Field("After", clip(after.Content), false),
	)))
	return nil
}

// messageDeleted posts the ghost ping notice and the log mirror. before is
// the state cache copy and may be nil.
func (b *Bot) messageDeleted(ctx context.Context, guildID, channelID, messageID string, before *discordgo.Message) error {
	settings, err := b.Store.GuildSettings(ctx, guildID)
	if err != nil {
		return err
	}
	recent, mentioned := b.recalled(channelID, messageID)
	b.recent.Delete(recentKey(channelID, messageID))

	if settings.GhostPing && mentioned && b.Clock.Now().Sub(recent.postedAt) <= ghostWindow {
		b.Notify(ctx, channelID, platform.Embed(b.Embeds.Warning("Ghost ping",
			render.Mention(recent.authorID)+" deleted a message that mentioned "+strings.Join(recent.mentions, ", ")+".",
			render.Field("Message", clip(recent.content), false),
		)))
	}

	if settings.LogChannel == "" {
		return nil
	}
	var authorID, content string
	switch {
	case before != nil && before.Author != nil:
		if before.Author.Bot {
			return nil
		}
		authorID, content = before.Author.ID, before.Content
	case mentioned:
		authorID, content = recent.authorID, recent.content
	default:
		return nil
	}
	b.Notify(ctx, settings.LogChannel, platform.Embed(b.Embeds.Action("Message deleted", "",
		render.Field("Author", render.Mention(authorID), true),
		render.Field("Channel", render.ChannelMention(channelID), true),
		render.Field("Content", clip(content), false),
	)))
	return nil
}

// memberJoined runs invite attribution, the start role, the welcome message
// and the log mirror. Each step runs even when an earlier one failed.
func (b *Bot) memberJoined(ctx context.Context, m *discordgo.Member) error {
	guildID, user := m.GuildID, m.User
	var errs error

	join, resolved, err := b.Invites.MemberJoin(ctx, guildID, user.ID)
	errs = errors.Append(errs, err)

	settings, err := b.Store.GuildSettings(ctx, guildID)
	if err != nil {
		return errors.Append(errs, err)
	}

	if settings.StartRole != "" && !user.Bot {
		if err := b.Platform.AddRole(ctx, guildID, user.ID, settings.StartRole); err != nil {
			if !fault.Is(err, fault.PermissionDenied) && !fault.Is(err, fault.EntityMissing) {
				errs = errors.Append(errs, err)
			} else {
				b.Audit.Log(ctx, audit.LevelWarn, guildID, user.ID, "start_role_failed", fault.Message(err))
			}
		}
	}

	values := b.greetingValues(ctx, guildID, user)
	if settings.WelcomeChannel != "" {
		template := settings.WelcomeMessage
		if template == "" {
			template = commands.DefaultWelcome
		}
		b.Notify(ctx, settings.WelcomeChannel, &discordgo.MessageSend{
			Content:         render.Template(template, values),
			AllowedMentions: platform.UserMentions(),
		})
	}

	if settings.LogChannel != "" {
		fields := []*discordgo.MessageEmbedField{
			render.Field("User", render.Mention(user.ID), true),
			render.Field("Account created", accountAge(user.ID), true),
		}
		if resolved {
			inviter := render.Mention(join.InviterID)
			if join.Fake {
				inviter += " (fake)"
			}
			fields = append(fields, render.Field("Invited by", inviter, true), render.Field("Invite", join.Code, true))
		}
		b.Notify(ctx, settings.LogChannel, platform.Embed(b.Embeds.Success("Member joined", "", fields...)))
	}
	return errs
}

func (b *Bot) memberLeft(ctx context.Context, guildID string, user *discordgo.User) error {
	var errs error
	inviterID, err := b.Invites.MemberLeave(ctx, guildID, user.ID)
	errs = errors.Append(errs, err)

	settings, err := b.Store.GuildSettings(ctx, guildID)
	if err != nil {
		return errors.Append(errs, err)
	}
	if settings.GoodbyeChannel != "" {
		template := settings.GoodbyeMessage
		if template == "" {
			template = commands.DefaultGoodbye
		}
		b.Notify(ctx, settings.GoodbyeChannel, platform.Text(render.Template(template, b.greetingValues(ctx, guildID, user))))
	}
	if settings.LogChannel != "" {
		fields := []*discordgo.MessageEmbedField{render.Field("User", render.Mention(user.ID)+" ("+user.Username+")", true)}
		if inviterID != "" {
			fields = append(fields, render.Field("Invited by", render.Mention(inviterID), true))
		}
		b.Notify(ctx, settings.LogChannel, platform.Embed(b.Embeds.Warning("Member left", "", fields...)))
	}
	return errs
}

// greetingValues fills the welcome and goodbye placeholders. A guild the
// cache cannot load still greets, with an empty server name and count.
func (b *Bot) greetingValues(ctx context.Context, guildID string, user *discordgo.User) map[string]string {
	values := map[string]string{
		"user":     render.Mention(user.ID),
		"username": user.Username,
		"support":  b.Config.SupportURL,
		"invite":   b.Config.InviteURL,
	}
	if g, ok, _ := b.Cache.Guild(ctx, guildID); ok {
		count := g.MemberCount
		if count == 0 {
			count = g.ApproximateMemberCount
		}
		values["server"] = g.Name
		values["count"] = strconv.Itoa(count)
	}
	return values
}

func accountAge(userID string) string {
	created, ok := platform.AccountCreated(userID)
	if !ok {
		return ""
	}
	return "<t:" + strconv.FormatInt(created.Unix(), 10) + ":R>"
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxMirrored {
		return s
	}
	return string(r[:maxMirrored]) + "…"
}
