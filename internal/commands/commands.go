// Package commands is the operator surface: slash commands grouped in
// families, plus the buttons and modals their panels use. Every invocation
// ends in exactly one interaction response.
package commands

import (
	"context"
	"strings"
	"sync"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"guildwarden/internal/breaker"
	"guildwarden/internal/core"
	"guildwarden/internal/fault"
	"guildwarden/internal/feeds"
	"guildwarden/internal/giveaway"
	"guildwarden/internal/interactive"
	"guildwarden/internal/invites"
	"guildwarden/internal/leveling"
	"guildwarden/internal/moderation"
	"guildwarden/internal/modules/wordblock"
	"guildwarden/internal/permissions"
	"guildwarden/internal/reactions"
	"guildwarden/internal/warnings"
)

// Deps are the engines commands drive.
type Deps struct {
	Moderation *moderation.Service
	Warnings   *warnings.Service
	Giveaways  *giveaway.Service
	Leveling   *leveling.Service
	Invites    *invites.Service
	Reactions  *reactions.Router
	WordBlock  *wordblock.Module
	Feeds      *feeds.Watcher
	Flows      *interactive.Manager
	Breakers   *breaker.Set
	Perms      *permissions.Resolver
}

// Reply is a handler's successful outcome. Replies are ephemeral unless
// Public is set.
type Reply struct {
	Embed  *discordgo.MessageEmbed
	Public bool
}

type Handler func(ctx context.Context, in *Invocation) (Reply, error)

type route struct {
	title    string
	required int64
	music    bool
	owner    bool
	handle   Handler
}

// ComponentHandler answers a button press or modal submit. It must respond
// to the interaction itself.
type ComponentHandler func(ctx context.Context, i *discordgo.Interaction, args []string) error

type Surface struct {
	*core.Bundle
	Deps
	logger *zap.Logger

	defs       []*discordgo.ApplicationCommand
	routes     map[string]route
	components map[string]ComponentHandler

	mu           sync.Mutex
	partnerships map[string]*rate.Limiter
	captchas     map[string]captcha
}

func New(b *core.Bundle, deps Deps) *Surface {
	s := &Surface{
		Bundle:       b,
		Deps:         deps,
		logger:       b.Logger.Named("commands"),
		routes:       make(map[string]route),
		components:   make(map[string]ComponentHandler),
		partnerships: make(map[string]*rate.Limiter),
		captchas:     make(map[string]captcha),
	}
	s.registerModeration()
	s.registerWarnings()
	s.registerEngagement()
	s.registerProtection()
	s.registerCommunity()
	s.registerTickets()
	s.registerForms()
	s.registerVerification()
	s.registerAdmin()
	s.registerPartnerships()
	s.registerLocalCommands()
	return s
}

// Definitions returns the global slash commands to register.
func (s *Surface) Definitions() []*discordgo.ApplicationCommand {
	return s.defs
}

// Builtin reports whether name is a global command.
func (s *Surface) Builtin(name string) bool {
	for _, def := range s.defs {
		if def.Name == name {
			return true
		}
	}
	return false
}

// Grantable lists the command ids that permission grants may name. The
// permissions family itself is never grantable.
func (s *Surface) Grantable() []string {
	ids := make([]string, 0, len(s.routes))
	for id, rt := range s.routes {
		if rt.required != 0 && !rt.owner && !strings.HasPrefix(id, "permissions ") {
			ids = append(ids, id)
		}
	}
	return ids
}

// Register adds a command. Routes are keyed by subcommand name, or "" for a
// command without subcommands.
func (s *Surface) Register(def *discordgo.ApplicationCommand, routes map[string]route) {
	s.defs = append(s.defs, def)
	for sub, rt := range routes {
		id := def.Name
		if sub != "" {
			id += " " + sub
		}
		if rt.title == "" {
			rt.title = titleFor(def.Name)
		}
		s.routes[id] = rt
	}
}

func (s *Surface) component(prefix string, h ComponentHandler) {
	s.components[prefix] = h
}

// Handle dispatches an interaction.
func (s *Surface) Handle(ctx context.Context, i *discordgo.Interaction) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		s.command(ctx, i)
	case discordgo.InteractionMessageComponent:
		s.dispatchComponent(ctx, i, i.MessageComponentData().CustomID)
	case discordgo.InteractionModalSubmit:
		s.dispatchComponent(ctx, i, i.ModalSubmitData().CustomID)
	}
}

func (s *Surface) command(ctx context.Context, i *discordgo.Interaction) {
	in := newInvocation(i)
	if i.GuildID == "" {
		s.respond(ctx, i, s.Embeds.Error("Servers only", "Commands work inside a server."), true)
		return
	}

	rt, ok := s.routes[in.Path()]
	if !ok {
		s.runLocal(ctx, in)
		return
	}
	if rt.owner && !s.Perms.IsOwner(in.UserID()) {
		s.fail(ctx, in, rt.title, fault.Denied("only the bot operators can use /%s", in.Family))
		return
	}
	req := permissionsRequest(in)
	req.Required, req.Music = rt.required, rt.music
	if err := s.Perms.Check(ctx, req); err != nil {
		s.fail(ctx, in, rt.title, err)
		return
	}

	var reply Reply
	err := s.Breakers.Do("command/"+in.Family, func() error {
		var err error
		reply, err = rt.handle(ctx, in)
		return err
	})
	if err != nil {
		s.fail(ctx, in, rt.title, err)
		return
	}
	if reply.Embed == nil {
		reply.Embed = s.Embeds.Success(rt.title, "Done.")
	}
	s.respond(ctx, i, reply.Embed, !reply.Public)
}

func permissionsRequest(in *Invocation) permissions.Request {
	return permissions.Request{
		GuildID:   in.GuildID,
		ChannelID: in.ChannelID,
		UserID:    in.UserID(),
		RoleIDs:   in.RoleIDs(),
		Command:   in.Path(),
	}
}

func (s *Surface) dispatchComponent(ctx context.Context, i *discordgo.Interaction, customID string) {
	parts := strings.Split(customID, ":")
	h, ok := s.components[parts[0]]
	if !ok || i.GuildID == "" {
		s.respond(ctx, i, s.Embeds.Error("Unavailable", "This button is no longer active."), true)
		return
	}
	err := s.Breakers.Do("component/"+parts[0], func() error {
		return h(ctx, i, parts[1:])
	})
	if err == nil {
		return
	}
	s.report(ctx, "component/"+parts[0], err)
	s.respond(ctx, i, s.failureEmbed("Something went wrong", err), true)
}

func (s *Surface) fail(ctx context.Context, in *Invocation, title string, err error) {
	s.report(ctx, "command/"+in.Path(), err)
	s.respond(ctx, in.Interaction, s.failureEmbed(title, err), true)
}

func (s *Surface) failureEmbed(title string, err error) *discordgo.MessageEmbed {
	if errors.Is(err, breaker.ErrUnavailable) {
		return s.Embeds.Error(title, breaker.UnavailableMessage)
	}
	return s.Embeds.Failure(title, err)
}

func (s *Surface) report(ctx context.Context, where string, err error) {
	if errors.Is(err, breaker.ErrUnavailable) {
		return
	}
	s.Ops.Failure(ctx, where, err)
}

func (s *Surface) respond(ctx context.Context, i *discordgo.Interaction, embed *discordgo.MessageEmbed, ephemeral bool) {
	data := &discordgo.InteractionResponseData{
		Embeds:          []*discordgo.MessageEmbed{embed},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := s.Platform.RespondInteraction(ctx, i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		s.logger.Debug("interaction response failed", zap.String("interaction_id", i.ID), zap.Error(err))
	}
}

// respondModal opens a modal in answer to a button press.
func (s *Surface) respondModal(ctx context.Context, i *discordgo.Interaction, customID, title string, inputs ...*discordgo.TextInput) error {
	rows := make([]discordgo.MessageComponent, 0, len(inputs))
	for _, input := range inputs {
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{input}})
	}
	return s.Platform.RespondInteraction(ctx, i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{CustomID: customID, Title: title, Components: rows},
	})
}

// titleFor turns "anti-link" into "Anti Link".
func titleFor(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
