// Package bot connects the gateway session to the engines: every event is
// translated into a call on the pipeline, the routers or the command surface.
package bot

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"
	"github.com/karlseguin/ccache"
	"go.uber.org/zap"

	"guildwarden/internal/breaker"
	"guildwarden/internal/commands"
	"guildwarden/internal/core"
	"guildwarden/internal/interactive"
	"guildwarden/internal/invites"
	"guildwarden/internal/pipeline"
	"guildwarden/internal/reactions"
)

// Intents the bot needs; message content is required by the pipeline.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildInvites |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsMessageContent

type Deps struct {
	Surface   *commands.Surface
	Chain     *pipeline.Chain
	Reactions *reactions.Router
	Invites   *invites.Service
	Flows     *interactive.Manager
	Breakers  *breaker.Set
}

type Bot struct {
	*core.Bundle
	Deps
	logger  *zap.Logger
	session *discordgo.Session

	// recent holds messages that mentioned someone, for ghost ping notices.
	recent *ccache.Cache

	auditMu  sync.Mutex
	auditAgg map[string]*auditAggregate
}

// New builds the bot. session may be nil in tests; only Start and the
// global command registration touch it.
func New(b *core.Bundle, session *discordgo.Session, deps Deps) *Bot {
	bot := &Bot{
		Bundle:   b,
		Deps:     deps,
		logger:   b.Logger.Named("bot"),
		session:  session,
		recent:   ccache.New(ccache.Configure().MaxSize(20000).ItemsToPrune(200)),
		auditAgg: make(map[string]*auditAggregate),
	}
	b.Audit.SetNotifier(bot.notifyAudit)
	return bot
}

// stateMessages is how many messages per channel the state keeps, so edits
// and deletes arrive with the previous content.
const stateMessages = 100

// NewSession prepares a gateway session for the configured shard.
func NewSession(token string, shardID, shardCount int) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.WrapIf(err, "create session")
	}
	session.Identify.Intents = Intents
	session.ShardID = shardID
	session.ShardCount = shardCount
	session.StateEnabled = true
	session.State.MaxMessageCount = stateMessages
	return session, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onGuildDelete)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageUpdate)
	b.session.AddHandler(b.onMessageDelete)
	b.session.AddHandler(b.onReactionAdd)
	b.session.AddHandler(b.onReactionRemove)
	b.session.AddHandler(b.onMemberAdd)
	b.session.AddHandler(b.onMemberUpdate)
	b.session.AddHandler(b.onMemberRemove)
	b.session.AddHandler(b.onChannelUpdate)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onRoleCreate)
	b.session.AddHandler(b.onRoleUpdate)
	b.session.AddHandler(b.onRoleDelete)
	b.session.AddHandler(b.onInviteCreate)
	b.session.AddHandler(b.onInviteDelete)
	b.session.AddHandler(b.onInteractionCreate)
	b.session.AddHandler(b.onRateLimit)

	return errors.WrapIf(b.session.Open(), "open gateway session")
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

// eventTimeout bounds the work one gateway event may start.
const eventTimeout = 30 * time.Second

func (b *Bot) eventContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), eventTimeout)
}

// guard runs fn under the breaker for name and applies the error policy.
// An open breaker drops the event.
func (b *Bot) guard(ctx context.Context, name string, fn func() error) {
	err := b.Breakers.Do("event/"+name, fn)
	switch {
	case err == nil:
	case errors.Is(err, breaker.ErrUnavailable):
		b.logger.Debug("event dropped while handler is disabled", zap.String("handler", name))
	default:
		b.Ops.Failure(ctx, "event/"+name, err)
	}
}
