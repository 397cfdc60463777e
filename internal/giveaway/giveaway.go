// Package giveaway runs reaction-entry giveaways. The end of every giveaway
// is a durable scheduler task that re-reads the stored end time every few
// seconds, so writing an earlier end time shortens a running giveaway.
package giveaway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildwarden/internal/core"
	"guildwarden/internal/fault"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/platform"
	"guildwarden/internal/render"
	"guildwarden/internal/scheduler"
	"guildwarden/internal/storage"
)

const (
	JoinEmoji    = "🎉"
	RefreshEvery = 3 * time.Second
	MaxWinners   = 20
	MinDuration  = 10 * time.Second
	MaxDuration  = 30 * 24 * time.Hour
	EndedTitle   = "Ended"
)

type payload struct {
	Reward  string `json:"reward"`
	Winners int    `json:"winners"`
	HostID  string `json:"host_id"`
}

type Service struct {
	*core.Bundle
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New registers the giveaway.end handler.
func New(b *core.Bundle) *Service {
	s := &Service{
		Bundle: b,
		logger: b.Logger.Named("giveaway"),
		rng:    rand.New(rand.NewSource(b.Clock.Now().UnixNano())),
	}
	b.Scheduler.Register(scheduler.KindGiveawayEnd, scheduler.Handler{
		Run:          s.runEnd,
		Refresh:      s.refresh,
		RefreshEvery: RefreshEvery,
	})
	return s
}

type StartInput struct {
	GuildID     string
	ChannelID   string
	HostID      string
	Reward      string
	Duration    time.Duration
	Winners     int
	Requirement storage.Requirement
}

func (in StartInput) validate() error {
	switch {
	case strings.TrimSpace(in.Reward) == "":
		return fault.Input("the reward must not be empty")
	case len(in.Reward) > 200:
		return fault.Input("the reward must be at most 200 characters")
	case in.Winners < 1 || in.Winners > MaxWinners:
		return fault.Input("the number of winners must be between 1 and %d", MaxWinners)
	case in.Duration < MinDuration || in.Duration > MaxDuration:
		return fault.Input("a giveaway lasts between 10 seconds and 30 days")
	}
	switch in.Requirement.Kind {
	case storage.RequireNone:
	case storage.RequireRole:
		if in.Requirement.RoleID == "" {
			return fault.Input("a role requirement needs a role")
		}
	case storage.RequireLevel, storage.RequireInvites:
		if in.Requirement.Threshold < 1 {
			return fault.Input("the requirement threshold must be at least 1")
		}
	default:
		return fault.Input("unknown requirement %q", in.Requirement.Kind)
	}
	return nil
}

// Start posts the giveaway message, stores the row and schedules its end.
func (s *Service) Start(ctx context.Context, in StartInput) (storage.Giveaway, error) {
	if err := in.validate(); err != nil {
		return storage.Giveaway{}, err
	}
	_, exists, err := s.Store.Giveaway(ctx, in.GuildID, in.Reward)
	if err != nil {
		return storage.Giveaway{}, err
	}
	if exists {
		return storage.Giveaway{}, fault.Input("a giveaway for %q is already running", in.Reward)
	}

	g := storage.Giveaway{
		GuildID:   in.GuildID,
		Reward:    in.Reward,
		ChannelID: in.ChannelID,
		EndTime:   s.Clock.Now().Add(in.Duration).Unix(),
		Winners:   in.Winners,
		HostID:    in.HostID,
	}
	switch in.Requirement.Kind {
	case storage.RequireRole:
		g.RequirementKind, g.RequirementValue = storage.RequireRole, in.Requirement.RoleID
	case storage.RequireLevel, storage.RequireInvites:
		g.RequirementKind, g.RequirementValue = in.Requirement.Kind, fmt.Sprint(in.Requirement.Threshold)
	}

	msg, err := s.Platform.SendMessage(ctx, in.ChannelID, platform.Embed(s.runningEmbed(g, in.Requirement)))
	if err != nil {
		return storage.Giveaway{}, err
	}
	g.MessageID = msg.ID
	if err := s.Platform.AddReaction(ctx, in.ChannelID, msg.ID, JoinEmoji); err != nil {
		s.logger.Debug("seeding join reaction failed", zap.Error(err))
	}

	if err := s.Store.InsertGiveaway(ctx, g); err != nil {
		s.discardMessage(ctx, g)
		return storage.Giveaway{}, err
	}
	err = s.Scheduler.Schedule(ctx, scheduler.KindGiveawayEnd, g.GuildID, g.Reward, time.Unix(g.EndTime, 0),
		payload{Reward: g.Reward, Winners: g.Winners, HostID: g.HostID})
	if err != nil {
		if _, derr := s.Store.DeleteGiveaway(ctx, g.GuildID, g.Reward); derr != nil {
			s.logger.Warn("rolling back giveaway row failed", zap.Error(derr))
		}
		s.discardMessage(ctx, g)
		return storage.Giveaway{}, err
	}

	s.Audit.Log(ctx, audit.LevelInfo, g.GuildID, g.HostID, "giveaway_started", fmt.Sprintf("reward=%q winners=%d end=%d", g.Reward, g.Winners, g.EndTime))
	return g, nil
}

func (s *Service) discardMessage(ctx context.Context, g storage.Giveaway) {
	if err := s.Platform.DeleteMessage(ctx, g.ChannelID, g.MessageID); err != nil {
		s.logger.Debug("removing giveaway message failed", zap.Error(err))
	}
}

func (s *Service) runningEmbed(g storage.Giveaway, req storage.Requirement) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		render.Field("Winners", fmt.Sprint(g.Winners), true),
		render.Field("Ends", fmt.Sprintf("<t:%d:R>", g.EndTime), true),
		render.Field("Host", render.Mention(g.HostID), true),
	}
	if req.Kind != storage.RequireNone {
		fields = append(fields, render.Field("Requirement", DescribeRequirement(req), false))
	}
	return s.Embeds.Action("Giveaway", fmt.Sprintf("**%s**\nReact with %s to enter.", g.Reward, JoinEmoji), fields...)
}

// EndNow moves the end time of a running giveaway to the current second. The
// armed task notices within RefreshEvery.
func (s *Service) EndNow(ctx context.Context, guildID, reward string) error {
	updated, err := s.Store.SetGiveawayEnd(ctx, guildID, reward, s.Clock.Now().Unix())
	if err != nil {
		return err
	}
	if !updated {
		return fault.Missing("there is no running giveaway for %q", reward)
	}
	return nil
}

func (s *Service) List(ctx context.Context, guildID string) ([]storage.Giveaway, error) {
	return s.Store.ListGiveaways(ctx, guildID)
}

func (s *Service) refresh(ctx context.Context, task scheduler.Task) (time.Time, bool, error) {
	g, found, err := s.Store.Giveaway(ctx, task.GuildID, task.Key)
	if err != nil || !found {
		return time.Time{}, false, err
	}
	return time.Unix(g.EndTime, 0), true, nil
}

// runEnd finishes the giveaway. Running it twice is harmless: the second run
// finds no row.
func (s *Service) runEnd(ctx context.Context, task scheduler.Task) error {
	g, found, err := s.Store.Giveaway(ctx, task.GuildID, task.Key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	req, err := g.Requirement()
	if err != nil {
		s.Ops.Failure(ctx, "giveaway.end", err)
		req = storage.Requirement{}
	}

	entrants, err := s.entrants(ctx, g.ChannelID, g.MessageID)
	if fault.Is(err, fault.EntityMissing) {
		_, err := s.Store.DeleteGiveaway(ctx, g.GuildID, g.Reward)
		return err
	}
	if err != nil {
		return err
	}

	eligible := entrants[:0]
	for _, userID := range entrants {
		ok, _, err := s.Eligible(ctx, g.GuildID, userID, req)
		if err != nil {
			return err
		}
		if ok {
			eligible = append(eligible, userID)
		}
	}
	winners := s.pick(eligible, g.Winners)

	if err := s.announce(ctx, g, winners); err != nil && !fault.Is(err, fault.EntityMissing) {
		return err
	}
	if _, err := s.Store.DeleteGiveaway(ctx, g.GuildID, g.Reward); err != nil {
		return err
	}
	s.Audit.Log(ctx, audit.LevelInfo, g.GuildID, g.HostID, "giveaway_ended", fmt.Sprintf("reward=%q entrants=%d winners=%s", g.Reward, len(eligible), strings.Join(winners, ",")))
	return nil
}

func (s *Service) entrants(ctx context.Context, channelID, messageID string) ([]string, error) {
	users, err := s.Platform.ReactionUsers(ctx, channelID, messageID, JoinEmoji)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, u := range users {
		if u.Bot || u.ID == s.Platform.BotUserID() {
			continue
		}
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// pick draws n distinct winners uniformly.
func (s *Service) pick(entrants []string, n int) []string {
	pool := append([]string(nil), entrants...)
	s.mu.Lock()
	s.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	s.mu.Unlock()
	if n > len(pool) {
		n = len(pool)
	}
	return pool[:n]
}

func mentions(ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = render.Mention(id)
	}
	return strings.Join(out, ", ")
}

func (s *Service) announce(ctx context.Context, g storage.Giveaway, winners []string) error {
	content := fmt.Sprintf("No valid entries for **%s**.", g.Reward)
	winnerField := "-"
	if len(winners) > 0 {
		content = fmt.Sprintf("Congratulations %s! You won **%s**.", mentions(winners), g.Reward)
		winnerField = mentions(winners)
	}
	if _, err := s.Platform.SendMessage(ctx, g.ChannelID, &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: platform.UserMentions(),
		Reference:       &discordgo.MessageReference{MessageID: g.MessageID, ChannelID: g.ChannelID, GuildID: g.GuildID},
	}); err != nil {
		return err
	}

	ended := s.Embeds.Success(EndedTitle, fmt.Sprintf("**%s**", g.Reward),
		render.Field("Winners", winnerField, false),
		render.Field("Host", render.Mention(g.HostID), true),
	)
	ended.Color = render.ColorGreen
	edit := discordgo.NewMessageEdit(g.ChannelID, g.MessageID).SetEmbeds([]*discordgo.MessageEmbed{ended})
	_, err := s.Platform.EditMessage(ctx, edit)
	return err
}

// Reroll draws n new winners from the entrants of an ended giveaway message.
func (s *Service) Reroll(ctx context.Context, guildID, channelID, messageID string, n int) ([]string, error) {
	if n < 1 || n > MaxWinners {
		return nil, fault.Input("the number of winners must be between 1 and %d", MaxWinners)
	}
	if _, running, err := s.Store.GiveawayByMessage(ctx, guildID, messageID); err != nil {
		return nil, err
	} else if running {
		return nil, fault.Input("that giveaway is still running, use end-now first")
	}
	entrants, err := s.entrants(ctx, channelID, messageID)
	if err != nil {
		if fault.Is(err, fault.EntityMissing) {
			return nil, fault.Missing("that giveaway message no longer exists")
		}
		return nil, err
	}
	winners := s.pick(entrants, n)
	if len(winners) == 0 {
		return nil, fault.Input("nobody entered that giveaway")
	}
	s.Notify(ctx, channelID, &discordgo.MessageSend{
		Content:         fmt.Sprintf("New winner(s): %s!", mentions(winners)),
		AllowedMentions: platform.UserMentions(),
	})
	return winners, nil
}
