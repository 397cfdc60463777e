// Package feeds polls external RSS and Atom sources for tenant
// subscriptions and posts new entries to the subscribed channel.
package feeds

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"guildwarden/internal/core"
	"guildwarden/internal/fault"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/platform"
	"guildwarden/internal/storage"
)

const (
	MaxPerGuild     = 10
	maxTemplateSize = 500
)

var (
	metricDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guildwarden_feeds_delivered_total",
		Help: "Feed entries posted to channels",
	})
	metricFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guildwarden_feeds_fetch_errors_total",
		Help: "Failed feed fetches",
	})
)

type subKey struct {
	guild, channel, source string
}

func keyOf(sub storage.FeedSubscription) subKey {
	return subKey{sub.GuildID, sub.ChannelID, sub.SourceURL}
}

type retryState struct {
	backoff *backoff.ExponentialBackOff
	next    time.Time
}

// Watcher is a suture service. Its loop idles while no subscription exists
// and wakes on the next Subscribe.
type Watcher struct {
	*core.Bundle
	logger  *zap.Logger
	fetcher Fetcher
	limiter *rate.Limiter
	wake    chan struct{}

	mu      sync.Mutex
	retries map[subKey]*retryState
}

func New(b *core.Bundle, fetcher Fetcher) *Watcher {
	limit := rate.Inf
	if b.Config.Feeds.PollDelay > 0 {
		limit = rate.Every(b.Config.Feeds.PollDelay)
	}
	return &Watcher{
		Bundle:  b,
		logger:  b.Logger.Named("feeds"),
		fetcher: fetcher,
		limiter: rate.NewLimiter(limit, 1),
		wake:    make(chan struct{}, 1),
		retries: make(map[subKey]*retryState),
	}
}

func (w *Watcher) String() string { return "feeds" }

func (w *Watcher) Serve(ctx context.Context) error {
	for {
		n, err := w.PollOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			w.logger.Warn("feed pass failed", zap.Error(err))
		}
		if n > 0 && err == nil {
			continue
		}
		// idle until a subscription is added, rechecking now and then in
		// case the store was unavailable
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.wake:
		case <-time.After(time.Minute):
		}
	}
}

// PollOnce checks every subscription once, pacing requests through the
// limiter. It returns the number of subscriptions seen.
func (w *Watcher) PollOnce(ctx context.Context) (int, error) {
	subs, err := w.Store.ListFeedSubscriptions(ctx)
	if err != nil {
		return 0, err
	}
	for _, sub := range subs {
		if err := w.limiter.Wait(ctx); err != nil {
			return len(subs), err
		}
		w.poll(ctx, sub)
	}
	return len(subs), nil
}

func (w *Watcher) poll(ctx context.Context, sub storage.FeedSubscription) {
	key := keyOf(sub)
	now := w.Clock.Now()
	if w.waiting(key, now) {
		return
	}

	item, err := w.fetcher.Newest(ctx, sub.SourceURL)
	if err != nil {
		metricFetchErrors.Inc()
		delay := w.failed(key, now)
		w.logger.Debug("feed fetch failed", zap.String("source", sub.SourceURL), zap.Duration("retry_in", delay), zap.Error(err))
		return
	}
	w.succeeded(key)
	if sub.SeenIDs.Contains(item.ID) {
		return
	}

	content := strings.TrimSpace(sub.ReplyTemplate + " " + item.URL)
	_, err = w.Platform.SendMessage(ctx, sub.ChannelID, &discordgo.MessageSend{Content: content, AllowedMentions: platform.AllMentions()})
	if fault.Is(err, fault.EntityMissing) {
		if _, err := w.Store.RemoveFeedSubscription(ctx, sub.GuildID, sub.ChannelID, sub.SourceURL); err != nil {
			w.logger.Warn("dropping feed for vanished channel failed", zap.Error(err))
		}
		w.forget(key)
		w.logger.Info("dropped feed for vanished channel", zap.String("guild_id", sub.GuildID), zap.String("channel_id", sub.ChannelID))
		return
	}
	if err != nil {
		w.logger.Debug("feed delivery failed", zap.String("channel_id", sub.ChannelID), zap.Error(err))
		return
	}

	metricDelivered.Inc()
	sub.Seen(item.ID)
	if err := w.Store.UpdateFeedSeen(ctx, sub); err != nil {
		w.logger.Warn("persisting seen feed entry failed", zap.String("item", describe(item)), zap.Error(err))
	}
}

func (w *Watcher) waiting(key subKey, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.retries[key]
	return ok && now.Before(r.next)
}

func (w *Watcher) failed(key subKey, now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.retries[key]
	if !ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 30 * time.Second
		b.MaxInterval = 30 * time.Minute
		b.MaxElapsedTime = 0
		b.RandomizationFactor = 0
		b.Reset()
		r = &retryState{backoff: b}
		w.retries[key] = r
	}
	delay := r.backoff.NextBackOff()
	r.next = now.Add(delay)
	return delay
}

func (w *Watcher) succeeded(key subKey) {
	w.forget(key)
}

func (w *Watcher) forget(key subKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.retries, key)
}

// Subscribe stores a subscription and marks the current newest entry as
// seen, so only later entries are posted.
func (w *Watcher) Subscribe(ctx context.Context, sub storage.FeedSubscription, moderatorID string) error {
	source, err := ValidateSource(sub.SourceURL)
	if err != nil {
		return err
	}
	sub.SourceURL = source
	if len(sub.ReplyTemplate) > maxTemplateSize {
		return fault.Input("the message must be at most %d characters", maxTemplateSize)
	}
	if _, ok, err := w.Cache.Channel(ctx, sub.ChannelID); err != nil {
		return err
	} else if !ok {
		return fault.Missing("that channel does not exist")
	}
	existing, err := w.Store.ListGuildFeedSubscriptions(ctx, sub.GuildID)
	if err != nil {
		return err
	}
	if len(existing) >= MaxPerGuild {
		return fault.Input("a server can follow at most %d feeds", MaxPerGuild)
	}

	item, err := w.fetcher.Newest(ctx, sub.SourceURL)
	if err != nil {
		if fault.Is(err, fault.UserInput) {
			return err
		}
		return fault.Input("I could not read a feed at %s", sub.SourceURL)
	}
	sub.SeenIDs = storage.StringList{item.ID}
	if err := w.Store.AddFeedSubscription(ctx, sub); err != nil {
		return err
	}
	w.Audit.Log(ctx, audit.LevelInfo, sub.GuildID, moderatorID, "feed_subscribed", "source="+sub.SourceURL+" channel="+sub.ChannelID)

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

func (w *Watcher) Unsubscribe(ctx context.Context, guildID, channelID, sourceURL, moderatorID string) error {
	removed, err := w.Store.RemoveFeedSubscription(ctx, guildID, channelID, strings.TrimSpace(sourceURL))
	if err != nil {
		return err
	}
	if !removed {
		return fault.Missing("that channel does not follow %s", sourceURL)
	}
	w.forget(subKey{guildID, channelID, strings.TrimSpace(sourceURL)})
	w.Audit.Log(ctx, audit.LevelInfo, guildID, moderatorID, "feed_unsubscribed", "source="+sourceURL+" channel="+channelID)
	return nil
}

func (w *Watcher) List(ctx context.Context, guildID string) ([]storage.FeedSubscription, error) {
	return w.Store.ListGuildFeedSubscriptions(ctx, guildID)
}
