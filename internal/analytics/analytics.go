// Package analytics summarises audit activity per tenant and reports
// operational trouble to the operator channel.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildwarden/internal/clock"
	"guildwarden/internal/fault"
	"guildwarden/internal/platform"
	"guildwarden/internal/storage"
	"guildwarden/internal/utils"
)

// SummaryInterval bounds how often a rate-limit summary is posted.
const SummaryInterval = time.Minute

type Service struct {
	store           *storage.Store
	client          platform.Client
	clock           clock.Clock
	logger          *zap.Logger
	operatorChannel string

	mu          sync.Mutex
	limits      *utils.SlidingWindow
	global      int
	buckets     map[string]int
	lastSummary time.Time
}

func New(store *storage.Store, client platform.Client, c clock.Clock, logger *zap.Logger, operatorChannel string) *Service {
	return &Service{
		store:           store,
		client:          client,
		clock:           c,
		logger:          logger,
		operatorChannel: operatorChannel,
		limits:          utils.NewSlidingWindow(SummaryInterval),
		buckets:         make(map[string]int),
	}
}

type Report struct {
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	return report, nil
}

// Integrity logs err at error level and forwards a compact trace to the
// operator channel.
func (s *Service) Integrity(ctx context.Context, where string, err error) {
	s.logger.Error("integrity violation", zap.String("where", where), zap.Error(err))
	trace := err.Error()
	if len(trace) > 1500 {
		trace = trace[:1500]
	}
	s.toOperator(ctx, fmt.Sprintf("**Integrity violation** in `%s`\n```%s```", where, trace))
}

// Failure applies the uniform policy for err raised in where: integrity
// violations and unclassified errors are escalated, the rest only logged.
func (s *Service) Failure(ctx context.Context, where string, err error) {
	switch fault.KindOf(err) {
	case fault.IntegrityViolation, fault.Unknown:
		s.Integrity(ctx, where, err)
	case fault.Transient, fault.StoreUnavailable:
		s.logger.Warn("transient failure", zap.String("where", where), zap.Error(err))
	default:
		s.logger.Debug("handled failure", zap.String("where", where), zap.Error(err))
	}
}

// RateLimited records a rate-limit hit. At most one summary per
// SummaryInterval reaches the operator channel.
func (s *Service) RateLimited(ctx context.Context, bucket string, retryAfter time.Duration, global bool) {
	s.logger.Warn("rate limited", zap.String("bucket", bucket), zap.Duration("retry_after", retryAfter), zap.Bool("global", global))

	now := s.clock.Now()
	s.mu.Lock()
	count := s.limits.Add(now)
	if global {
		s.global++
	}
	s.buckets[bucket]++
	if !s.lastSummary.IsZero() && now.Sub(s.lastSummary) < SummaryInterval {
		s.mu.Unlock()
		return
	}
	summary := s.summaryLocked(count)
	s.lastSummary = now
	s.global = 0
	s.buckets = make(map[string]int)
	s.mu.Unlock()

	s.toOperator(ctx, summary)
}

func (s *Service) summaryLocked(count int) string {
	type pair struct {
		bucket string
		hits   int
	}
	pairs := make([]pair, 0, len(s.buckets))
	for bucket, hits := range s.buckets {
		pairs = append(pairs, pair{bucket, hits})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].hits == pairs[j].hits {
			return pairs[i].bucket < pairs[j].bucket
		}
		return pairs[i].hits > pairs[j].hits
	})
	if len(pairs) > 3 {
		pairs = pairs[:3]
	}
	lines := make([]string, 0, len(pairs))
	for _, p := range pairs {
		lines = append(lines, fmt.Sprintf("`%s` x%d", p.bucket, p.hits))
	}
	return fmt.Sprintf("**Rate limits**: %d in the last minute (%d global)\n%s", count, s.global, strings.Join(lines, "\n"))
}

func (s *Service) toOperator(ctx context.Context, content string) {
	if s.operatorChannel == "" {
		return
	}
	msg := &discordgo.MessageSend{Content: content, AllowedMentions: platform.NoMentions()}
	if _, err := s.client.SendMessage(ctx, s.operatorChannel, msg); err != nil {
		s.logger.Warn("operator notification failed", zap.Error(err))
	}
}
