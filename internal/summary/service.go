// Package summary computes natural-language summaries for merged events.
//
// The service is cache-first: once a summary is cached for a merged event ID
// it is returned unchanged until the TTL expires. On a miss it calls the
// configured language model, and degrades to a deterministic locally-computed
// summary when no client is configured or the call fails. External failures
// are never surfaced to callers.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"eventmerge/internal/llm"
	"eventmerge/internal/model"
	"eventmerge/internal/observability"
)

const (
	cacheKeyPrefix = "ai-summary:"

	systemPrompt = "You are an assistant that creates concise, one-line " +
		"summaries of merged calendar events. Be brief and informative."
)

// DefaultTTL is how long computed summaries stay cached.
const DefaultTTL = time.Hour

// Service is the cache-backed summarization service.
type Service struct {
	client  llm.Client // nil when no credential/binary is configured
	cache   *gocache.Cache
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	metrics observability.Recorder
}

// Option configures the Service.
type Option func(*Service)

// WithClient sets the language model client. A nil client means every
// summary uses the deterministic fallback.
func WithClient(client llm.Client) Option {
	return func(s *Service) { s.client = client }
}

// WithTTL sets the cache TTL for computed summaries.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics observability.Recorder) Option {
	return func(s *Service) { s.metrics = metrics }
}

// NewService creates a summarization service.
func NewService(opts ...Option) *Service {
	s := &Service{
		ttl:     DefaultTTL,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = gocache.New(s.ttl, s.ttl/2)
	return s
}

// Summarize returns a summary for a merged event. The result is stable for a
// given merged event ID once cached. It never fails: any external error
// degrades to the deterministic fallback.
func (s *Service) Summarize(ctx context.Context, merged model.Event, originals []model.Event) string {
	key := cacheKeyPrefix + merged.ID

	if cached, ok := s.cache.Get(key); ok {
		s.metrics.RecordSummary(ctx, observability.SummarySourceCache, 0)
		return cached.(string)
	}

	// Collapse concurrent first-time requests for the same key into one
	// computation so a burst doesn't issue duplicate model calls.
	result, _, _ := s.group.Do(key, func() (any, error) {
		if cached, ok := s.cache.Get(key); ok {
			s.metrics.RecordSummary(ctx, observability.SummarySourceCache, 0)
			return cached.(string), nil
		}
		text := s.compute(ctx, merged, originals)
		s.cache.Set(key, text, s.ttl)
		return text, nil
	})
	return result.(string)
}

func (s *Service) compute(ctx context.Context, merged model.Event, originals []model.Event) string {
	done := observability.TimedOperation()

	if s.client == nil {
		text := fallbackSummary(originals)
		s.metrics.RecordSummary(ctx, observability.SummarySourceFallback, done())
		return text
	}

	text, err := s.client.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		Prompt:       buildPrompt(merged, originals),
		MaxTokens:    1024,
	})
	if err != nil || text == "" {
		if err != nil {
			observability.WithEvent(s.logger, merged.ID).Warn("summary generation failed, using fallback",
				slog.String("error", err.Error()))
		}
		text = fallbackSummary(originals)
		s.metrics.RecordSummary(ctx, observability.SummarySourceFallback, done())
		return text
	}

	s.metrics.RecordSummary(ctx, observability.SummarySourceModel, done())
	return text
}

func buildPrompt(merged model.Event, originals []model.Event) string {
	var b strings.Builder
	b.WriteString("Generate a one-line summary for merged events:\n\n")
	for i, ev := range originals {
		fmt.Fprintf(&b, "Event %d: %q (%s - %s)\n", i+1, ev.Title,
			ev.StartTime.UTC().Format(time.RFC3339),
			ev.EndTime.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "\nMerged into: %q (%s - %s)\n\n", merged.Title,
		merged.StartTime.UTC().Format(time.RFC3339),
		merged.EndTime.UTC().Format(time.RFC3339))
	b.WriteString("Provide a single, concise sentence summarizing the merge.")
	return b.String()
}

// fallbackSummary is the deterministic local summary: pure and reproducible
// for the same input, used when no client is configured or the call fails.
func fallbackSummary(originals []model.Event) string {
	tokens := make([]string, 0, len(originals))
	for _, ev := range originals {
		if fields := strings.Fields(ev.Title); len(fields) > 0 {
			tokens = append(tokens, fields[0])
		}
	}
	return fmt.Sprintf("Merged %d overlapping events: %s.",
		len(originals), strings.Join(tokens, ", "))
}
