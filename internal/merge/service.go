// Package merge implements conflict detection and chain-merging of
// overlapping events, with post-commit enrichment dispatch.
package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"eventmerge/internal/model"
	"eventmerge/internal/observability"
	"eventmerge/internal/store"
	"eventmerge/internal/summary"
)

// Producer publishes enrichment messages after a merge commits.
// Satisfied by *bus.Bus.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Result reports the outcome of one merge pass.
type Result struct {
	// Count is the number of merged events produced.
	Count int `json:"count"`

	// Events are the newly created merged events, in group order.
	// Empty when no group had two or more members.
	Events []model.Event `json:"events"`
}

// Service runs conflict detection and merge passes for a user's events.
type Service struct {
	store    store.Store
	producer Producer // nil disables enrichment dispatch
	logger   *slog.Logger
	metrics  observability.Recorder
	now      func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithProducer sets the post-commit message producer.
func WithProducer(p Producer) Option {
	return func(s *Service) { s.producer = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics observability.Recorder) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a merge service backed by the given store.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:   st,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindConflicts returns the user's events involved in at least one pairwise
// overlap, in first-seen order of the start-sorted sequence, each at most
// once. Returns store.ErrUserNotFound for an unknown user.
//
// The scan is O(n²) over the user's events; per-user event counts are small
// enough that a sweep over the running maximum end time isn't worth the
// bookkeeping.
func (s *Service) FindConflicts(ctx context.Context, userID string) ([]model.Event, error) {
	events, err := s.store.EventsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	model.SortByStart(events)

	conflicts := make([]model.Event, 0)
	seen := make(map[string]bool)
	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			if !events[i].Overlaps(events[j]) {
				continue
			}
			if !seen[events[i].ID] {
				seen[events[i].ID] = true
				conflicts = append(conflicts, events[i])
			}
			if !seen[events[j].ID] {
				seen[events[j].ID] = true
				conflicts = append(conflicts, events[j])
			}
		}
	}
	return conflicts, nil
}

// MergeAll replaces every maximal run of chain-overlapping events for the
// user with one synthesized event, atomically, then emits one enrichment
// message per merged event. Running it again with no new events merges
// nothing. Returns store.ErrUserNotFound for an unknown user.
func (s *Service) MergeAll(ctx context.Context, userID string) (Result, error) {
	done := observability.TimedOperation()
	result, err := s.mergeAll(ctx, userID)
	s.metrics.RecordMergeRun(ctx, done(), result.Count, err)
	return result, err
}

func (s *Service) mergeAll(ctx context.Context, userID string) (Result, error) {
	events, err := s.store.EventsByUser(ctx, userID)
	if err != nil {
		return Result{Events: []model.Event{}}, err
	}
	model.SortByStart(events)

	groups := chainGroups(events)
	if len(groups) == 0 {
		return Result{Events: []model.Event{}}, nil
	}

	now := s.now().UTC()
	merged := make([]model.Event, 0, len(groups))
	for _, group := range groups {
		merged = append(merged, synthesize(group, now))
	}

	if err := s.commitGroups(ctx, userID, groups, merged, now); err != nil {
		return Result{Events: []model.Event{}}, err
	}

	logger := observability.WithUser(s.logger, userID)
	logger.Info("merge committed",
		slog.Int("groups", len(groups)),
		slog.Int("events_replaced", countMembers(groups)))

	// Post-commit, best-effort: a failed send never re-opens the merge.
	s.dispatchEnrichment(ctx, userID, merged, logger)

	return Result{Count: len(merged), Events: merged}, nil
}

// chainGroups walks start-sorted events and groups maximal runs of chained
// overlaps. Each event is tested against the LAST event added to the current
// group, not the group's running maximum end time: an event that overlaps
// its predecessor joins the group even if it doesn't overlap earlier
// members. Callers must not assume every pair in a group overlaps directly.
func chainGroups(events []model.Event) [][]model.Event {
	if len(events) < 2 {
		return nil
	}

	var groups [][]model.Event
	current := []model.Event{events[0]}

	for _, ev := range events[1:] {
		if current[len(current)-1].Overlaps(ev) {
			current = append(current, ev)
			continue
		}
		if len(current) > 1 {
			groups = append(groups, current)
		}
		current = []model.Event{ev}
	}
	if len(current) > 1 {
		groups = append(groups, current)
	}
	return groups
}

// synthesize collapses one group into a merged event: the span covers all
// members, titles concatenate in group order, descriptions join non-empty
// values, the status comes from the last member, and invitees are the union
// of all members' invitees in first-seen order.
func synthesize(group []model.Event, now time.Time) model.Event {
	start := group[0].StartTime
	end := group[0].EndTime
	titles := make([]string, 0, len(group))
	var descriptions []string
	var invitees []string
	seenInvitee := make(map[string]bool)
	memberIDs := make([]string, 0, len(group))

	for _, ev := range group {
		if ev.StartTime.Before(start) {
			start = ev.StartTime
		}
		if ev.EndTime.After(end) {
			end = ev.EndTime
		}
		titles = append(titles, ev.Title)
		if ev.Description != "" {
			descriptions = append(descriptions, ev.Description)
		}
		for _, inv := range ev.Invitees {
			if !seenInvitee[inv] {
				seenInvitee[inv] = true
				invitees = append(invitees, inv)
			}
		}
		memberIDs = append(memberIDs, ev.ID)
	}

	return model.Event{
		ID:          uuid.New().String(),
		Title:       strings.Join(titles, " + "),
		Description: strings.Join(descriptions, "\n\n"),
		Status:      group[len(group)-1].Status,
		StartTime:   start,
		EndTime:     end,
		Invitees:    invitees,
		MergedFrom:  memberIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// commitGroups applies the group replacement in one transaction: insert the
// merged events, delete the members, and append one audit entry per group.
// Any failure rolls the whole pass back.
func (s *Service) commitGroups(ctx context.Context, userID string, groups [][]model.Event, merged []model.Event, now time.Time) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin merge transaction: %w", err)
	}
	defer tx.Rollback()

	for i, group := range groups {
		if err := tx.InsertEvent(ctx, merged[i]); err != nil {
			return fmt.Errorf("insert merged event: %w", err)
		}
		if err := tx.DeleteEvents(ctx, merged[i].MergedFrom); err != nil {
			return fmt.Errorf("delete merged members: %w", err)
		}
		if err := tx.AppendAudit(ctx, model.AuditEntry{
			ID:     uuid.New().String(),
			UserID: userID,
			Action: model.AuditEventsMerged,
			Metadata: map[string]any{
				"oldEventIds": merged[i].MergedFrom,
				"newEventId":  merged[i].ID,
				"mergeCount":  len(group),
			},
			Description: fmt.Sprintf("Merged %d events into one", len(group)),
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge transaction: %w", err)
	}
	return nil
}

// dispatchEnrichment sends one enrichment message per merged event, keyed by
// the user ID so one user's messages stay ordered. Send failures are logged
// and swallowed.
func (s *Service) dispatchEnrichment(ctx context.Context, userID string, merged []model.Event, logger *slog.Logger) {
	if s.producer == nil {
		return
	}
	for _, ev := range merged {
		msg := summary.NewEnrichmentMessage(ev, userID, s.now().UTC())
		value, err := json.Marshal(msg)
		if err != nil {
			observability.WithEvent(logger, ev.ID).Error("encode enrichment message failed",
				slog.String("error", err.Error()))
			continue
		}
		if err := s.producer.Publish(ctx, summary.Topic, userID, value); err != nil {
			observability.WithEvent(logger, ev.ID).Error("enrichment publish failed, merge unaffected",
				slog.String("error", err.Error()))
		}
	}
}

func countMembers(groups [][]model.Event) int {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	return n
}
