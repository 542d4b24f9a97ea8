// Package scheduler runs periodic merge sweeps across all users.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"eventmerge/internal/merge"
	"eventmerge/internal/store"
)

// Sweeper merges every user's overlapping events on a cron schedule.
type Sweeper struct {
	store  store.Store
	merger *merge.Service
	logger *slog.Logger
	cron   *cron.Cron
}

// New creates a sweeper with the given cron expression
// (standard five-field syntax, e.g. "*/15 * * * *").
func New(spec string, st store.Store, merger *merge.Service, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		store:  st,
		merger: merger,
		logger: logger,
		cron:   cron.New(),
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("merge sweeper started")
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// sweep runs a merge pass per user; one user's failure doesn't stop the rest.
func (s *Sweeper) sweep() {
	ctx := context.Background()

	userIDs, err := s.store.ListUserIDs(ctx)
	if err != nil {
		s.logger.Error("sweep: list users failed", slog.String("error", err.Error()))
		return
	}

	for _, userID := range userIDs {
		result, err := s.merger.MergeAll(ctx, userID)
		if err != nil {
			s.logger.Error("sweep: merge failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			continue
		}
		if result.Count > 0 {
			s.logger.Info("sweep: merged events",
				slog.String("user_id", userID),
				slog.Int("count", result.Count))
		}
	}
}
