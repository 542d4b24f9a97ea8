package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"eventmerge/internal/bus"
	"eventmerge/internal/model"
	"eventmerge/internal/observability"
	"eventmerge/internal/store"
)

// Consumer handles enrichment messages: it loads the merged event and its
// originals, computes a summary, and persists it. Errors returned here are
// logged by the bus and the message is dropped; there is no retry.
type Consumer struct {
	store   store.Store
	service *Service
	logger  *slog.Logger
}

// NewConsumer creates a consumer. Register it on the bus for Topic before
// the bus starts.
func NewConsumer(st store.Store, service *Service, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{store: st, service: service, logger: logger}
}

// Handle implements bus.Handler.
func (c *Consumer) Handle(ctx context.Context, msg bus.Message) error {
	var em EnrichmentMessage
	if err := json.Unmarshal(msg.Value, &em); err != nil {
		return fmt.Errorf("decode enrichment message: %w", err)
	}

	logger := observability.WithEvent(observability.WithUser(c.logger, em.UserID), em.EventID)

	merged, err := c.store.GetEvent(ctx, em.EventID)
	if err != nil {
		return fmt.Errorf("load merged event %s: %w", em.EventID, err)
	}

	originals, err := c.store.GetEvents(ctx, merged.MergedFrom)
	if err != nil {
		return fmt.Errorf("load original events: %w", err)
	}
	// Originals are deleted inside the merge transaction, so normally none
	// resolve; the merged record then stands in as its own original.
	if len(originals) == 0 {
		originals = []model.Event{merged}
	}

	text := c.service.Summarize(ctx, merged, originals)

	if err := c.store.UpdateSummary(ctx, merged.ID, text); err != nil {
		return fmt.Errorf("persist summary: %w", err)
	}

	logger.Info("summary persisted", slog.Int("summary_len", len(text)))
	return nil
}
