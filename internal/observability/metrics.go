package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Summary sources reported through RecordSummary.
const (
	SummarySourceCache    = "cache"
	SummarySourceModel    = "model"
	SummarySourceFallback = "fallback"
)

// Recorder records pipeline metrics.
// Use NewMetrics() for OTel metrics or NoopMetrics{} when disabled.
type Recorder interface {
	// RecordMergeRun records one merge pass with its duration, the number of
	// merged events produced, and error status.
	RecordMergeRun(ctx context.Context, duration time.Duration, merged int, err error)

	// RecordPublish records a message publish attempt on a topic.
	RecordPublish(ctx context.Context, topic string, err error)

	// RecordConsume records one handler invocation for a topic.
	RecordConsume(ctx context.Context, topic string, duration time.Duration, err error)

	// RecordSummary records a summarization with its source
	// (cache, model, or fallback).
	RecordSummary(ctx context.Context, source string, duration time.Duration)
}

// otelMetrics implements Recorder using OpenTelemetry.
type otelMetrics struct {
	mergeRuns      metric.Int64Counter
	mergeLatency   metric.Float64Histogram
	eventsMerged   metric.Int64Counter
	publishes      metric.Int64Counter
	consumes       metric.Int64Counter
	consumeLatency metric.Float64Histogram
	summaries      metric.Int64Counter
	summaryLatency metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// NewMetrics returns the OTel-backed metrics recorder.
// Instruments are created once and reused across calls.
func NewMetrics() (Recorder, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	if defaultMetricsErr != nil {
		return nil, defaultMetricsErr
	}
	return defaultMetrics, nil
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventmerge")

	mergeRuns, err := meter.Int64Counter("eventmerge.merge.runs",
		metric.WithDescription("Number of merge passes"))
	if err != nil {
		return nil, err
	}
	mergeLatency, err := meter.Float64Histogram("eventmerge.merge.duration_ms",
		metric.WithDescription("Merge pass duration in milliseconds"))
	if err != nil {
		return nil, err
	}
	eventsMerged, err := meter.Int64Counter("eventmerge.merge.events_merged",
		metric.WithDescription("Number of merged events produced"))
	if err != nil {
		return nil, err
	}
	publishes, err := meter.Int64Counter("eventmerge.bus.publishes",
		metric.WithDescription("Number of message publish attempts"))
	if err != nil {
		return nil, err
	}
	consumes, err := meter.Int64Counter("eventmerge.bus.consumes",
		metric.WithDescription("Number of handler invocations"))
	if err != nil {
		return nil, err
	}
	consumeLatency, err := meter.Float64Histogram("eventmerge.bus.consume_duration_ms",
		metric.WithDescription("Handler duration in milliseconds"))
	if err != nil {
		return nil, err
	}
	summaries, err := meter.Int64Counter("eventmerge.summary.requests",
		metric.WithDescription("Number of summarizations by source"))
	if err != nil {
		return nil, err
	}
	summaryLatency, err := meter.Float64Histogram("eventmerge.summary.duration_ms",
		metric.WithDescription("Summarization duration in milliseconds"))
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		mergeRuns:      mergeRuns,
		mergeLatency:   mergeLatency,
		eventsMerged:   eventsMerged,
		publishes:      publishes,
		consumes:       consumes,
		consumeLatency: consumeLatency,
		summaries:      summaries,
		summaryLatency: summaryLatency,
	}, nil
}

// RecordMergeRun implements Recorder.
func (m *otelMetrics) RecordMergeRun(ctx context.Context, duration time.Duration, merged int, err error) {
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	m.mergeRuns.Add(ctx, 1, attrs)
	m.mergeLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if merged > 0 {
		m.eventsMerged.Add(ctx, int64(merged))
	}
}

// RecordPublish implements Recorder.
func (m *otelMetrics) RecordPublish(ctx context.Context, topic string, err error) {
	m.publishes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.Bool("success", err == nil),
	))
}

// RecordConsume implements Recorder.
func (m *otelMetrics) RecordConsume(ctx context.Context, topic string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.Bool("success", err == nil),
	)
	m.consumes.Add(ctx, 1, attrs)
	m.consumeLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordSummary implements Recorder.
func (m *otelMetrics) RecordSummary(ctx context.Context, source string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("source", source))
	m.summaries.Add(ctx, 1, attrs)
	m.summaryLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// NoopMetrics is a Recorder that discards all measurements.
type NoopMetrics struct{}

// RecordMergeRun implements Recorder.
func (NoopMetrics) RecordMergeRun(context.Context, time.Duration, int, error) {}

// RecordPublish implements Recorder.
func (NoopMetrics) RecordPublish(context.Context, string, error) {}

// RecordConsume implements Recorder.
func (NoopMetrics) RecordConsume(context.Context, string, time.Duration, error) {}

// RecordSummary implements Recorder.
func (NoopMetrics) RecordSummary(context.Context, string, time.Duration) {}
