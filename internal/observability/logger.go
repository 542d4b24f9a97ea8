// Package observability provides structured logging via slog and metrics
// via OpenTelemetry. Metrics are opt-in and have a no-op implementation
// when disabled.
package observability

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// NewLogger builds a JSON slog logger at the given level
// ("debug", "info", "warn", "error"; anything else means info).
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// WithUser returns a logger carrying the user ID field.
func WithUser(logger *slog.Logger, userID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("user_id", userID))
}

// WithEvent returns a logger carrying the event ID field.
func WithEvent(logger *slog.Logger, eventID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("event_id", eventID))
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed duration.
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
