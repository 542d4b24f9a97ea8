// Package httpapi exposes the event CRUD and merge pipeline over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"eventmerge/internal/merge"
	"eventmerge/internal/model"
	"eventmerge/internal/store"
)

// Merger is the merge pipeline surface the API needs.
// Satisfied by *merge.Service.
type Merger interface {
	FindConflicts(ctx context.Context, userID string) ([]model.Event, error)
	MergeAll(ctx context.Context, userID string) (merge.Result, error)
}

// Server routes HTTP requests to the store and merge pipeline.
type Server struct {
	store  store.Store
	merger Merger
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer creates the HTTP server.
func NewServer(st store.Store, merger Merger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  st,
		merger: merger,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /users", s.handleCreateUser)

	s.mux.HandleFunc("POST /events", s.handleCreateEvent)
	s.mux.HandleFunc("POST /events/batch", s.handleBatchCreate)
	s.mux.HandleFunc("GET /events/{id}", s.handleGetEvent)
	s.mux.HandleFunc("PATCH /events/{id}", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /events/{id}", s.handleDeleteEvent)
	s.mux.HandleFunc("GET /events/user/{userId}", s.handleEventsByUser)
	s.mux.HandleFunc("GET /events/conflicts/{userId}", s.handleConflicts)
	s.mux.HandleFunc("POST /events/merge-all/{userId}", s.handleMergeAll)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request handled",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Duration("duration", time.Since(start)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
