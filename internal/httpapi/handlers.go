package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"eventmerge/internal/model"
)

type createUserRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	user := model.User{
		ID:        req.ID,
		Name:      strings.TrimSpace(req.Name),
		CreatedAt: time.Now().UTC(),
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type eventRequest struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      model.Status `json:"status,omitempty"`
	StartTime   time.Time    `json:"startTime"`
	EndTime     time.Time    `json:"endTime"`
	InviteeIDs  []string     `json:"inviteeIds,omitempty"`
}

func (req eventRequest) toEvent(now time.Time) model.Event {
	status := req.Status
	if status == "" {
		status = model.StatusTodo
	}
	return model.Event{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		Status:      status,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Invitees:    req.InviteeIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	ev := req.toEvent(time.Now().UTC())
	if err := ev.Validate(); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.CreateEvent(r.Context(), ev); err != nil {
		writeStoreError(w, err)
		return
	}

	s.audit(r.Context(), ev, model.AuditEventCreated,
		map[string]any{"newEventId": ev.ID},
		fmt.Sprintf("Event created: %s", ev.Title))

	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type updateEventRequest struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Status      *model.Status `json:"status,omitempty"`
	StartTime   *time.Time    `json:"startTime,omitempty"`
	EndTime     *time.Time    `json:"endTime,omitempty"`
	InviteeIDs  *[]string     `json:"inviteeIds,omitempty"`
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req updateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := s.store.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if req.Title != nil {
		ev.Title = *req.Title
	}
	if req.Description != nil {
		ev.Description = *req.Description
	}
	if req.Status != nil {
		ev.Status = *req.Status
	}
	if req.StartTime != nil {
		ev.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		ev.EndTime = *req.EndTime
	}
	if req.InviteeIDs != nil {
		ev.Invitees = *req.InviteeIDs
	}
	ev.UpdatedAt = time.Now().UTC()

	if err := ev.Validate(); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.UpdateEvent(r.Context(), ev); err != nil {
		writeStoreError(w, err)
		return
	}

	s.audit(r.Context(), ev, model.AuditEventUpdated,
		map[string]any{"eventId": ev.ID},
		fmt.Sprintf("Event updated: %s", ev.Title))

	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.DeleteEvent(r.Context(), ev.ID); err != nil {
		writeStoreError(w, err)
		return
	}

	s.audit(r.Context(), ev, model.AuditEventDeleted,
		map[string]any{"eventId": ev.ID},
		fmt.Sprintf("Event deleted: %s", ev.Title))

	w.WriteHeader(http.StatusNoContent)
}

type batchCreateRequest struct {
	Events []eventRequest `json:"events"`
}

func (s *Server) handleBatchCreate(w http.ResponseWriter, r *http.Request) {
	var req batchCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "events must not be empty")
		return
	}

	now := time.Now().UTC()
	events := make([]model.Event, 0, len(req.Events))
	for _, er := range req.Events {
		ev := er.toEvent(now)
		if err := ev.Validate(); err != nil {
			writeStoreError(w, err)
			return
		}
		events = append(events, ev)
	}

	// One transaction: either every event lands or none do.
	tx, err := s.store.Begin(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		if err := tx.InsertEvent(r.Context(), ev); err != nil {
			writeStoreError(w, err)
			return
		}
		ids = append(ids, ev.ID)
	}
	if err := tx.AppendAudit(r.Context(), model.AuditEntry{
		ID:     uuid.New().String(),
		Action: model.AuditBatchInsert,
		Metadata: map[string]any{
			"batchSize": len(events),
			"eventIds":  ids,
		},
		Description: fmt.Sprintf("Batch created %d events", len(events)),
		CreatedAt:   now,
	}); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

func (s *Server) handleEventsByUser(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.EventsByUser(r.Context(), r.PathValue("userId"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := s.merger.FindConflicts(r.Context(), r.PathValue("userId"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conflicts)
}

func (s *Server) handleMergeAll(w http.ResponseWriter, r *http.Request) {
	result, err := s.merger.MergeAll(r.Context(), r.PathValue("userId"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// audit appends a CRUD audit entry, attributing the first invitee as the
// acting user the way the audit trail always has. Append failures are
// logged, not surfaced.
func (s *Server) audit(ctx context.Context, ev model.Event, action model.AuditAction, metadata map[string]any, description string) {
	userID := ""
	if len(ev.Invitees) > 0 {
		userID = ev.Invitees[0]
	}
	entry := model.AuditEntry{
		ID:          uuid.New().String(),
		UserID:      userID,
		Action:      action,
		Metadata:    metadata,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.logger.Error("audit append failed",
			slog.String("action", string(action)),
			slog.String("error", err.Error()))
	}
}
