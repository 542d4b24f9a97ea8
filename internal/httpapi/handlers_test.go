package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eventmerge/internal/merge"
	"eventmerge/internal/model"
	"eventmerge/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	srv := NewServer(st, merge.NewService(st), nil)
	return srv, st
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func createUser(t *testing.T, srv *Server, id string) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/users", map[string]string{"id": id, "name": "User " + id})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: status %d, body %s", rec.Code, rec.Body.String())
	}
}

func eventBody(title string, start, end time.Time, invitees ...string) map[string]any {
	return map[string]any{
		"title":      title,
		"startTime":  start.Format(time.RFC3339),
		"endTime":    end.Format(time.RFC3339),
		"inviteeIds": invitees,
	}
}

func hour(h int) time.Time {
	return time.Date(2025, 3, 10, h, 0, 0, 0, time.UTC)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[map[string]string](t, rec)
	if body["status"] != "ok" {
		t.Errorf("status field = %q", body["status"])
	}
}

func TestCreateAndGetEvent(t *testing.T) {
	srv, _ := newTestServer(t)
	createUser(t, srv, "u1")

	rec := doJSON(t, srv, http.MethodPost, "/events", eventBody("Standup", hour(10), hour(11), "u1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create event: status %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[model.Event](t, rec)
	if created.ID == "" {
		t.Fatal("created event has no ID")
	}
	if created.Status != model.StatusTodo {
		t.Errorf("default status = %q, want TODO", created.Status)
	}

	rec = doJSON(t, srv, http.MethodGet, "/events/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get event: status %d", rec.Code)
	}
	got := decodeBody[model.Event](t, rec)
	if got.Title != "Standup" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestCreateEventValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	createUser(t, srv, "u1")

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{
			name: "missing title",
			body: eventBody("", hour(10), hour(11), "u1"),
			want: http.StatusBadRequest,
		},
		{
			name: "inverted interval",
			body: eventBody("Bad", hour(11), hour(10), "u1"),
			want: http.StatusBadRequest,
		},
		{
			name: "unknown invitee",
			body: eventBody("Ghost", hour(10), hour(11), "nobody"),
			want: http.StatusBadRequest,
		},
		{
			name: "unknown field",
			body: map[string]any{"title": "x", "bogus": true},
			want: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/events", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestUpdateEvent(t *testing.T) {
	srv, _ := newTestServer(t)
	createUser(t, srv, "u1")

	rec := doJSON(t, srv, http.MethodPost, "/events", eventBody("Standup", hour(10), hour(11), "u1"))
	created := decodeBody[model.Event](t, rec)

	rec = doJSON(t, srv, http.MethodPatch, "/events/"+created.ID, map[string]any{
		"title":  "Renamed",
		"status": "COMPLETED",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d, body %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[model.Event](t, rec)
	if updated.Title != "Renamed" || updated.Status != model.StatusCompleted {
		t.Errorf("updated = %+v", updated)
	}
	// Untouched fields survive the patch.
	if !updated.StartTime.Equal(created.StartTime) {
		t.Errorf("start time changed: %v", updated.StartTime)
	}

	rec = doJSON(t, srv, http.MethodPatch, "/events/ghost", map[string]any{"title": "x"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("patch missing event: status %d", rec.Code)
	}
}

func TestDeleteEvent(t *testing.T) {
	srv, _ := newTestServer(t)
	createUser(t, srv, "u1")

	rec := doJSON(t, srv, http.MethodPost, "/events", eventBody("Standup", hour(10), hour(11), "u1"))
	created := decodeBody[model.Event](t, rec)

	rec = doJSON(t, srv, http.MethodDelete, "/events/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/events/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodDelete, "/events/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("double delete: status %d", rec.Code)
	}
}

func TestBatchCreate(t *testing.T) {
	srv, st := newTestServer(t)
	createUser(t, srv, "u1")

	rec := doJSON(t, srv, http.MethodPost, "/events/batch", map[string]any{
		"events": []map[string]any{
			eventBody("One", hour(9), hour(10), "u1"),
			eventBody("Two", hour(10), hour(11), "u1"),
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("batch: status %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[struct {
		Count  int           `json:"count"`
		Events []model.Event `json:"events"`
	}](t, rec)
	if body.Count != 2 || len(body.Events) != 2 {
		t.Fatalf("batch response = %+v", body)
	}

	events, err := st.EventsByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("events by user: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("persisted %d events, want 2", len(events))
	}
}

func TestBatchCreateAtomic(t *testing.T) {
	srv, st := newTestServer(t)
	createUser(t, srv, "u1")

	// The second event references an unknown invitee; the first must not land.
	rec := doJSON(t, srv, http.MethodPost, "/events/batch", map[string]any{
		"events": []map[string]any{
			eventBody("Good", hour(9), hour(10), "u1"),
			eventBody("Bad", hour(10), hour(11), "ghost"),
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	events, err := st.EventsByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("events by user: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events after failed batch, got %d", len(events))
	}
}

func TestBatchCreateEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/events/batch", map[string]any{"events": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestConflictsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	createUser(t, srv, "u1")

	doJSON(t, srv, http.MethodPost, "/events", eventBody("A", hour(10), hour(11), "u1"))
	doJSON(t, srv, http.MethodPost, "/events", eventBody("B", hour(10), hour(11).Add(30*time.Minute), "u1"))
	doJSON(t, srv, http.MethodPost, "/events", eventBody("C", hour(14), hour(15), "u1"))

	rec := doJSON(t, srv, http.MethodGet, "/events/conflicts/u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("conflicts: status %d", rec.Code)
	}
	conflicts := decodeBody[[]model.Event](t, rec)
	if len(conflicts) != 2 {
		t.Errorf("got %d conflicts, want 2", len(conflicts))
	}

	rec = doJSON(t, srv, http.MethodGet, "/events/conflicts/nobody", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user: status %d", rec.Code)
	}
}

func TestMergeAllEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	createUser(t, srv, "u1")

	doJSON(t, srv, http.MethodPost, "/events", eventBody("A", hour(10), hour(11), "u1"))
	doJSON(t, srv, http.MethodPost, "/events", eventBody("B", hour(10).Add(30*time.Minute), hour(11).Add(30*time.Minute), "u1"))

	rec := doJSON(t, srv, http.MethodPost, "/events/merge-all/u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("merge-all: status %d, body %s", rec.Code, rec.Body.String())
	}
	result := decodeBody[merge.Result](t, rec)
	if result.Count != 1 {
		t.Fatalf("count = %d, want 1", result.Count)
	}
	merged := result.Events[0]
	if merged.Title != "A + B" {
		t.Errorf("merged title = %q", merged.Title)
	}

	// The user's calendar now holds exactly the merged event.
	rec = doJSON(t, srv, http.MethodGet, "/events/user/u1", nil)
	events := decodeBody[[]model.Event](t, rec)
	if len(events) != 1 || events[0].ID != merged.ID {
		t.Errorf("events after merge = %v", events)
	}

	// Nothing left to merge.
	rec = doJSON(t, srv, http.MethodPost, "/events/merge-all/u1", nil)
	if result := decodeBody[merge.Result](t, rec); result.Count != 0 {
		t.Errorf("second merge count = %d, want 0", result.Count)
	}
}

func TestEventsByUserEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	createUser(t, srv, "u1")
	createUser(t, srv, "u2")

	doJSON(t, srv, http.MethodPost, "/events", eventBody("Mine", hour(10), hour(11), "u1"))
	doJSON(t, srv, http.MethodPost, "/events", eventBody("Theirs", hour(10), hour(11), "u2"))

	rec := doJSON(t, srv, http.MethodGet, "/events/user/u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	events := decodeBody[[]model.Event](t, rec)
	if len(events) != 1 || events[0].Title != "Mine" {
		t.Errorf("events = %v", events)
	}
}

func TestCreateUserValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/users", map[string]string{"name": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank name: status %d", rec.Code)
	}

	createUser(t, srv, "u1")
	rec = doJSON(t, srv, http.MethodPost, "/users", map[string]string{"id": "u1", "name": "Again"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate user: status %d", rec.Code)
	}
}

func TestAuditTrail(t *testing.T) {
	srv, st := newTestServer(t)
	createUser(t, srv, "u1")

	rec := doJSON(t, srv, http.MethodPost, "/events", eventBody("Standup", hour(10), hour(11), "u1"))
	created := decodeBody[model.Event](t, rec)
	doJSON(t, srv, http.MethodDelete, "/events/"+created.ID, nil)

	entries := st.AuditEntries()
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].Action != model.AuditEventCreated || entries[1].Action != model.AuditEventDeleted {
		t.Errorf("actions = %v, %v", entries[0].Action, entries[1].Action)
	}
	for _, e := range entries {
		if e.UserID != "u1" {
			t.Errorf("audit user = %q, want u1", e.UserID)
		}
	}
}

func TestMethodRouting(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPut, "/events/abc", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT /events/{id}: status %d, want 405", rec.Code)
	}
}
