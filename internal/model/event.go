// Package model defines the domain types shared across the service:
// events, users, and audit entries.
package model

import (
	"errors"
	"sort"
	"time"
)

// Status is the lifecycle state of an event.
type Status string

// Valid event statuses.
const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCanceled   Status = "CANCELED"
)

// Valid returns true if s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// ErrInvalidInterval indicates an event whose start time is not strictly
// before its end time.
var ErrInvalidInterval = errors.New("event start time must be before end time")

// ErrInvalidStatus indicates an unknown event status value.
var ErrInvalidStatus = errors.New("invalid event status")

// Event is a titled time interval belonging to its invitees.
//
// MergedFrom is empty unless the event was produced by a merge, in which
// case it holds the ordered IDs of the replaced events. Summary is populated
// asynchronously after a merge and is empty until then.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Invitees    []string  `json:"invitees,omitempty"`
	MergedFrom  []string  `json:"mergedFrom,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks the event's interval and status.
func (e Event) Validate() error {
	if !e.StartTime.Before(e.EndTime) {
		return ErrInvalidInterval
	}
	if !e.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// Overlaps reports whether two events overlap in time.
// Intervals are half-open: events that merely touch at a boundary
// (a.EndTime == b.StartTime) do not overlap.
func (e Event) Overlaps(other Event) bool {
	return e.StartTime.Before(other.EndTime) && other.StartTime.Before(e.EndTime)
}

// SortByStart orders events by start time ascending, breaking ties by ID so
// the order is deterministic for events sharing a start time.
func SortByStart(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].StartTime.Equal(events[j].StartTime) {
			return events[i].ID < events[j].ID
		}
		return events[i].StartTime.Before(events[j].StartTime)
	})
}

// User is a participant that events can be assigned to via invitees.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
