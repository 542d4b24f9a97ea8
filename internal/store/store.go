// Package store provides durable storage for events, users, and audit
// entries, with transactional group replacement for merges.
package store

import (
	"context"
	"errors"

	"eventmerge/internal/model"
)

// Store persists events, users, and audit entries.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateUser inserts a user. Overwrites nothing; duplicate IDs error.
	CreateUser(ctx context.Context, user model.User) error

	// UserExists reports whether a user exists.
	UserExists(ctx context.Context, userID string) (bool, error)

	// ListUserIDs returns all user IDs, ordered ascending.
	ListUserIDs(ctx context.Context) ([]string, error)

	// CreateEvent inserts an event and links its invitees.
	// Returns ErrInvalidInvitee if any invitee ID is unknown.
	CreateEvent(ctx context.Context, ev model.Event) error

	// GetEvent retrieves an event by ID.
	// Returns ErrEventNotFound if it doesn't exist.
	GetEvent(ctx context.Context, id string) (model.Event, error)

	// GetEvents retrieves the events with the given IDs.
	// Unknown IDs are skipped, not errors.
	GetEvents(ctx context.Context, ids []string) ([]model.Event, error)

	// UpdateEvent replaces an event's mutable fields and invitee links.
	// Returns ErrEventNotFound if it doesn't exist.
	UpdateEvent(ctx context.Context, ev model.Event) error

	// DeleteEvent removes an event and its invitee links.
	// Returns ErrEventNotFound if it doesn't exist.
	DeleteEvent(ctx context.Context, id string) error

	// EventsByUser returns all events the user is invited to.
	// Returns ErrUserNotFound if the user doesn't exist.
	EventsByUser(ctx context.Context, userID string) ([]model.Event, error)

	// UpdateSummary sets the summary text of an event.
	// Returns ErrEventNotFound if the event doesn't exist.
	UpdateSummary(ctx context.Context, eventID, summary string) error

	// AppendAudit appends an audit entry outside any transaction.
	AppendAudit(ctx context.Context, entry model.AuditEntry) error

	// Begin opens a transaction. The returned Tx must be finished with
	// Commit or Rollback; Rollback after Commit is a no-op.
	Begin(ctx context.Context) (Tx, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Tx is an explicit transaction scope for a merge pass: either every staged
// operation becomes visible on Commit, or none do.
type Tx interface {
	// InsertEvent stages an event insert with its invitee links.
	// Returns ErrInvalidInvitee if any invitee ID is unknown.
	InsertEvent(ctx context.Context, ev model.Event) error

	// DeleteEvents stages removal of the given events.
	DeleteEvents(ctx context.Context, ids []string) error

	// AppendAudit stages an audit entry.
	AppendAudit(ctx context.Context, entry model.AuditEntry) error

	// Commit makes all staged operations visible atomically.
	Commit() error

	// Rollback discards all staged operations.
	Rollback() error
}

// Sentinel errors for store operations.
var (
	// ErrUserNotFound indicates an unknown user ID.
	ErrUserNotFound = errors.New("user not found")

	// ErrEventNotFound indicates an unknown event ID.
	ErrEventNotFound = errors.New("event not found")

	// ErrDuplicateID indicates an insert with an ID that already exists.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrInvalidInvitee indicates an event referencing an unknown user.
	ErrInvalidInvitee = errors.New("invitee references unknown user")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")
)
