package model

import "time"

// AuditAction identifies the kind of state-changing operation recorded in
// an audit entry.
type AuditAction string

// Audit actions.
const (
	AuditEventCreated AuditAction = "EVENT_CREATED"
	AuditEventUpdated AuditAction = "EVENT_UPDATED"
	AuditEventDeleted AuditAction = "EVENT_DELETED"
	AuditEventsMerged AuditAction = "EVENTS_MERGED"
	AuditBatchInsert  AuditAction = "BATCH_INSERT"
)

// AuditEntry is an immutable record of one state-changing operation.
// Entries are append-only and never mutated or deleted.
type AuditEntry struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId,omitempty"`
	Action      AuditAction    `json:"action"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}
