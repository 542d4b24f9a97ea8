package store

import (
	"context"
	"sort"
	"sync"

	"eventmerge/internal/model"
)

// MemoryStore is an in-memory store for testing and local development.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]model.User
	events map[string]model.Event
	audit  []model.AuditEntry
	closed bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]model.User),
		events: make(map[string]model.Event),
	}
}

// CreateUser implements Store.
func (m *MemoryStore) CreateUser(_ context.Context, user model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.users[user.ID]; ok {
		return ErrDuplicateID
	}
	m.users[user.ID] = user
	return nil
}

// UserExists implements Store.
func (m *MemoryStore) UserExists(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrStoreClosed
	}
	_, ok := m.users[userID]
	return ok, nil
}

// ListUserIDs implements Store.
func (m *MemoryStore) ListUserIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// CreateEvent implements Store.
func (m *MemoryStore) CreateEvent(_ context.Context, ev model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.events[ev.ID]; ok {
		return ErrDuplicateID
	}
	if err := m.checkInviteesLocked(ev.Invitees); err != nil {
		return err
	}
	m.events[ev.ID] = cloneEvent(ev)
	return nil
}

// GetEvent implements Store.
func (m *MemoryStore) GetEvent(_ context.Context, id string) (model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return model.Event{}, ErrStoreClosed
	}
	ev, ok := m.events[id]
	if !ok {
		return model.Event{}, ErrEventNotFound
	}
	return cloneEvent(ev), nil
}

// GetEvents implements Store.
func (m *MemoryStore) GetEvents(_ context.Context, ids []string) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	events := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := m.events[id]; ok {
			events = append(events, cloneEvent(ev))
		}
	}
	return events, nil
}

// UpdateEvent implements Store.
func (m *MemoryStore) UpdateEvent(_ context.Context, ev model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.events[ev.ID]; !ok {
		return ErrEventNotFound
	}
	if err := m.checkInviteesLocked(ev.Invitees); err != nil {
		return err
	}
	m.events[ev.ID] = cloneEvent(ev)
	return nil
}

// DeleteEvent implements Store.
func (m *MemoryStore) DeleteEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.events[id]; !ok {
		return ErrEventNotFound
	}
	delete(m.events, id)
	return nil
}

// EventsByUser implements Store.
func (m *MemoryStore) EventsByUser(_ context.Context, userID string) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	if _, ok := m.users[userID]; !ok {
		return nil, ErrUserNotFound
	}

	var events []model.Event
	for _, ev := range m.events {
		for _, inv := range ev.Invitees {
			if inv == userID {
				events = append(events, cloneEvent(ev))
				break
			}
		}
	}
	// Map iteration order is random; return something stable.
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}

// UpdateSummary implements Store.
func (m *MemoryStore) UpdateSummary(_ context.Context, eventID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	ev, ok := m.events[eventID]
	if !ok {
		return ErrEventNotFound
	}
	ev.Summary = summary
	m.events[eventID] = ev
	return nil
}

// AppendAudit implements Store.
func (m *MemoryStore) AppendAudit(_ context.Context, entry model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.audit = append(m.audit, entry)
	return nil
}

// AuditEntries returns a snapshot of all audit entries, oldest first.
// Intended for tests and debugging.
func (m *MemoryStore) AuditEntries() []model.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

// Begin implements Store. The memory transaction stages operations and
// applies them under one lock acquisition on Commit.
func (m *MemoryStore) Begin(_ context.Context) (Tx, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrStoreClosed
	}
	return &memoryTx{store: m}, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) checkInviteesLocked(invitees []string) error {
	for _, id := range invitees {
		if _, ok := m.users[id]; !ok {
			return ErrInvalidInvitee
		}
	}
	return nil
}

func cloneEvent(ev model.Event) model.Event {
	out := ev
	out.Invitees = append([]string(nil), ev.Invitees...)
	out.MergedFrom = append([]string(nil), ev.MergedFrom...)
	return out
}

// memoryTx stages inserts, deletes, and audit appends until Commit.
type memoryTx struct {
	store    *MemoryStore
	inserts  []model.Event
	deletes  []string
	audit    []model.AuditEntry
	finished bool
}

// InsertEvent implements Tx.
func (tx *memoryTx) InsertEvent(_ context.Context, ev model.Event) error {
	if tx.finished {
		return ErrStoreClosed
	}
	tx.store.mu.RLock()
	err := tx.store.checkInviteesLocked(ev.Invitees)
	tx.store.mu.RUnlock()
	if err != nil {
		return err
	}
	tx.inserts = append(tx.inserts, cloneEvent(ev))
	return nil
}

// DeleteEvents implements Tx.
func (tx *memoryTx) DeleteEvents(_ context.Context, ids []string) error {
	if tx.finished {
		return ErrStoreClosed
	}
	tx.deletes = append(tx.deletes, ids...)
	return nil
}

// AppendAudit implements Tx.
func (tx *memoryTx) AppendAudit(_ context.Context, entry model.AuditEntry) error {
	if tx.finished {
		return ErrStoreClosed
	}
	tx.audit = append(tx.audit, entry)
	return nil
}

// Commit implements Tx.
func (tx *memoryTx) Commit() error {
	if tx.finished {
		return ErrStoreClosed
	}
	tx.finished = true

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	if tx.store.closed {
		return ErrStoreClosed
	}
	for _, ev := range tx.inserts {
		tx.store.events[ev.ID] = ev
	}
	for _, id := range tx.deletes {
		delete(tx.store.events, id)
	}
	tx.store.audit = append(tx.store.audit, tx.audit...)
	return nil
}

// Rollback implements Tx.
func (tx *memoryTx) Rollback() error {
	tx.finished = true
	tx.inserts = nil
	tx.deletes = nil
	tx.audit = nil
	return nil
}
