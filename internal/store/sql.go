package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"eventmerge/internal/model"
)

// Shared schema for the SQL backends. All columns are TEXT: timestamps are
// stored as RFC 3339 strings and list-valued fields as JSON, so the same DDL
// and scan code works for both SQLite and Postgres.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	start_time  TEXT NOT NULL,
	end_time    TEXT NOT NULL,
	merged_from TEXT NOT NULL DEFAULT '[]',
	summary     TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS event_invitees (
	event_id TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	PRIMARY KEY (event_id, user_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	user_id     TEXT,
	action      TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}',
	description TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_time ON events (start_time, end_time);
CREATE INDEX IF NOT EXISTS idx_invitees_user ON event_invitees (user_id);
`

// sqlStore implements Store on top of database/sql. The placeholder style
// differs between backends, so queries are written with ? and passed through
// rebind before execution.
type sqlStore struct {
	db     *sql.DB
	rebind func(string) string

	mu     sync.RWMutex
	closed bool
}

func newSQLStore(db *sql.DB, rebind func(string) string) (*sqlStore, error) {
	for _, stmt := range splitStatements(schema) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &sqlStore{db: db, rebind: rebind}, nil
}

// splitStatements breaks the schema into single statements; some drivers
// reject multi-statement Exec.
func splitStatements(ddl string) []string {
	var stmts []string
	for _, s := range strings.Split(ddl, ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// passthrough keeps ? placeholders (SQLite).
func passthrough(query string) string { return query }

// rebindDollar rewrites ? placeholders to $1, $2, ... (Postgres).
func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateUser implements Store.
func (s *sqlStore) CreateUser(ctx context.Context, user model.User) error {
	if err := s.guard(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO users (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), user.ID, user.Name, encodeTime(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicateID
	}
	return nil
}

// UserExists implements Store.
func (s *sqlStore) UserExists(ctx context.Context, userID string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	return s.userExists(ctx, s.db, userID)
}

func (s *sqlStore) userExists(ctx context.Context, q execer, userID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM users WHERE id = ?`), userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup user: %w", err)
	}
	return true, nil
}

// ListUserIDs implements Store.
func (s *sqlStore) ListUserIDs(ctx context.Context) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateEvent implements Store.
func (s *sqlStore) CreateEvent(ctx context.Context, ev model.Event) error {
	if err := s.guard(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := s.insertEvent(ctx, tx, ev); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) insertEvent(ctx context.Context, q execer, ev model.Event) error {
	if err := s.checkInvitees(ctx, q, ev.Invitees); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, s.rebind(`
		INSERT INTO events (id, title, description, status, start_time, end_time,
			merged_from, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), ev.ID, ev.Title, ev.Description, string(ev.Status),
		encodeTime(ev.StartTime), encodeTime(ev.EndTime),
		encodeList(ev.MergedFrom), ev.Summary,
		encodeTime(ev.CreatedAt), encodeTime(ev.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicateID
	}
	return s.insertInvitees(ctx, q, ev.ID, ev.Invitees)
}

func (s *sqlStore) insertInvitees(ctx context.Context, q execer, eventID string, invitees []string) error {
	for _, userID := range invitees {
		_, err := q.ExecContext(ctx, s.rebind(`
			INSERT INTO event_invitees (event_id, user_id)
			VALUES (?, ?)
			ON CONFLICT (event_id, user_id) DO NOTHING
		`), eventID, userID)
		if err != nil {
			return fmt.Errorf("insert invitee: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) checkInvitees(ctx context.Context, q execer, invitees []string) error {
	for _, userID := range invitees {
		ok, err := s.userExists(ctx, q, userID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidInvitee
		}
	}
	return nil
}

const eventColumns = `id, title, description, status, start_time, end_time,
	merged_from, summary, created_at, updated_at`

func (s *sqlStore) scanEvent(row interface{ Scan(...any) error }) (model.Event, error) {
	var (
		ev                             model.Event
		status                         string
		start, end, created, updated   string
		mergedFrom                     string
	)
	err := row.Scan(&ev.ID, &ev.Title, &ev.Description, &status, &start, &end,
		&mergedFrom, &ev.Summary, &created, &updated)
	if err != nil {
		return model.Event{}, err
	}
	ev.Status = model.Status(status)
	if ev.StartTime, err = decodeTime(start); err != nil {
		return model.Event{}, err
	}
	if ev.EndTime, err = decodeTime(end); err != nil {
		return model.Event{}, err
	}
	if ev.CreatedAt, err = decodeTime(created); err != nil {
		return model.Event{}, err
	}
	if ev.UpdatedAt, err = decodeTime(updated); err != nil {
		return model.Event{}, err
	}
	if ev.MergedFrom, err = decodeList(mergedFrom); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// GetEvent implements Store.
func (s *sqlStore) GetEvent(ctx context.Context, id string) (model.Event, error) {
	if err := s.guard(); err != nil {
		return model.Event{}, err
	}
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+eventColumns+` FROM events WHERE id = ?`), id)
	ev, err := s.scanEvent(row)
	if err == sql.ErrNoRows {
		return model.Event{}, ErrEventNotFound
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("load event: %w", err)
	}
	if ev.Invitees, err = s.loadInvitees(ctx, ev.ID); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// GetEvents implements Store.
func (s *sqlStore) GetEvents(ctx context.Context, ids []string) ([]model.Event, error) {
	events := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		ev, err := s.GetEvent(ctx, id)
		if err == ErrEventNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *sqlStore) loadInvitees(ctx context.Context, eventID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT user_id FROM event_invitees WHERE event_id = ? ORDER BY user_id
	`), eventID)
	if err != nil {
		return nil, fmt.Errorf("load invitees: %w", err)
	}
	defer rows.Close()

	var invitees []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan invitee: %w", err)
		}
		invitees = append(invitees, userID)
	}
	return invitees, rows.Err()
}

// UpdateEvent implements Store.
func (s *sqlStore) UpdateEvent(ctx context.Context, ev model.Event) error {
	if err := s.guard(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.checkInvitees(ctx, tx, ev.Invitees); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE events
		SET title = ?, description = ?, status = ?, start_time = ?, end_time = ?,
			merged_from = ?, summary = ?, updated_at = ?
		WHERE id = ?
	`), ev.Title, ev.Description, string(ev.Status),
		encodeTime(ev.StartTime), encodeTime(ev.EndTime),
		encodeList(ev.MergedFrom), ev.Summary, encodeTime(ev.UpdatedAt), ev.ID)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEventNotFound
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM event_invitees WHERE event_id = ?`), ev.ID); err != nil {
		return fmt.Errorf("clear invitees: %w", err)
	}
	if err := s.insertInvitees(ctx, tx, ev.ID, ev.Invitees); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteEvent implements Store.
func (s *sqlStore) DeleteEvent(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM events WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEventNotFound
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM event_invitees WHERE event_id = ?`), id); err != nil {
		return fmt.Errorf("delete invitees: %w", err)
	}
	return nil
}

// EventsByUser implements Store.
func (s *sqlStore) EventsByUser(ctx context.Context, userID string) ([]model.Event, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	ok, err := s.userExists(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotFound
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+eventColumns+`
		FROM events
		WHERE id IN (SELECT event_id FROM event_invitees WHERE user_id = ?)
		ORDER BY id
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("events by user: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := s.scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range events {
		if events[i].Invitees, err = s.loadInvitees(ctx, events[i].ID); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// UpdateSummary implements Store.
func (s *sqlStore) UpdateSummary(ctx context.Context, eventID, summary string) error {
	if err := s.guard(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE events SET summary = ?, updated_at = ? WHERE id = ?
	`), summary, encodeTime(time.Now().UTC()), eventID)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEventNotFound
	}
	return nil
}

// AppendAudit implements Store.
func (s *sqlStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.appendAudit(ctx, s.db, entry)
}

func (s *sqlStore) appendAudit(ctx context.Context, q execer, entry model.AuditEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	var userID any
	if entry.UserID != "" {
		userID = entry.UserID
	}
	_, err = q.ExecContext(ctx, s.rebind(`
		INSERT INTO audit_log (id, user_id, action, metadata, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), entry.ID, userID, string(entry.Action), string(metadata),
		entry.Description, encodeTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// Begin implements Store.
func (s *sqlStore) Begin(ctx context.Context) (Tx, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &sqlTx{store: s, tx: tx}, nil
}

// Close implements Store.
func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// sqlTx wraps a database transaction for merge group replacement.
type sqlTx struct {
	store *sqlStore
	tx    *sql.Tx
}

// InsertEvent implements Tx.
func (t *sqlTx) InsertEvent(ctx context.Context, ev model.Event) error {
	return t.store.insertEvent(ctx, t.tx, ev)
}

// DeleteEvents implements Tx.
func (t *sqlTx) DeleteEvents(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := t.tx.ExecContext(ctx, t.store.rebind(
			`DELETE FROM events WHERE id = ?`), id); err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		if _, err := t.tx.ExecContext(ctx, t.store.rebind(
			`DELETE FROM event_invitees WHERE event_id = ?`), id); err != nil {
			return fmt.Errorf("delete invitees: %w", err)
		}
	}
	return nil
}

// AppendAudit implements Tx.
func (t *sqlTx) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	return t.store.appendAudit(ctx, t.tx, entry)
}

// Commit implements Tx.
func (t *sqlTx) Commit() error { return t.tx.Commit() }

// Rollback implements Tx.
func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return err
	}
	return nil
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode time %q: %w", s, err)
	}
	return t, nil
}

func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func decodeList(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, fmt.Errorf("decode list %q: %w", s, err)
	}
	return list, nil
}
