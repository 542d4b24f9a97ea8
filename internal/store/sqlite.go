package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// NewSQLite opens a SQLite-backed store.
// The path should be a file path (e.g. "./eventmerge.db") or ":memory:" for
// testing. Suitable for single-process production use.
func NewSQLite(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL improves concurrent read performance; foreign keys are enforced in
	// code, not the schema, so no pragma for them.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return newSQLStore(db, passthrough)
}
