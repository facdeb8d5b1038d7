// Package prefs is the local persistent key-value store for per-user UI
// flags (onboarding hints and the like). It is session-local state, not
// part of the shared document store.
package prefs

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection backing the prefs store.
type DB struct {
	*sql.DB
}

// Open creates a SQLite connection with WAL mode and busy timeout set.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open prefs db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping prefs db: %w", err)
	}
	return &DB{db}, nil
}
