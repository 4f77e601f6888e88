// Package cache is the local conversation store. It mirrors server state so
// conversation screens render instantly from disk while the realtime channel
// keeps the mirror fresh, and it tracks which cached queries have been
// invalidated and await a refetch.
package cache

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultPageSize is the page length used when callers pass size <= 0.
const DefaultPageSize = 50

// DB wraps the SQLite connection for the session-owned cache.db.
type DB struct {
	*sql.DB
}

// Open creates a SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}
	return &DB{db}, nil
}
