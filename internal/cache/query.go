package cache

import (
	"database/sql"
	"errors"
	"time"
)

// Invalidate marks a query key stale. Marking an already-stale key again is
// a no-op beyond refreshing its timestamp.
func (db *DB) Invalidate(key string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO queries (key, stale, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET stale = 1, updated_at = excluded.updated_at`,
		key, now)
	return err
}

// ClearStale records that a query key has been refetched.
func (db *DB) ClearStale(key string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE queries SET stale = 0, updated_at = ? WHERE key = ?`, now, key)
	return err
}

// StaleQueries returns all keys currently marked stale.
func (db *DB) StaleQueries() ([]string, error) {
	rows, err := db.Query(`SELECT key FROM queries WHERE stale = 1 ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// IsStale reports whether a key is marked stale. Unknown keys are fresh.
func (db *DB) IsStale(key string) (bool, error) {
	var stale int
	err := db.QueryRow(`SELECT stale FROM queries WHERE key = ?`, key).Scan(&stale)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stale == 1, nil
}
