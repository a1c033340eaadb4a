// Package store persists the connection journal in a per-profile SQLite file.
// It records diagnostics only; chat content is never written here.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection behind journal.db.
type DB struct {
	*sql.DB
}

// Open connects with WAL mode and a busy timeout.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	return &DB{db}, nil
}

// Prune deletes journal rows older than cutoff and returns how many went.
func (db *DB) Prune(cutoff time.Time) (int64, error) {
	ms := cutoff.UnixMilli()
	var total int64
	for _, table := range []string{"connection_events", "outbound_log"} {
		res, err := db.Exec(`DELETE FROM `+table+` WHERE created_at < ?`, ms)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
