package store

import (
	"database/sql"
	"errors"
	"time"
)

// Keys used in sync_state.
const (
	StateLastOpenAt  = "last_open_at"
	StateLastSubject = "last_subject"
)

// SetState writes a checkpoint value.
func (db *DB) SetState(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// GetState reads a checkpoint value. A missing key yields "" and no error.
func (db *DB) GetState(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
