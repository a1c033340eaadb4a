package store

import (
	"time"
)

// InsertConnectionEvent appends e to the journal. A zero CreatedAt means now.
func (db *DB) InsertConnectionEvent(e *ConnectionEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := db.Exec(`
		INSERT INTO connection_events (kind, from_state, to_state, attempt, delay_ms, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Kind, e.From, e.To, e.Attempt, e.Delay.Milliseconds(), e.Detail, e.CreatedAt.UnixMilli())
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

// RecentConnectionEvents returns the newest events first.
func (db *DB) RecentConnectionEvents(limit int) ([]ConnectionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, kind, from_state, to_state, attempt, delay_ms, detail, created_at
		FROM connection_events
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []ConnectionEvent
	for rows.Next() {
		var (
			e       ConnectionEvent
			delayMS int64
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.From, &e.To, &e.Attempt, &delayMS, &e.Detail, &created); err != nil {
			return nil, err
		}
		e.Delay = time.Duration(delayMS) * time.Millisecond
		e.CreatedAt = time.UnixMilli(created)
		events = append(events, e)
	}
	return events, rows.Err()
}
