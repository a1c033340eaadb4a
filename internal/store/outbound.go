package store

import (
	"database/sql"
	"errors"
	"time"
)

// RecordOutbound logs the outcome of one outbound envelope.
func (db *DB) RecordOutbound(e *OutboundEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := db.Exec(`
		INSERT INTO outbound_log (envelope_key, type, outcome, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.Key, e.Type, e.Outcome, e.Reason, e.CreatedAt.UnixMilli())
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

// RecentOutbound returns the newest entries first.
func (db *DB) RecentOutbound(limit int) ([]OutboundEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, envelope_key, type, outcome, reason, created_at
		FROM outbound_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboundEntry
	for rows.Next() {
		e, err := scanOutbound(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// OutboundByKey returns the latest entry for an envelope key, or nil.
func (db *DB) OutboundByKey(key string) (*OutboundEntry, error) {
	row := db.QueryRow(`
		SELECT id, envelope_key, type, outcome, reason, created_at
		FROM outbound_log WHERE envelope_key = ?
		ORDER BY id DESC LIMIT 1`, key)
	e, err := scanOutbound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutbound(s scanner) (*OutboundEntry, error) {
	var (
		e       OutboundEntry
		created int64
	)
	if err := s.Scan(&e.ID, &e.Key, &e.Type, &e.Outcome, &e.Reason, &created); err != nil {
		return nil, err
	}
	e.CreatedAt = time.UnixMilli(created)
	return &e, nil
}
