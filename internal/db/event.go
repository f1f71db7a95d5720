package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/strikelab/impact.report/internal/classify"
)

// Event is one persisted impact reading. Rows are append-only: the core
// never mutates or deletes them (round deletion is a history-management
// operation). Seq is strictly increasing and gap-free within a round;
// dropped readings never consume a seq.
type Event struct {
	RoundID   int64                   `json:"round_id"`
	Seq       int64                   `json:"seq"`
	Timestamp time.Time               `json:"timestamp"`
	Reed      int                     `json:"reed_value"`
	Label     string                  `json:"event"`
	Forces    [classify.Positions]int `json:"forces"`
	MaxForce  string                  `json:"max_force"`
}

// AppendEvent persists a classified event under the round and returns the
// assigned seq. Seq assignment and insert run in one transaction; callers
// serialize appends per round (the round lifecycle holds its lock across
// this call), which is what makes the sequence gap-free.
func (db *DB) AppendEvent(roundID int64, ev classify.Event) (int64, error) {
	forces, err := json.Marshal(ev.Forces)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal forces: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRow(
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM sensor_event WHERE round_id = ?",
		roundID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to assign seq: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO sensor_event (
			round_id, seq, timestamp, reed_value, event, forces, max_force
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		roundID, seq, formatTime(ev.Timestamp), ev.Reed, ev.Label,
		string(forces), ev.MaxForceLabel(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit append: %w", err)
	}
	return seq, nil
}

// EventsAfter returns the round's events with seq > afterSeq in ascending
// seq order. This is the stream dispatcher's cursor query and is safe to
// call concurrently with AppendEvent.
func (db *DB) EventsAfter(roundID, afterSeq int64) ([]Event, error) {
	rows, err := db.Query(
		`SELECT round_id, seq, timestamp, reed_value, event, forces, max_force
		FROM sensor_event
		WHERE round_id = ? AND seq > ?
		ORDER BY seq ASC`,
		roundID, afterSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

// RoundEvents returns all of a round's events, newest first, for the
// history details view.
func (db *DB) RoundEvents(roundID int64) ([]Event, error) {
	rows, err := db.Query(
		`SELECT round_id, seq, timestamp, reed_value, event, forces, max_force
		FROM sensor_event
		WHERE round_id = ?
		ORDER BY seq DESC`,
		roundID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query round events: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev        Event
			timestamp string
			reed      sql.NullInt64
			forces    string
		)
		if err := rows.Scan(
			&ev.RoundID, &ev.Seq, &timestamp, &reed, &ev.Label,
			&forces, &ev.MaxForce,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ts, err := parseTime(timestamp)
		if err != nil {
			return nil, err
		}
		ev.Timestamp = ts
		if reed.Valid {
			ev.Reed = int(reed.Int64)
		}
		if err := json.Unmarshal([]byte(forces), &ev.Forces); err != nil {
			return nil, fmt.Errorf("failed to unmarshal forces: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
