// Package db is the SQLite persistence layer: training rounds, the
// append-only impact event log, and the operator settings table.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// TimeLayout is how the dashboard and the event log format timestamps.
const TimeLayout = "2006-01-02 15:04:05"

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the SQLite database at path, ensures the
// schema exists and seeds default settings for any missing config keys.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Appends and stream queries share one SQLite file; a single
	// connection keeps them from ever seeing SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	_, err = sqlDB.Exec(`
		CREATE TABLE IF NOT EXISTS config (
			key                TEXT PRIMARY KEY,
			value              TEXT
		);
		CREATE TABLE IF NOT EXISTS training_round (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			training_name      TEXT,
			device_id          TEXT,
			map_force_position TEXT,
			sensor_labels      TEXT,
			bands              TEXT,
			custom_fields      TEXT,
			start_time         TEXT,
			stop_time          TEXT
		);
		CREATE TABLE IF NOT EXISTS sensor_event (
			round_id           INTEGER NOT NULL,
			seq                INTEGER NOT NULL,
			timestamp          TEXT NOT NULL,
			reed_value         INTEGER,
			event              TEXT,
			forces             TEXT,
			max_force          TEXT,
			PRIMARY KEY (round_id, seq),
			FOREIGN KEY(round_id) REFERENCES training_round(id)
		);
	`)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	db := &DB{sqlDB}
	if err := db.seedDefaultSettings(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to seed default settings: %w", err)
	}
	return db, nil
}

func formatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
