package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/strikelab/impact.report/internal/classify"
)

// setupTestDB opens a fresh database in a per-test temp directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "impact_test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestRound persists a round with the default mapping and returns it.
func createTestRound(t *testing.T, db *DB, name string) *Round {
	t.Helper()
	r := &Round{
		TrainingName: name,
		DeviceID:     "64E833ACC838652B",
		Channels:     [classify.Positions]string{"A0", "A1", "A3", "A4"},
		Labels:       [classify.Positions]string{"Head", "Body", "Torso", "Leg"},
		Bands: [classify.Bands]classify.Band{
			{Min: 100, Max: 199},
			{Min: 200, Max: 299},
			{Min: 300, Max: 399},
		},
		StartTime: time.Now().Truncate(time.Second),
	}
	if err := db.CreateRound(r); err != nil {
		t.Fatalf("CreateRound failed: %v", err)
	}
	return r
}

// testEvent returns a classified event ready to append.
func testEvent(label string, max int, band int) classify.Event {
	return classify.Event{
		Timestamp: time.Now().Truncate(time.Second),
		Label:     label,
		Forces:    [classify.Positions]int{max, 0, 0, 0},
		MaxForce:  max,
		Band:      band,
	}
}
