package db

import (
	"path/filepath"
	"testing"
)

func TestMigrateUpFromFresh(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "migrate_test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if dirty {
		t.Error("database reported dirty after clean migration")
	}
	if version != 2 {
		t.Errorf("migration version = %d, want 2", version)
	}

	// Up again is a no-op.
	if err := db.MigrateUp(); err != nil {
		t.Errorf("second MigrateUp failed: %v", err)
	}
}

func TestMigrateDownRollsBackOneStep(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "migrate_down_test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}

	version, _, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("migration version after down = %d, want 1", version)
	}
}
