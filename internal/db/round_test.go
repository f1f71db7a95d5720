package db

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestCreateAndGetRound(t *testing.T) {
	db := setupTestDB(t)

	r := createTestRound(t, db, "Sparring session")
	if r.ID == 0 {
		t.Fatal("expected round ID to be set after creation")
	}

	got, err := db.GetRound(r.ID)
	if err != nil {
		t.Fatalf("GetRound failed: %v", err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("round mismatch (-want +got):\n%s", diff)
	}
	if got.StopTime != nil {
		t.Errorf("fresh round has stop time %v, want nil", got.StopTime)
	}
}

func TestGetRoundNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetRound(4242)
	if !errors.Is(err, ErrRoundNotFound) {
		t.Errorf("GetRound error = %v, want ErrRoundNotFound", err)
	}
}

func TestStopRound(t *testing.T) {
	db := setupTestDB(t)
	r := createTestRound(t, db, "Sparring session")

	stop := time.Now().Truncate(time.Second)
	if err := db.StopRound(r.ID, stop); err != nil {
		t.Fatalf("StopRound failed: %v", err)
	}

	got, err := db.GetRound(r.ID)
	if err != nil {
		t.Fatalf("GetRound failed: %v", err)
	}
	if got.StopTime == nil {
		t.Fatal("expected stop time to be set")
	}
	if !got.StopTime.Equal(stop) {
		t.Errorf("stop time = %v, want %v", got.StopTime, stop)
	}

	if err := db.StopRound(9999, stop); !errors.Is(err, ErrRoundNotFound) {
		t.Errorf("StopRound on missing round = %v, want ErrRoundNotFound", err)
	}
}

func TestRoundCustomFieldsRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	r := createTestRound(t, db, "With fields")
	r.CustomFields = map[string]string{"coach": "Anan", "gym": "Lumpinee"}

	r2 := &Round{
		TrainingName: r.TrainingName,
		DeviceID:     r.DeviceID,
		Channels:     r.Channels,
		Labels:       r.Labels,
		Bands:        r.Bands,
		CustomFields: r.CustomFields,
		StartTime:    r.StartTime,
	}
	if err := db.CreateRound(r2); err != nil {
		t.Fatalf("CreateRound failed: %v", err)
	}

	got, err := db.GetRound(r2.ID)
	if err != nil {
		t.Fatalf("GetRound failed: %v", err)
	}
	if diff := cmp.Diff(r.CustomFields, got.CustomFields); diff != "" {
		t.Errorf("custom fields mismatch (-want +got):\n%s", diff)
	}
}

func TestListRoundsFilterAndSort(t *testing.T) {
	db := setupTestDB(t)

	a := createTestRound(t, db, "Morning drills")
	b := createTestRound(t, db, "Evening sparring")
	_ = createTestRound(t, db, "Conditioning")

	rounds, err := db.ListRounds(RoundFilter{TrainingName: "sparring"})
	if err != nil {
		t.Fatalf("ListRounds failed: %v", err)
	}
	if len(rounds) != 1 || rounds[0].ID != b.ID {
		t.Errorf("filtered rounds = %v, want only %d", rounds, b.ID)
	}

	rounds, err = db.ListRounds(RoundFilter{SortBy: "id", SortOrder: "asc"})
	if err != nil {
		t.Fatalf("ListRounds failed: %v", err)
	}
	if len(rounds) != 3 {
		t.Fatalf("got %d rounds, want 3", len(rounds))
	}
	if rounds[0].ID != a.ID {
		t.Errorf("first round = %d, want %d (id asc)", rounds[0].ID, a.ID)
	}
}

func TestListRoundsRejectsUnknownSortColumn(t *testing.T) {
	db := setupTestDB(t)
	createTestRound(t, db, "Session")

	// An unknown column must not reach the SQL; it falls back to the
	// default ordering instead of failing (or worse, interpolating).
	rounds, err := db.ListRounds(RoundFilter{SortBy: "id; DROP TABLE training_round"})
	if err != nil {
		t.Fatalf("ListRounds failed: %v", err)
	}
	if len(rounds) != 1 {
		t.Errorf("got %d rounds, want 1", len(rounds))
	}
}

func TestDeleteRoundRemovesEvents(t *testing.T) {
	db := setupTestDB(t)
	r := createTestRound(t, db, "Doomed session")

	if _, err := db.AppendEvent(r.ID, testEvent("Head", 150, 1)); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	if err := db.DeleteRound(r.ID); err != nil {
		t.Fatalf("DeleteRound failed: %v", err)
	}

	if _, err := db.GetRound(r.ID); !errors.Is(err, ErrRoundNotFound) {
		t.Errorf("GetRound after delete = %v, want ErrRoundNotFound", err)
	}
	events, err := db.EventsAfter(r.ID, 0)
	if err != nil {
		t.Fatalf("EventsAfter failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events after delete, want 0", len(events))
	}

	if err := db.DeleteRound(r.ID); !errors.Is(err, ErrRoundNotFound) {
		t.Errorf("second DeleteRound = %v, want ErrRoundNotFound", err)
	}
}
