package ingest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/strikelab/impact.report/internal/classify"
	"github.com/strikelab/impact.report/internal/db"
	"github.com/strikelab/impact.report/internal/metrics"
	"github.com/strikelab/impact.report/internal/presence"
	"github.com/strikelab/impact.report/internal/round"
)

func setupPipeline(t *testing.T) (*Pipeline, *round.Lifecycle, *db.DB) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "ingest_test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	rounds := round.NewLifecycle(database)
	p := &Pipeline{
		Presence: presence.NewTracker(),
		Rounds:   rounds,
		Metrics:  metrics.New(),
	}
	return p, rounds, database
}

func startTestRound(t *testing.T, rounds *round.Lifecycle) int64 {
	t.Helper()
	id, err := rounds.Start(&db.Round{
		TrainingName: "Pipeline test",
		DeviceID:     "glove-1",
		Channels:     [classify.Positions]string{"A0", "A1", "", ""},
		Labels:       [classify.Positions]string{"Head", "Body", "Torso", "Leg"},
		Bands: [classify.Bands]classify.Band{
			{Min: 100, Max: 199},
			{Min: 200, Max: 299},
			{Min: 300, Max: 399},
		},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return id
}

func TestHandleRecordsAcceptedEvent(t *testing.T) {
	p, rounds, database := setupPipeline(t)
	id := startTestRound(t, rounds)

	p.Handle("glove-1", []byte(`{"reed":0,"critical":false,"forces":{"A0":150,"A1":250}}`))

	events, err := database.EventsAfter(id, 0)
	if err != nil {
		t.Fatalf("EventsAfter failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Label != "Body" {
		t.Errorf("label = %q, want Body", events[0].Label)
	}
	if got := testutil.ToFloat64(p.Metrics.EventsAccepted); got != 1 {
		t.Errorf("accepted counter = %v, want 1", got)
	}
}

func TestHandleTouchesPresenceUnconditionally(t *testing.T) {
	p, _, _ := setupPipeline(t)

	// No active round, wrong device, even malformed payload: the device
	// still shows up as online.
	p.Handle("stray-device", []byte(`{not json`))

	online := p.Presence.Online(time.Now())
	if len(online) != 1 || online[0].DeviceID != "stray-device" {
		t.Errorf("online = %v, want stray-device present", online)
	}
	if got := testutil.ToFloat64(p.Metrics.MalformedPayloads); got != 1 {
		t.Errorf("malformed counter = %v, want 1", got)
	}
}

func TestHandleDropsWithoutActiveRound(t *testing.T) {
	p, _, _ := setupPipeline(t)

	p.Handle("glove-1", []byte(`{"forces":{"A0":150}}`))

	got := testutil.ToFloat64(p.Metrics.EventsDropped.WithLabelValues("no_active_round"))
	if got != 1 {
		t.Errorf("no_active_round drops = %v, want 1", got)
	}
}

func TestHandleDropsDeviceMismatch(t *testing.T) {
	p, rounds, database := setupPipeline(t)
	id := startTestRound(t, rounds)

	p.Handle("other-glove", []byte(`{"forces":{"A0":150}}`))

	events, err := database.EventsAfter(id, 0)
	if err != nil {
		t.Fatalf("EventsAfter failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("mismatched device recorded %d events, want 0", len(events))
	}
	got := testutil.ToFloat64(p.Metrics.EventsDropped.WithLabelValues("device_mismatch"))
	if got != 1 {
		t.Errorf("device_mismatch drops = %v, want 1", got)
	}
}

func TestHandleDropsOutOfRangeWithoutConsumingSeq(t *testing.T) {
	p, rounds, database := setupPipeline(t)
	id := startTestRound(t, rounds)

	p.Handle("glove-1", []byte(`{"forces":{"A0":500}}`))
	p.Handle("glove-1", []byte(`{"forces":{"A0":150}}`))

	events, err := database.EventsAfter(id, 0)
	if err != nil {
		t.Fatalf("EventsAfter failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Seq != 1 {
		t.Errorf("accepted event seq = %d, want 1 (drops must not consume a seq)", events[0].Seq)
	}
	got := testutil.ToFloat64(p.Metrics.EventsDropped.WithLabelValues("out_of_range"))
	if got != 1 {
		t.Errorf("out_of_range drops = %v, want 1", got)
	}
}

func TestHandleAfterStopDropsEvent(t *testing.T) {
	p, rounds, database := setupPipeline(t)
	id := startTestRound(t, rounds)

	if err := rounds.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	p.Handle("glove-1", []byte(`{"forces":{"A0":150}}`))

	events, err := database.EventsAfter(id, 0)
	if err != nil {
		t.Fatalf("EventsAfter failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("stopped round recorded %d events, want 0", len(events))
	}
}

func TestDeviceFromTopic(t *testing.T) {
	cases := []struct {
		topic   string
		want    string
		wantErr bool
	}{
		{"espboxing/sensors/64E833ACC838652B", "64E833ACC838652B", false},
		{"espboxing/sensors/glove-1", "glove-1", false},
		{"espboxing/sensors/", "", true},
		{"espboxing/sensors", "", true},
	}
	for _, tc := range cases {
		got, err := deviceFromTopic(tc.topic)
		if tc.wantErr {
			if err == nil {
				t.Errorf("deviceFromTopic(%q) = %q, want error", tc.topic, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("deviceFromTopic(%q) failed: %v", tc.topic, err)
			continue
		}
		if got != tc.want {
			t.Errorf("deviceFromTopic(%q) = %q, want %q", tc.topic, got, tc.want)
		}
	}
}
