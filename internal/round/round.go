// Package round owns the training-round lifecycle: at most one round is
// active process-wide, and the active round's config snapshot is the only
// one the ingestion path ever classifies against.
package round

import (
	"errors"
	"sync"
	"time"

	"github.com/strikelab/impact.report/internal/classify"
	"github.com/strikelab/impact.report/internal/db"
)

var (
	// ErrAlreadyActive is returned by Start while a round is running.
	ErrAlreadyActive = errors.New("a training round is already active")
	// ErrNotActive is returned by Stop and Record when no round is
	// running (or, for Record, when the round has changed).
	ErrNotActive = errors.New("no training round is active")
)

// Lifecycle is the Idle/Active state machine over the round store. All
// transitions and the append re-check share one mutex, so no two Starts
// can both succeed and a Record racing a Stop loses cleanly.
type Lifecycle struct {
	db *db.DB

	mu       sync.Mutex
	active   bool
	activeID int64
	cfg      classify.Config
}

func NewLifecycle(database *db.DB) *Lifecycle {
	return &Lifecycle{db: database}
}

// Start persists a new round and transitions to Active. The caller fills
// the round's name, device id, mapping, labels, bands and custom fields;
// Start stamps the start time and assigns the id.
func (l *Lifecycle) Start(r *db.Round) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active {
		return 0, ErrAlreadyActive
	}

	r.StartTime = time.Now()
	if err := l.db.CreateRound(r); err != nil {
		return 0, err
	}

	l.active = true
	l.activeID = r.ID
	l.cfg = r.Snapshot()
	return r.ID, nil
}

// Stop stamps the active round's stop time and transitions to Idle.
func (l *Lifecycle) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.active {
		return ErrNotActive
	}

	if err := l.db.StopRound(l.activeID, time.Now()); err != nil {
		return err
	}

	l.active = false
	l.activeID = 0
	l.cfg = classify.Config{}
	return nil
}

// Active returns the active round's id and config snapshot. The config is
// returned by value; callers never see lifecycle state mutate under them.
func (l *Lifecycle) Active() (int64, classify.Config, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeID, l.cfg, l.active
}

// Record appends a classified event to roundID, re-checking under the
// lifecycle lock that roundID is still the active round. The earlier
// Active read the classification was based on cannot be trusted here: a
// Stop (or a Stop plus a new Start) may have run in between, and an event
// classified for a finished round must not land in it.
func (l *Lifecycle) Record(roundID int64, ev classify.Event) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.active || l.activeID != roundID {
		return 0, ErrNotActive
	}
	return l.db.AppendEvent(roundID, ev)
}
