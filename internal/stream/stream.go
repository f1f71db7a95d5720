// Package stream delivers classified events to live viewers. Each viewer
// owns a dispatcher run: a cursor over the event log polled once a second,
// with heartbeats while no round is active.
package stream

import (
	"context"
	"log"
	"time"

	"github.com/strikelab/impact.report/internal/classify"
	"github.com/strikelab/impact.report/internal/db"
	"github.com/strikelab/impact.report/internal/round"
)

// DefaultTick is the poll period of the dispatcher loop.
const DefaultTick = time.Second

// Heartbeat is the frame sent while no round is active so the viewer knows
// the connection is alive.
type Heartbeat struct {
	Heartbeat bool `json:"heartbeat"`
}

// EventFrame is the viewer-facing projection of a stored event, shaped the
// way the dashboard consumes it.
type EventFrame struct {
	Timestamp   string                     `json:"timestamp"`
	ReedValue   int                        `json:"reed_value"`
	Event       string                     `json:"event"`
	Forces      [classify.Positions]int    `json:"forces"`
	MaxForce    string                     `json:"max_force"`
	SensorLabel [classify.Positions]string `json:"sensor_label"`
}

// Sink receives frames for one viewer. A Send error ends that viewer's
// dispatcher run and nothing else.
type Sink interface {
	Send(v any) error
}

// Dispatcher polls the event log on behalf of connected viewers.
type Dispatcher struct {
	DB     *db.DB
	Rounds *round.Lifecycle
	// Tick overrides the poll period; zero means DefaultTick.
	Tick time.Duration
}

// Run streams to one viewer until ctx is cancelled or the sink fails.
//
// The cursor starts at zero, so a reconnecting viewer re-receives the
// active round's full history; that trade-off is accepted for the sake of
// a stateless connection. When the active round changes between ticks the
// cursor resets, because seqs are round-scoped and carrying a cursor from
// the previous round would silently skip the new round's head.
func (d *Dispatcher) Run(ctx context.Context, sink Sink) error {
	tick := d.Tick
	if tick == 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var cursor, cursorRound int64
	for {
		if roundID, cfg, active := d.Rounds.Active(); active {
			if roundID != cursorRound {
				cursor = 0
				cursorRound = roundID
			}
			events, err := d.DB.EventsAfter(roundID, cursor)
			if err != nil {
				// Transient storage errors skip a tick, they don't
				// end the viewer.
				log.Printf("stream query failed for round %d: %v", roundID, err)
			}
			for _, ev := range events {
				if err := sink.Send(frameFor(ev, cfg.Labels)); err != nil {
					return err
				}
				cursor = ev.Seq
			}
		} else {
			if err := sink.Send(Heartbeat{Heartbeat: true}); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func frameFor(ev db.Event, labels [classify.Positions]string) EventFrame {
	return EventFrame{
		Timestamp:   ev.Timestamp.Format(db.TimeLayout),
		ReedValue:   ev.Reed,
		Event:       ev.Label,
		Forces:      ev.Forces,
		MaxForce:    ev.MaxForce,
		SensorLabel: labels,
	}
}
