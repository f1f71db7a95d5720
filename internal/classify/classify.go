// Package classify turns raw sensor payloads into graded impact events.
//
// The package is pure: no clocks, no I/O, no transport types. Callers pass
// the classification time and the round's config snapshot explicitly so the
// same inputs always produce the same outcome.
package classify

import (
	"fmt"
	"time"
)

// Positions is the number of anatomical targets an operator can map.
const Positions = 4

// Bands is the number of configured intensity ranges.
const Bands = 3

// Fallback labels used when the configured mapping cannot resolve a hit.
const (
	LabelPositionNotFound = "ไม่พบตำแหน่ง"
	LabelCriticalHit      = "Head"
	LabelBodyHit          = "Body"
)

// Band is one inclusive intensity range. Overlapping bands are not
// validated; matching is strictly first-match in band order.
type Band struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Config is the snapshot of operator settings captured at round start.
// Channels holds one channel selector per position; an empty selector means
// the position is unmapped and always resolves to zero.
type Config struct {
	DeviceID string            `json:"device_id"`
	Channels [Positions]string `json:"channels"`
	Labels   [Positions]string `json:"labels"`
	Bands    [Bands]Band       `json:"bands"`
}

// Mapped reports whether any position has a channel selector configured.
func (c Config) Mapped() bool {
	for _, ch := range c.Channels {
		if ch != "" {
			return true
		}
	}
	return false
}

// RawEvent is one decoded broker payload plus the device id from the topic.
// Critical is a pointer because the sender may omit it; an absent flag is
// treated as critical, matching the sensor firmware's contract.
type RawEvent struct {
	DeviceID string         `json:"-"`
	Reed     int            `json:"reed"`
	Critical *bool          `json:"critical"`
	Forces   map[string]int `json:"forces"`
}

// Event is a classified impact reading, before the store assigns a seq.
type Event struct {
	Timestamp time.Time
	Reed      int
	// Label is the display label of the position that took the hit.
	Label string
	// Forces holds the resolved reading per position, zero where unmapped.
	Forces [Positions]int
	// MaxForce is the strongest resolved reading.
	MaxForce int
	// Band is the 1-based matched intensity band, or zero for out of range.
	Band int
}

// MaxForceLabel renders the graded force the way the dashboard and the
// event log record it, e.g. "250 [ ระดับ 2 ]".
func (e Event) MaxForceLabel() string {
	if e.Band == 0 {
		return "Out of range"
	}
	return fmt.Sprintf("%d [ ระดับ %d ]", e.MaxForce, e.Band)
}

// DropReason explains why a classified payload was not recorded.
type DropReason string

const (
	// DropDeviceMismatch: the payload came from a device other than the
	// one the round is configured for.
	DropDeviceMismatch DropReason = "device_mismatch"
	// DropOutOfRange: the max force matched none of the intensity bands.
	DropOutOfRange DropReason = "out_of_range"
)

// Outcome is the explicit result of classifying one payload. Drops are a
// deliberate filter, not errors; an out-of-range outcome still carries the
// fully computed event so drops are observable in tests and metrics.
type Outcome struct {
	Event Event
	Drop  DropReason
}

// Accepted reports whether the event should be recorded.
func (o Outcome) Accepted() bool { return o.Drop == "" }

// Classify grades one raw reading against the round's config snapshot.
//
// Resolution is lenient: an unmapped position or a channel name missing
// from the payload resolves to zero rather than failing the message. A
// non-zero reed reading suppresses position 1's channel, since the reed
// trigger shares that input on the device.
func Classify(raw RawEvent, cfg Config, now time.Time) Outcome {
	if raw.DeviceID != cfg.DeviceID {
		return Outcome{Drop: DropDeviceMismatch}
	}

	ev := Event{Timestamp: now, Reed: raw.Reed}

	if !cfg.Mapped() {
		// No mapping configured: fall back to the sender's critical hint.
		// An omitted flag counts as critical.
		if raw.Critical == nil || *raw.Critical {
			ev.Label = LabelCriticalHit
		} else {
			ev.Label = LabelBodyHit
		}
		ev.Band = matchBand(cfg.Bands, 0)
		if ev.Band == 0 {
			return Outcome{Event: ev, Drop: DropOutOfRange}
		}
		return Outcome{Event: ev}
	}

	for i, ch := range cfg.Channels {
		if ch == "" {
			continue
		}
		v := raw.Forces[ch]
		if i == 0 && raw.Reed != 0 {
			// reed trigger overrides the primary channel
			v = 0
		}
		ev.Forces[i] = v
	}

	for _, f := range ev.Forces {
		if f > ev.MaxForce {
			ev.MaxForce = f
		}
	}

	ev.Band = matchBand(cfg.Bands, ev.MaxForce)

	// Tie-break on equal forces favors the lowest position index; with
	// all-zero forces that lands on position 1's label. This mirrors the
	// dashboard's long-standing behavior and is covered by tests, so keep
	// it even though it reads like an accident of the loop order.
	ev.Label = LabelPositionNotFound
	for i, f := range ev.Forces {
		if f == ev.MaxForce {
			ev.Label = cfg.Labels[i]
			break
		}
	}

	if ev.Band == 0 {
		return Outcome{Event: ev, Drop: DropOutOfRange}
	}
	return Outcome{Event: ev}
}

// matchBand returns the 1-based index of the first band containing v, or
// zero when no band matches.
func matchBand(bands [Bands]Band, v int) int {
	for i, b := range bands {
		if v >= b.Min && v <= b.Max {
			return i + 1
		}
	}
	return 0
}
