// Package presence tracks which sensor devices have been heard from
// recently. Every inbound broker message touches the tracker regardless of
// device match or round state, so the online view reflects broker traffic
// even between rounds.
package presence

import (
	"sort"
	"sync"
	"time"
)

// Window is how long a device stays online after its last message.
const Window = 60 * time.Second

// Device is one device's presence record.
type Device struct {
	DeviceID string    `json:"device_id"`
	LastSeen time.Time `json:"last_seen"`
}

// Tracker records the last-seen time per device id. Staleness is a
// read-time filter; the map is never evicted on a timer.
type Tracker struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{lastSeen: make(map[string]time.Time)}
}

// Touch records now as the last-seen time for the device.
func (t *Tracker) Touch(deviceID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[deviceID] = now
}

// Online returns the devices seen within the window before now, sorted by
// device id. The result is a snapshot; callers never see the live map.
func (t *Tracker) Online(now time.Time) []Device {
	threshold := now.Add(-Window)

	t.mu.Lock()
	defer t.mu.Unlock()

	var online []Device
	for id, seen := range t.lastSeen {
		if seen.After(threshold) {
			online = append(online, Device{DeviceID: id, LastSeen: seen})
		}
	}
	sort.Slice(online, func(i, j int) bool {
		return online[i].DeviceID < online[j].DeviceID
	})
	return online
}

// Compact drops entries older than the window. The core never schedules
// this; it exists so a long-running deployment can bound the map.
func (t *Tracker) Compact(now time.Time) {
	threshold := now.Add(-Window)

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, seen := range t.lastSeen {
		if !seen.After(threshold) {
			delete(t.lastSeen, id)
		}
	}
}
