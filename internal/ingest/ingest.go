// Package ingest is the broker-facing edge: it subscribes to the sensor
// topic tree, decodes payloads and feeds them through presence tracking,
// classification and the event log, one message at a time in receipt order.
package ingest

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/strikelab/impact.report/internal/classify"
	"github.com/strikelab/impact.report/internal/metrics"
	"github.com/strikelab/impact.report/internal/presence"
	"github.com/strikelab/impact.report/internal/round"
)

// Pipeline is the per-message hand-off from the transport into the core.
// It never returns an error to the transport: every failure mode is either
// a counted drop or a logged storage fault, and the subscription outlives
// both.
type Pipeline struct {
	Presence *presence.Tracker
	Rounds   *round.Lifecycle
	Metrics  *metrics.Metrics
}

// Handle processes one broker message. deviceID comes from the topic tail,
// payload is the raw message body.
func (p *Pipeline) Handle(deviceID string, payload []byte) {
	now := time.Now()
	p.Metrics.BrokerMessages.Inc()

	// Presence reflects broker traffic unconditionally, before any
	// filtering and regardless of round state.
	p.Presence.Touch(deviceID, now)

	var raw classify.RawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		p.Metrics.MalformedPayloads.Inc()
		log.Printf("dropping malformed payload from %q: %v", deviceID, err)
		return
	}
	raw.DeviceID = deviceID

	roundID, cfg, active := p.Rounds.Active()
	if !active {
		p.Metrics.EventsDropped.WithLabelValues("no_active_round").Inc()
		return
	}

	out := classify.Classify(raw, cfg, now)
	if !out.Accepted() {
		p.Metrics.EventsDropped.WithLabelValues(string(out.Drop)).Inc()
		return
	}

	if _, err := p.Rounds.Record(roundID, out.Event); err != nil {
		if errors.Is(err, round.ErrNotActive) {
			// The round stopped between classification and append.
			p.Metrics.EventsDropped.WithLabelValues("round_stopped").Inc()
			return
		}
		// Storage faults must not terminate the subscription.
		log.Printf("failed to record event for round %d: %v", roundID, err)
		return
	}
	p.Metrics.EventsAccepted.Inc()
}
