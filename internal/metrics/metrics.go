// Package metrics exposes Prometheus counters for the ingestion pipeline.
// Classifier drops are deliberate filters, not errors, so they surface here
// (countable per reason) instead of in logs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's instruments on a private registry so the
// default Go collector noise stays out of the scrape.
type Metrics struct {
	registry *prometheus.Registry

	BrokerMessages    prometheus.Counter
	MalformedPayloads prometheus.Counter
	EventsAccepted    prometheus.Counter
	EventsDropped     *prometheus.CounterVec
	ConnectedViewers  prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		BrokerMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "impact",
			Name:      "broker_messages_total",
			Help:      "Messages received from the broker, before any filtering.",
		}),
		MalformedPayloads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "impact",
			Name:      "malformed_payloads_total",
			Help:      "Broker payloads that failed to decode.",
		}),
		EventsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "impact",
			Name:      "events_accepted_total",
			Help:      "Classified events appended to the event log.",
		}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "impact",
			Name:      "events_dropped_total",
			Help:      "Classified events dropped before persistence, by reason.",
		}, []string{"reason"}),
		ConnectedViewers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "impact",
			Name:      "connected_viewers",
			Help:      "Live stream connections currently open.",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
