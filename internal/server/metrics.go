// ABOUTME: Prometheus metrics for the time sync server
// ABOUTME: Sessions, message counts and the latest measured offset
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry *prometheus.Registry

	sessions       prometheus.Gauge
	rejected       prometheus.Counter
	messages       *prometheus.CounterVec
	unmatched      prometheus.Counter
	offsetGauge    prometheus.Gauge
	roundTripGauge prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "timesync",
			Subsystem: "server",
			Name:      "sessions",
			Help:      "Number of connected sessions",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timesync",
			Subsystem: "server",
			Name:      "rejected_total",
			Help:      "Connections closed because all slots were in use",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timesync",
			Subsystem: "messages",
			Name:      "total",
			Help:      "Messages received by outcome",
		}, []string{"kind"}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timesync",
			Subsystem: "stat",
			Name:      "unmatched_total",
			Help:      "Rounds where client and server offsets disagreed",
		}),
		offsetGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "timesync",
			Subsystem: "stat",
			Name:      "offset_sec",
			Help:      "Averaged offset of the last confirmed session",
		}),
		roundTripGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "timesync",
			Subsystem: "stat",
			Name:      "round_trip_sec",
			Help:      "Averaged round trip of the last confirmed session",
		}),
	}

	m.registry.MustRegister(
		m.sessions,
		m.rejected,
		m.messages,
		m.unmatched,
		m.offsetGauge,
		m.roundTripGauge,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
