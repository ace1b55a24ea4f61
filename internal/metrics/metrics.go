// Package metrics exposes session and traffic counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omochice/realtime-bridge/internal/bridge"
)

const namespace = "realtime_bridge"

// Traffic directions used as label values.
const (
	DirectionOutbound = "client_to_backend"
	DirectionInbound  = "backend_to_client"
)

// Metrics holds the bridge collectors.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive  prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	messages        *prometheus.CounterVec
	bytes           *prometheus.CounterVec
	dropped         prometheus.Counter
}

// New registers the collectors on registry. A nil registry gets a fresh one
// with the Go and process collectors.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := &Metrics{
		registry: registry,
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of client sessions currently open.",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions ended, by outcome.",
		}, []string{"outcome"}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time from connect to termination.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages forwarded, by direction.",
		}, []string{"direction"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_bytes_total",
			Help:      "Payload bytes forwarded, by direction.",
		}, []string{"direction"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_dropped_total",
			Help:      "Outbound messages that expired before the backend consumed them.",
		}),
	}
	registry.MustRegister(m.sessionsActive, m.sessionsTotal, m.sessionDuration, m.messages, m.bytes, m.dropped)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionHooks counts one session. Call it when the session is created.
func (m *Metrics) SessionHooks() bridge.Hooks {
	m.sessionsActive.Inc()
	started := time.Now()
	return bridge.Hooks{
		Outbound: m.observe(DirectionOutbound),
		Inbound:  m.observe(DirectionInbound),
		Dropped: func(n int) {
			m.dropped.Add(float64(n))
		},
		Terminated: func(reason bridge.Reason, _ error) {
			m.sessionsActive.Dec()
			m.sessionsTotal.WithLabelValues(reason.String()).Inc()
			m.sessionDuration.Observe(time.Since(started).Seconds())
		},
	}
}

func (m *Metrics) observe(direction string) func(string) {
	count := m.messages.WithLabelValues(direction)
	size := m.bytes.WithLabelValues(direction)
	return func(msg string) {
		count.Inc()
		size.Add(float64(len(msg)))
	}
}
