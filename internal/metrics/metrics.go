// Package metrics exposes sockpuppet's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sockpuppet"

// Relay directions.
const (
	DirectionUpstream   = "upstream"
	DirectionDownstream = "downstream"
)

type Metrics struct {
	accepted      prometheus.Counter
	active        prometheus.Gauge
	sessions      *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	targetUpdates *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Client connections accepted by the SOCKS5 listener.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Client sessions currently being handled.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished client sessions by result.",
		}, []string{"result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_bytes_total",
			Help:      "Bytes relayed by direction.",
		}, []string{"direction"}),
		targetUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "target_updates_total",
			Help:      "Control endpoint target updates by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.accepted, m.active, m.sessions, m.bytes, m.targetUpdates)
	return m
}

func (m *Metrics) ConnAccepted() {
	if m == nil {
		return
	}
	m.accepted.Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

// SessionDone records the end of a session with its result kind.
func (m *Metrics) SessionDone(result string) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.sessions.WithLabelValues(result).Inc()
}

func (m *Metrics) AddBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) TargetUpdated(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "invalid"
	}
	m.targetUpdates.WithLabelValues(result).Inc()
}
