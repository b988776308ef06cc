// Package opsmetrics exposes prometheus collectors for identity
// operations and message-gate decisions.
package opsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	identityOps   *prometheus.CounterVec
	gateDecisions *prometheus.CounterVec
	outboxRetries prometheus.Counter
}

// New registers the collectors with reg. A nil *Metrics is safe to call,
// so wiring stays optional in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		identityOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airc",
			Subsystem: "identity",
			Name:      "operations_total",
			Help:      "Identity operation attempts by operation and outcome.",
		}, []string{"operation", "outcome"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airc",
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Message gate decisions by enforcement phase and outcome.",
		}, []string{"phase", "outcome"}),
		outboxRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "airc",
			Subsystem: "outbox",
			Name:      "retries_total",
			Help:      "Outbox delivery attempts that were rescheduled.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.identityOps, m.gateDecisions, m.outboxRetries)
	}
	return m
}

func (m *Metrics) RecordIdentityOp(operation, outcome string) {
	if m == nil {
		return
	}
	m.identityOps.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) RecordGateDecision(phase, outcome string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(phase, outcome).Inc()
}

func (m *Metrics) RecordOutboxRetry() {
	if m == nil {
		return
	}
	m.outboxRetries.Inc()
}
