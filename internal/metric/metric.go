// Package metric registers the engine's Prometheus metrics.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine-level counters.
type Metrics struct {
	Operations *prometheus.CounterVec
	Conflicts  *prometheus.CounterVec
	Consumed   *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all engine metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "testpool",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine operations by kind and outcome",
			},
			[]string{"operation", "outcome"},
		),
		Conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "testpool",
				Subsystem: "engine",
				Name:      "conflicts_total",
				Help:      "Writes rejected by a unique constraint",
			},
			[]string{"entity_type"},
		),
		Consumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "testpool",
				Subsystem: "engine",
				Name:      "consumed_total",
				Help:      "Available-to-Consumed transitions",
			},
			[]string{"entity_type"},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.Operations, m.Conflicts, m.Consumed)
	return m
}

// RecordOp counts one engine operation with its outcome label.
func (m *Metrics) RecordOp(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
