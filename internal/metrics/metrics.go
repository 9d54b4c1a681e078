// Package metrics holds the Prometheus collectors exported by the orchestrator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "release"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	batches     *prometheus.CounterVec
	operations  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	tasks       *prometheus.HistogramVec
	phase       *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_batches_total",
				Help:      "Remote batch submissions by endpoint and result",
			},
			[]string{"endpoint", "result"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_operations_total",
				Help:      "Remote operations committed by kind",
			},
			[]string{"kind"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repository_transitions_total",
				Help:      "Staging repository transitions by name and result",
			},
			[]string{"transition", "result"},
		),
		tasks: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Release task durations",
				Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
			},
			[]string{"task", "status"},
		),
		phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "phase",
				Help:      "Current release phase (1 for the active phase)",
			},
			[]string{"tag", "phase"},
		),
	}
	m.registry.MustRegister(m.batches, m.operations, m.transitions, m.tasks, m.phase)
	return m
}

func (m *Metrics) ObserveBatch(endpoint, result string, opKinds []string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(endpoint, result).Inc()
	if result != "committed" {
		return
	}
	for _, k := range opKinds {
		m.operations.WithLabelValues(k).Inc()
	}
}

func (m *Metrics) ObserveTransition(transition string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.transitions.WithLabelValues(transition, result).Inc()
}

func (m *Metrics) ObserveTask(task, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(task, status).Observe(d.Seconds())
}

// SetPhase marks phase as the active one for tag.
func (m *Metrics) SetPhase(tag, phase string, all []string) {
	if m == nil {
		return
	}
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.phase.WithLabelValues(tag, p).Set(v)
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
