// Package observability holds the Prometheus instruments and OpenTelemetry
// setup shared by the scheduler and the generation backend.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by a run.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	TasksDispatched *prometheus.CounterVec
	TasksFinished   *prometheus.CounterVec
	TasksInFlight   *prometheus.GaugeVec
	Deadlocks       *prometheus.CounterVec
	BackendCalls    *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec
	RetryAttempts   *prometheus.CounterVec
}

// NewMetrics registers the instruments on a private registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TasksDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Task nodes submitted to a worker pool, by graph depth.",
		}, []string{"depth"}),
		TasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Task nodes reaching a terminal status, by depth and status.",
		}, []string{"depth", "status"}),
		TasksInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Task nodes currently running, by graph depth.",
		}, []string{"depth"}),
		Deadlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deadlocks_total",
			Help:      "Graphs that stopped with unsatisfiable dependencies, by depth.",
		}, []string{"depth"}),
		BackendCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Generation backend calls by capability and outcome.",
		}, []string{"capability", "outcome"}),
		BackendLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_seconds",
			Help:      "Latency of generation backend calls in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"capability"}),
		RetryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_failed_attempts_total",
			Help:      "Failed generation attempts by capability.",
		}, []string{"capability"}),
	}
}

// Registry returns the registry holding the instruments.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Dispatched(depth string) {
	if m == nil {
		return
	}
	m.TasksDispatched.WithLabelValues(depth).Inc()
	m.TasksInFlight.WithLabelValues(depth).Inc()
}

func (m *Metrics) Finished(depth, status string) {
	if m == nil {
		return
	}
	m.TasksFinished.WithLabelValues(depth, status).Inc()
	m.TasksInFlight.WithLabelValues(depth).Dec()
}

func (m *Metrics) Deadlock(depth string) {
	if m == nil {
		return
	}
	m.Deadlocks.WithLabelValues(depth).Inc()
}

// ObserveBackendCall records one backend call. A nil err counts as "ok".
func (m *Metrics) ObserveBackendCall(capability string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.BackendCalls.WithLabelValues(capability, outcome).Inc()
	m.BackendLatency.WithLabelValues(capability).Observe(d.Seconds())
}

func (m *Metrics) FailedAttempt(capability string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(capability).Inc()
}
