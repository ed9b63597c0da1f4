// Package telemetry exposes Prometheus metrics for the task engine and the
// directory client.
//
// Metrics live on a caller-supplied registry rather than the global one so
// tests and embedded uses can create isolated instances. Every method is
// safe to call on a nil *Metrics, which records nothing.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "regsync"

// Task outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomePanic = "panic"
)

// Metrics holds every collector.
type Metrics struct {
	TasksProcessed    *prometheus.CounterVec
	TaskDuration      *prometheus.HistogramVec
	DirectoryRequests *prometheus.CounterVec
	RetriesScheduled  *prometheus.CounterVec
	Backoff           *prometheus.GaugeVec
	QueueDepth        prometheus.Gauge
}

// New creates and registers all collectors on reg.
//
// Panics if called twice with the same registry (duplicate registration).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TasksProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tasks_processed_total",
				Help:      "Tasks handled by the engine by action and outcome",
			},
			[]string{"action", "outcome"},
		),

		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "task_duration_seconds",
				Help:      "Wall time spent handling one task",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"action"},
		),

		DirectoryRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "directory_requests_total",
				Help:      "Directory API calls by operation and status class",
			},
			[]string{"operation", "result"},
		),

		RetriesScheduled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retries_scheduled_total",
				Help:      "Delayed retries scheduled by facet",
			},
			[]string{"facet"},
		),

		Backoff: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "backoff_seconds",
				Help:      "Current retry delay by facet, zero after success",
			},
			[]string{"facet"},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "queue_depth",
				Help:      "Tasks waiting in the in-memory queue",
			},
		),
	}
}

// TaskProcessed records one handled task.
func (m *Metrics) TaskProcessed(action, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TasksProcessed.WithLabelValues(action, outcome).Inc()
	m.TaskDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// DirectoryRequest records one directory call. A non-nil err counts as a
// transport failure.
func (m *Metrics) DirectoryRequest(operation string, status int, err error) {
	if m == nil {
		return
	}
	m.DirectoryRequests.WithLabelValues(operation, StatusClass(status, err)).Inc()
}

// RetryScheduled records a delayed retry for facet.
func (m *Metrics) RetryScheduled(facet string) {
	if m == nil {
		return
	}
	m.RetriesScheduled.WithLabelValues(facet).Inc()
}

// SetBackoff publishes the current delay for facet.
func (m *Metrics) SetBackoff(facet string, d time.Duration) {
	if m == nil {
		return
	}
	m.Backoff.WithLabelValues(facet).Set(d.Seconds())
}

// SetQueueDepth publishes the in-memory queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// StatusClass buckets a response into "2xx", "4xx", "5xx" or "transport".
func StatusClass(status int, err error) string {
	if err != nil {
		return "transport"
	}
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
