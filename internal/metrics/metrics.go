// Package metrics exposes the agent's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "print_agent"

// Metrics holds the collectors on a private registry.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal      *prometheus.CounterVec
	engineFailures *prometheus.CounterVec
	inFlight       prometheus.Gauge
	jobDuration    *prometheus.HistogramVec
	queueDepth     prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Print jobs by print type and outcome.",
		}, []string{"type", "status"}),
		engineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_failures_total",
			Help:      "PDF engine attempts that failed.",
		}, []string{"engine"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being dispatched.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from dispatch to terminal outcome.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"type"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting in the queue.",
		}),
	}

	m.registry.MustRegister(
		m.jobsTotal,
		m.engineFailures,
		m.inFlight,
		m.jobDuration,
		m.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// JobStarted marks a job as in flight.
func (m *Metrics) JobStarted() {
	m.inFlight.Inc()
}

// JobFinished records a terminal outcome.
func (m *Metrics) JobFinished(printType, status string, elapsed time.Duration) {
	m.inFlight.Dec()
	m.jobsTotal.WithLabelValues(printType, status).Inc()
	m.jobDuration.WithLabelValues(printType).Observe(elapsed.Seconds())
}

// EngineFailed counts one failed engine attempt.
func (m *Metrics) EngineFailed(engine string) {
	m.engineFailures.WithLabelValues(engine).Inc()
}

// SetQueueDepth reports the number of queued jobs.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
