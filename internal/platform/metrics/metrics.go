package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the reconciliation engine's collectors. A nil *Metrics records nothing.
type Metrics struct {
	RequestCount     *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	EventsIngested   *prometheus.CounterVec
	PassDuration     *prometheus.HistogramVec
	PassDecisions    *prometheus.CounterVec
	PassRuns         *prometheus.CounterVec
	LockConflicts    *prometheus.CounterVec
	OutboxPublished  *prometheus.CounterVec
	JobsConsumed     *prometheus.CounterVec
	ScheduledTenants prometheus.Gauge
}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recon_events_ingested_total",
				Help: "Normalized events processed by ingestion, by outcome.",
			},
			[]string{"stage", "result"},
		),
		PassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recon_pass_duration_seconds",
				Help:    "Duration of a single matcher pass in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage_pair"},
		),
		PassDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recon_pass_decisions_total",
				Help: "Matcher decisions that resulted in writes, by kind.",
			},
			[]string{"stage_pair", "decision"},
		),
		PassRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recon_runs_total",
				Help: "Reconciliation runs by trigger and outcome.",
			},
			[]string{"trigger", "outcome"},
		),
		LockConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recon_lock_conflicts_total",
				Help: "Passes rejected because the tenant pair lock was held.",
			},
			[]string{"stage_pair"},
		),
		OutboxPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recon_outbox_messages_total",
				Help: "Outbox messages handled by the poller, by final status.",
			},
			[]string{"status"},
		),
		JobsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recon_jobs_consumed_total",
				Help: "Kafka messages handled by the worker, by topic and outcome.",
			},
			[]string{"topic", "outcome"},
		),
		ScheduledTenants: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "recon_scheduled_tenants",
				Help: "Tenants covered by the most recent scheduled rescan.",
			},
		),
	}

	registry.MustRegister(m.RequestCount, m.RequestDuration, m.EventsIngested, m.PassDuration, m.PassDecisions,
		m.PassRuns, m.LockConflicts, m.OutboxPublished, m.JobsConsumed, m.ScheduledTenants)
	return m
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestCount.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func (m *Metrics) ObserveIngested(stage, result string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.EventsIngested.WithLabelValues(stage, result).Add(float64(count))
}

func (m *Metrics) ObservePass(pair string, duration time.Duration) {
	if m == nil {
		return
	}
	m.PassDuration.WithLabelValues(pair).Observe(duration.Seconds())
}

func (m *Metrics) ObserveDecision(pair, decision string) {
	if m == nil {
		return
	}
	m.PassDecisions.WithLabelValues(pair, decision).Inc()
}

func (m *Metrics) ObserveRun(trigger, outcome string) {
	if m == nil {
		return
	}
	m.PassRuns.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) ObserveLockConflict(pair string) {
	if m == nil {
		return
	}
	m.LockConflicts.WithLabelValues(pair).Inc()
}

func (m *Metrics) ObserveOutbox(status string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveJob(topic, outcome string) {
	if m == nil {
		return
	}
	m.JobsConsumed.WithLabelValues(topic, outcome).Inc()
}

func (m *Metrics) SetScheduledTenants(n int) {
	if m == nil {
		return
	}
	m.ScheduledTenants.Set(float64(n))
}
