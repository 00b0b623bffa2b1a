// Package metrics holds the Prometheus collectors for the pricing engine and
// exposes them over HTTP.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wessley_pricing"

// Metrics groups every collector the service records to. A nil *Metrics is
// valid and records nothing, which keeps call sites free of nil checks.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	sourceFetches *prometheus.CounterVec
	sourceLatency *prometheus.HistogramVec
	sourceRows    *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	researchRuns  *prometheus.CounterVec
	researchTime  prometheus.Histogram
	observations  *prometheus.CounterVec
	freshness     *prometheus.CounterVec
	storeWrites   *prometheus.CounterVec
	bulkItems     *prometheus.CounterVec
	bulkActive    prometheus.Gauge
	events        *prometheus.CounterVec
}

// New creates a Metrics with its own registry. Process and Go runtime
// collectors are registered alongside the service collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "route"}),
		sourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "source", Name: "fetches_total",
			Help: "Marketplace fetch attempts by source and outcome.",
		}, []string{"source", "outcome"}),
		sourceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "source", Name: "fetch_duration_seconds",
			Help:    "Duration of marketplace fetches.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"source"}),
		sourceRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "source", Name: "listings_total",
			Help: "Raw listings returned by each source.",
		}, []string{"source"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "source", Name: "breaker_state",
			Help: "Circuit breaker state per source (0 closed, 1 open, 2 half-open).",
		}, []string{"source"}),
		researchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "research", Name: "runs_total",
			Help: "Research runs by outcome.",
		}, []string{"outcome"}),
		researchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "research", Name: "duration_seconds",
			Help:    "Duration of research runs that reached the sources.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "research", Name: "observations_total",
			Help: "Observations evaluated, split into retained and outlier.",
		}, []string{"kind"}),
		freshness: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "freshness", Name: "lookups_total",
			Help: "Freshness cache lookups by result.",
		}, []string{"result"}),
		storeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "records", Name: "writes_total",
			Help: "Research record writes by outcome.",
		}, []string{"outcome"}),
		bulkItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bulk", Name: "items_total",
			Help: "Items processed by bulk research, by outcome.",
		}, []string{"outcome"}),
		bulkActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bulk", Name: "active_jobs",
			Help: "Bulk research jobs currently running.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "published_total",
			Help: "Events published, by subject and outcome.",
		}, []string{"subject", "outcome"}),
	}
	m.Registry.MustRegister(
		m.httpInFlight, m.httpRequests, m.httpDuration,
		m.sourceFetches, m.sourceLatency, m.sourceRows, m.breakerState,
		m.researchRuns, m.researchTime, m.observations, m.freshness, m.storeWrites,
		m.bulkItems, m.bulkActive, m.events,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// HTTPStart marks a request in flight and returns a func that records it.
func (m *Metrics) HTTPStart() func(method, route, status string, d time.Duration) {
	if m == nil {
		return func(string, string, string, time.Duration) {}
	}
	m.httpInFlight.Inc()
	return func(method, route, status string, d time.Duration) {
		m.httpInFlight.Dec()
		m.httpRequests.WithLabelValues(method, route, status).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
	}
}

// SourceFetch records one adapter call.
func (m *Metrics) SourceFetch(source, outcome string, listings int, d time.Duration) {
	if m == nil {
		return
	}
	m.sourceFetches.WithLabelValues(source, outcome).Inc()
	m.sourceLatency.WithLabelValues(source).Observe(d.Seconds())
	if listings > 0 {
		m.sourceRows.WithLabelValues(source).Add(float64(listings))
	}
}

// BreakerState records the numeric breaker state of a source.
func (m *Metrics) BreakerState(source string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(source).Set(float64(state))
}

// Research records a finished research run.
func (m *Metrics) Research(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.researchRuns.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.researchTime.Observe(d.Seconds())
	}
}

// Analysis records how many observations one evaluation kept and dropped.
func (m *Metrics) Analysis(sample, outliers int) {
	if m == nil {
		return
	}
	m.observations.WithLabelValues("retained").Add(float64(sample - outliers))
	m.observations.WithLabelValues("outlier").Add(float64(outliers))
}

// Freshness records a cache lookup result: "hit", "miss" or "forced".
func (m *Metrics) Freshness(result string) {
	if m == nil {
		return
	}
	m.freshness.WithLabelValues(result).Inc()
}

// StoreWrite records a record write outcome: "ok", "conflict" or "error".
func (m *Metrics) StoreWrite(outcome string) {
	if m == nil {
		return
	}
	m.storeWrites.WithLabelValues(outcome).Inc()
}

// BulkItem records one bulk item outcome.
func (m *Metrics) BulkItem(outcome string) {
	if m == nil {
		return
	}
	m.bulkItems.WithLabelValues(outcome).Inc()
}

// BulkStarted increments the active job gauge and returns its decrement.
func (m *Metrics) BulkStarted() func() {
	if m == nil {
		return func() {}
	}
	m.bulkActive.Inc()
	return m.bulkActive.Dec
}

// Event records one publish attempt.
func (m *Metrics) Event(subject, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(subject, outcome).Inc()
}
