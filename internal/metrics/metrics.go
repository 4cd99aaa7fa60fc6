// Package metrics holds the Prometheus instruments for the ingest service.
//
// All instruments live on a private registry so the exposition contains
// only what the service itself records (plus the standard Go and process
// collectors), never whatever a library registered on the global default.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for ObserveEvent.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeDeduped = "deduped"
)

// Result labels for CountFile. Processed counts every dequeued file;
// the others partition how processing ended.
const (
	FileProcessed = "processed"
	FileSucceeded = "succeeded"
	FileFailed    = "failed"
	FileDeduped   = "deduped"
	FileDropped   = "dropped"
)

// Metrics bundles the service instruments. The zero value is not usable;
// call New.
type Metrics struct {
	registry *prometheus.Registry

	events       *prometheus.CounterVec
	lastDuration *prometheus.GaugeVec

	watchQueueDepth    prometheus.Gauge
	watchQueueCapacity prometheus.Gauge
	watchFiles         *prometheus.CounterVec

	httpInFlight prometheus.Gauge
	httpDuration *prometheus.HistogramVec
}

// New builds the instrument set on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lore_ingest_events_total",
			Help: "Total ingest/resegment events",
		}, []string{"event", "outcome"}),
		lastDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lore_ingest_event_last_duration_seconds",
			Help: "Last event duration (seconds)",
		}, []string{"event"}),
		watchQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lore_watch_queue_depth",
			Help: "Files currently waiting in the watcher queue",
		}),
		watchQueueCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lore_watch_queue_capacity",
			Help: "Configured watcher queue capacity",
		}),
		watchFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lore_watch_files_total",
			Help: "Watched files by processing result",
		}, []string{"result"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lore_http_in_flight_requests",
			Help: "HTTP requests currently being served",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lore_http_request_duration_seconds",
			Help:    "HTTP request duration by method and status code",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events,
		m.lastDuration,
		m.watchQueueDepth,
		m.watchQueueCapacity,
		m.watchFiles,
		m.httpInFlight,
		m.httpDuration,
	)
	return m
}

// ObserveEvent records one completed event ("ingest", "resegment") with its
// outcome and remembers the duration of the most recent one.
func (m *Metrics) ObserveEvent(event, outcome string, d time.Duration) {
	m.events.WithLabelValues(event, outcome).Inc()
	m.lastDuration.WithLabelValues(event).Set(d.Seconds())
}

// SetWatchQueueCapacity records the configured queue size. Called once at
// watcher startup.
func (m *Metrics) SetWatchQueueCapacity(n int) {
	m.watchQueueCapacity.Set(float64(n))
}

// SetWatchQueueDepth records the current queue occupancy.
func (m *Metrics) SetWatchQueueDepth(n int) {
	m.watchQueueDepth.Set(float64(n))
}

// CountFile increments the watcher file counter for one result label.
func (m *Metrics) CountFile(result string) {
	m.watchFiles.WithLabelValues(result).Inc()
}

// Handler returns the /metrics exposition handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with in-flight and duration
// instrumentation.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(m.httpInFlight,
		promhttp.InstrumentHandlerDuration(m.httpDuration, next))
}

// Gatherer exposes the registry for the pushgateway pusher.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
