// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	discoveredTotal            prometheus.Counter
	enqueuedTotal              prometheus.Counter
	projectsTotal              *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	pendingProjects            prometheus.Gauge
	lastSequence               prometheus.Gauge
	exportsTotal               *prometheus.CounterVec
	navigationDelaySeconds     prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		discoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bidharvest_discovered_total",
				Help: "Total number of candidates returned by discovery passes.",
			},
		)

		enqueuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bidharvest_enqueued_total",
				Help: "Total number of projects newly added to the pending queue.",
			},
		)

		projectsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidharvest_projects_total",
				Help: "Total number of projects processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bidharvest_stage_duration_seconds",
				Help:    "Histogram of per-project stage durations, labeled by stage and result.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
			},
			[]string{"stage", "result"},
		)

		pendingProjects = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bidharvest_pending_projects",
				Help: "Number of projects waiting in the pending queue.",
			},
		)

		lastSequence = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bidharvest_last_sequence",
				Help: "Highest storage sequence number recorded in the ledger.",
			},
		)

		exportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidharvest_exports_total",
				Help: "Total number of completion exports, labeled by exporter and status.",
			},
			[]string{"exporter", "status"},
		)

		navigationDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bidharvest_navigation_delay_seconds",
				Help:    "Histogram of time spent waiting for the portal navigation budget.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidharvest_status_requests_total",
				Help: "Requests served by the status server, labeled by route pattern and code.",
			},
			[]string{"route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bidharvest_status_request_duration_seconds",
				Help:    "Status server latency, labeled by route pattern.",
				Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 2},
			},
			[]string{"route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveDiscovery records one discovery pass.
func ObserveDiscovery(found, enqueued int) {
	Init()
	discoveredTotal.Add(float64(found))
	enqueuedTotal.Add(float64(enqueued))
}

// ObserveProject increments the project counter for the given outcome.
func ObserveProject(outcome string) {
	Init()
	projectsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long one workflow stage took.
func ObserveStage(stage string, duration time.Duration, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	stageDurationSeconds.WithLabelValues(stage, result).Observe(duration.Seconds())
}

// SetPending sets the pending queue gauge.
func SetPending(n int) {
	Init()
	pendingProjects.Set(float64(n))
}

// SetLastSequence sets the highest recorded sequence number.
func SetLastSequence(n int) {
	Init()
	lastSequence.Set(float64(n))
}

// ObserveExport records one exporter call.
func ObserveExport(exporter string, err error) {
	Init()
	status := "ok"
	if err != nil {
		status = "error"
	}
	exportsTotal.WithLabelValues(exporter, status).Inc()
}

// ObserveNavigationDelay records the duration of a rate limit wait.
func ObserveNavigationDelay(duration time.Duration) {
	Init()
	navigationDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest records one status server request.
func ObserveHTTPRequest(route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}
