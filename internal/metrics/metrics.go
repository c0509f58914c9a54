// Package metrics exposes Prometheus collectors for the scan engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scanStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_steps_total",
			Help: "Total number of workflow steps finished, labeled by kind and status.",
		},
		[]string{"kind", "status"},
	)

	scanJobsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_jobs_ingested_total",
			Help: "Total number of canonical jobs ingested, labeled by ATS family.",
		},
		[]string{"ats"},
	)

	scanPagesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_pages_fetched_total",
			Help: "Total number of source pages fetched, labeled by ATS family and status.",
		},
		[]string{"ats", "status"},
	)

	scanBudgetExhaustionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_budget_exhaustions_total",
			Help: "Total number of budget counters that hit their cap, labeled by resource.",
		},
		[]string{"resource"},
	)

	scanActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scan_active_runs",
			Help: "Number of workflow plans currently executing.",
		},
	)

	scanRateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scan_rate_limit_delays_seconds",
			Help:    "Histogram of per-domain rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStep counts a finished workflow step.
func ObserveStep(kind, status string) {
	scanStepsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveJobsIngested counts canonical jobs accepted from a connector.
func ObserveJobsIngested(ats string, count int) {
	if count > 0 {
		scanJobsIngestedTotal.WithLabelValues(ats).Add(float64(count))
	}
}

// ObservePageFetch counts one fetched source page.
func ObservePageFetch(ats, status string) {
	scanPagesFetchedTotal.WithLabelValues(ats, status).Inc()
}

// ObserveBudgetExhausted counts a budget counter hitting its cap.
func ObserveBudgetExhausted(resource string) {
	scanBudgetExhaustionsTotal.WithLabelValues(resource).Inc()
}

// IncActiveRuns increments the active run gauge.
func IncActiveRuns() {
	scanActiveRuns.Inc()
}

// DecActiveRuns decrements the active run gauge.
func DecActiveRuns() {
	scanActiveRuns.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	scanRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
