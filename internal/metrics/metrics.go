// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlAttemptsTotal         *prometheus.CounterVec
	newDataPointsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	rateLimitWaitSeconds       *prometheus.HistogramVec
	queueClaimsTotal           *prometheus.CounterVec
	queueTransitionsTotal      *prometheus.CounterVec
	discoveredSeriesTotal      *prometheus.CounterVec
	cycleDurationSeconds       prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "econcrawl_crawl_attempts_total",
				Help: "Total number of series crawl attempts, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		newDataPointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "econcrawl_new_data_points_total",
				Help: "Total number of data points inserted, labeled by source.",
			},
			[]string{"source"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "econcrawl_fetch_duration_seconds",
				Help:    "Histogram of provider fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "econcrawl_rate_limit_wait_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"source"},
		)

		queueClaimsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "econcrawl_queue_claims_total",
				Help: "Queue claim calls, labeled by result (claimed, empty, conflict).",
			},
			[]string{"result"},
		)

		queueTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "econcrawl_queue_transitions_total",
				Help: "Queue item status transitions, labeled by target status.",
			},
			[]string{"status"},
		)

		discoveredSeriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "econcrawl_discovered_series_total",
				Help: "Series reported by discovery adapters, labeled by source.",
			},
			[]string{"source"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "econcrawl_cycle_duration_seconds",
				Help:    "Duration of full scheduler cycles.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
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
	})
}

// SanitizeSource lowercases a source name for use as a label.
// It returns "unknown" for blank names.
func SanitizeSource(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "unknown"
	}
	return name
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCrawlAttempt records one completed attempt and its new data points.
func ObserveCrawlAttempt(source string, success bool, newPoints int, fetchDuration time.Duration) {
	Init()
	label := SanitizeSource(source)
	status := "failed"
	if success {
		status = "success"
	}
	crawlAttemptsTotal.WithLabelValues(label, status).Inc()
	if newPoints > 0 {
		newDataPointsTotal.WithLabelValues(label).Add(float64(newPoints))
	}
	if fetchDuration > 0 {
		fetchDurationSeconds.WithLabelValues(label).Observe(fetchDuration.Seconds())
	}
}

// ObserveRateLimitWait records the duration a caller blocked on a limiter.
func ObserveRateLimitWait(source string, duration time.Duration) {
	Init()
	rateLimitWaitSeconds.WithLabelValues(SanitizeSource(source)).Observe(duration.Seconds())
}

// ObserveQueueClaim increments the claim counter for the given result.
func ObserveQueueClaim(result string) {
	Init()
	queueClaimsTotal.WithLabelValues(result).Inc()
}

// ObserveQueueTransition increments the transition counter for a target status.
func ObserveQueueTransition(status string) {
	Init()
	queueTransitionsTotal.WithLabelValues(status).Inc()
}

// ObserveDiscovered adds the number of series an adapter reported.
func ObserveDiscovered(source string, count int) {
	Init()
	discoveredSeriesTotal.WithLabelValues(SanitizeSource(source)).Add(float64(count))
}

// ObserveCycle records the duration of a scheduler cycle.
func ObserveCycle(duration time.Duration) {
	Init()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
