// Package metrics exposes Prometheus collectors for the media scraper.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	renderDecisionsTotal       *prometheus.CounterVec
	renderDurationSeconds      *prometheus.HistogramVec
	fetchesTotal               *prometheus.CounterVec
	persistedMediaTotal        *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	queueConnectAttemptsTotal  prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		renderDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediascraper_render_decisions_total",
				Help: "Render decisions, labeled by the rule that fired.",
			},
			[]string{"rule"},
		)

		renderDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediascraper_render_duration_seconds",
				Help:    "Headless render wall time, labeled by outcome.",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60},
			},
			[]string{"outcome"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediascraper_static_fetches_total",
				Help: "Static fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		persistedMediaTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediascraper_media_persisted_total",
				Help: "Media rows newly inserted, labeled by type.",
			},
			[]string{"type"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mediascraper_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediascraper_rate_limit_delays_seconds",
				Help:    "Histogram of per-domain render rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		queueConnectAttemptsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mediascraper_queue_connect_attempts_total",
				Help: "Attempts made to reach the queue broker.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRenderDecision counts which detector rule fired ("none" when static HTML sufficed).
func ObserveRenderDecision(rule string) {
	Init()
	renderDecisionsTotal.WithLabelValues(rule).Inc()
}

// ObserveRender records the duration of a headless render.
func ObserveRender(ok bool, duration time.Duration) {
	Init()
	outcome := "success"
	if !ok {
		outcome = "empty"
	}
	renderDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveFetch counts a static fetch attempt.
func ObserveFetch(site string, ok bool) {
	Init()
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	fetchesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObservePersistedMedia adds newly inserted media rows.
func ObservePersistedMedia(mediaType string, n int64) {
	Init()
	if n > 0 {
		persistedMediaTotal.WithLabelValues(mediaType).Add(float64(n))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveQueueConnectAttempt counts one broker ping.
func ObserveQueueConnectAttempt() {
	Init()
	queueConnectAttemptsTotal.Inc()
}
