// Package metrics exposes Prometheus collectors for the dashboard service.
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
	changeEventsTotal          *prometheus.CounterVec
	bundleImagesTotal          *prometheus.CounterVec
	bundleDurationSeconds      prometheus.Histogram
	imageCacheLookupsTotal     *prometheus.CounterVec
	viewReloadsTotal           *prometheus.CounterVec
	streamClients              *prometheus.GaugeVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		changeEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_change_events_total",
				Help: "Row change notifications received, labeled by table and operation.",
			},
			[]string{"table", "op"},
		)

		bundleImagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_bundle_images_total",
				Help: "Images considered for zip bundles, labeled by result (added or skipped).",
			},
			[]string{"result"},
		)

		bundleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dashboard_bundle_duration_seconds",
				Help:    "Time spent assembling a zip bundle.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		imageCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_image_cache_lookups_total",
				Help: "Image cache lookups, labeled by result (hit, miss, error).",
			},
			[]string{"result"},
		)

		viewReloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_view_reloads_total",
				Help: "Live view reloads, labeled by view and outcome.",
			},
			[]string{"view", "outcome"},
		)

		streamClients = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dashboard_stream_clients",
				Help: "Connected server-sent event clients, labeled by view.",
			},
			[]string{"view"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dashboard_fetch_rate_limit_delay_seconds",
				Help:    "Time image fetches waited for a per-host token.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveChangeEvent counts a row change notification.
func ObserveChangeEvent(table, op string) {
	Init()
	changeEventsTotal.WithLabelValues(table, op).Inc()
}

// ObserveBundleImage counts an image that was added to or skipped from a bundle.
func ObserveBundleImage(added bool) {
	Init()
	result := "skipped"
	if added {
		result = "added"
	}
	bundleImagesTotal.WithLabelValues(result).Inc()
}

// ObserveBundleDuration records how long a bundle took to build.
func ObserveBundleDuration(d time.Duration) {
	Init()
	bundleDurationSeconds.Observe(d.Seconds())
}

// ObserveCacheLookup counts an image cache lookup; result is hit, miss or error.
func ObserveCacheLookup(result string) {
	Init()
	imageCacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveViewReload counts a live view reload.
func ObserveViewReload(view string, err error) {
	Init()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	viewReloadsTotal.WithLabelValues(view, outcome).Inc()
}

// IncStreamClients increments the connected stream gauge for view.
func IncStreamClients(view string) {
	Init()
	streamClients.WithLabelValues(view).Inc()
}

// DecStreamClients decrements the connected stream gauge for view.
func DecStreamClients(view string) {
	Init()
	streamClients.WithLabelValues(view).Dec()
}

// ObserveRateLimitDelay records how long a fetch waited for its host's token.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
