// Package metrics provides Prometheus metrics for the dev server.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devserve_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devserve_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Manifest metrics
	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devserve_manifest_scans_total",
			Help: "Total number of manifest scans",
		},
		[]string{"result"},
	)

	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "devserve_manifest_scan_duration_seconds",
			Help:    "Time to walk the primary root and build a manifest",
			Buckets: prometheus.DefBuckets,
		},
	)

	manifestFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devserve_manifest_files",
			Help: "Number of files in the most recent manifest",
		},
	)

	scanSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devserve_manifest_skipped_entries_total",
			Help: "Entries skipped because their metadata could not be read",
		},
	)

	// Namespace metrics
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devserve_namespace_resolutions_total",
			Help: "Static path resolutions by answering mount",
		},
		[]string{"mount"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordScan records the outcome of a manifest scan.
func RecordScan(duration time.Duration, files, skipped int, success bool) {
	scanDuration.Observe(duration.Seconds())
	result := "success"
	if !success {
		result = "error"
	}
	scansTotal.WithLabelValues(result).Inc()
	if success {
		manifestFiles.Set(float64(files))
		scanSkippedTotal.Add(float64(skipped))
	}
}

// RecordResolution records which mount answered a static request. An empty
// mount name records a miss.
func RecordResolution(mount string) {
	if mount == "" {
		mount = "not_found"
	}
	resolutionsTotal.WithLabelValues(mount).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics under a fixed route label, keeping
// label cardinality independent of the files being served.
func Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
