// Package metrics provides Prometheus metrics for the filestorage service.
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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestorage_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filestorage_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filestorage_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestorage_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)

	listingPagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filestorage_listing_pages_total",
			Help: "Total object-listing pages fetched",
		},
	)

	thumbnailRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestorage_thumbnail_requests_total",
			Help: "Total thumbnail requests by cache outcome",
		},
		[]string{"outcome"},
	)

	thumbnailCacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filestorage_thumbnail_cache_bytes",
			Help: "Current size of the thumbnail cache in bytes",
		},
	)

	presignedURLsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filestorage_presigned_urls_total",
			Help: "Total presigned URLs issued",
		},
	)

	objectsPurgedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestorage_objects_purged_total",
			Help: "Total objects removed by tenant/user lifecycle purges",
		},
		[]string{"scope"},
	)

	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filestorage_sse_connections_active",
			Help: "Currently connected change-event subscribers",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestorage_sse_events_total",
			Help: "Total change events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	s3OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordListingPage records one fetched listing page.
func RecordListingPage() {
	listingPagesTotal.Inc()
}

// RecordThumbnail records a thumbnail request outcome ("hit", "miss", "error").
func RecordThumbnail(outcome string) {
	thumbnailRequestsTotal.WithLabelValues(outcome).Inc()
}

// SetThumbnailCacheBytes sets the current thumbnail cache size.
func SetThumbnailCacheBytes(size int64) {
	thumbnailCacheBytes.Set(float64(size))
}

// RecordPresignedURL records an issued presigned URL.
func RecordPresignedURL() {
	presignedURLsTotal.Inc()
}

// RecordPurgedObjects records objects removed by a lifecycle purge
// (scope is "user" or "tenant").
func RecordPurgedObjects(scope string, count int) {
	objectsPurgedTotal.WithLabelValues(scope).Add(float64(count))
}

// SetSSEConnectionsActive sets the current subscriber count.
func SetSSEConnectionsActive(n int64) {
	sseConnectionsActive.Set(float64(n))
}

// RecordSSEEvent records a published change event.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
