package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbell_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskbell_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbell_notifications_created_total",
			Help: "Notifications persisted by type",
		},
		[]string{"type"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbell_deliveries_total",
			Help: "Channel delivery attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	deliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskbell_delivery_latency_seconds",
			Help:    "Time spent in a single channel delivery",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"channel"},
	)

	readTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbell_read_transitions_total",
			Help: "Status transitions applied by the read-state manager",
		},
		[]string{"to"},
	)

	scanPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbell_scan_passes_total",
			Help: "Overdue scan passes by result",
		},
		[]string{"result"},
	)

	scanTasksProcessed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskbell_scan_tasks_processed",
			Help: "Tasks processed by the current or last scan pass",
		},
	)

	scanCandidates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskbell_scan_candidates",
			Help: "Overdue candidates counted at the start of the current or last pass",
		},
	)

	scanNotifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskbell_scan_notifications_total",
			Help: "Notifications created by overdue scans",
		},
	)

	realtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskbell_realtime_connections",
			Help: "Live realtime connections on this instance",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskbell_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbell_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"scope"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskbell_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordNotificationCreated counts a persisted notification.
func RecordNotificationCreated(notificationType string) {
	notificationsCreated.WithLabelValues(notificationType).Inc()
}

// RecordDelivery records one channel outcome (delivered, skipped or failed).
func RecordDelivery(channel, outcome string) {
	deliveries.WithLabelValues(channel, outcome).Inc()
}

// RecordDeliveryLatency records how long a channel took.
func RecordDeliveryLatency(channel string, latency time.Duration) {
	deliveryLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// RecordReadTransitions counts n notifications moved to status.
func RecordReadTransitions(status string, n int) {
	readTransitions.WithLabelValues(status).Add(float64(n))
}

// RecordScanPass records a finished pass ("completed" or "failed").
func RecordScanPass(result string) {
	scanPasses.WithLabelValues(result).Inc()
}

// SetScanProgress publishes the running pass counters.
func SetScanProgress(processed, total int) {
	scanTasksProcessed.Set(float64(processed))
	scanCandidates.Set(float64(total))
}

// RecordScanNotifications adds notifications created by a scan page.
func RecordScanNotifications(n int) {
	scanNotifications.Add(float64(n))
}

// SetRealtimeConnections sets the live connection count
func SetRealtimeConnections(count int) {
	realtimeConnections.Set(float64(count))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(scope string) {
	rateLimitRejections.WithLabelValues(scope).Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code.
// Streaming handlers need Flush and Hijack to pass through.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// Requests are labelled with the chi route pattern to keep ids out of
// the label set.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		RecordRequest(r.Method, path, wrapped.status, time.Since(start))
	})
}
