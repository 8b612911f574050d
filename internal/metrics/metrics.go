// Package metrics provides Prometheus metrics for the jsonedit server.
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
			Name: "jsonedit_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jsonedit_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Target file I/O
	fileLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsonedit_file_loads_total",
			Help: "Total reads of the target file",
		},
		[]string{"status"},
	)

	fileWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsonedit_file_writes_total",
			Help: "Total writes of the target file",
		},
		[]string{"status"},
	)

	fileBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jsonedit_file_bytes_written_total",
			Help: "Total bytes written to the target file",
		},
	)

	// Watch feed
	watchEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsonedit_watch_events_total",
			Help: "Watch feed results by outcome (changed, unchanged, error)",
		},
		[]string{"outcome"},
	)

	externalChangeSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jsonedit_external_change_chars",
			Help:    "Characters inserted or deleted by changes made outside the editor",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"kind"},
	)

	// Sessions
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jsonedit_sessions_active",
			Help: "Number of connected browser sessions",
		},
	)

	eventsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsonedit_events_sent_total",
			Help: "Total realtime events queued to sessions",
		},
		[]string{"event"},
	)

	eventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jsonedit_events_dropped_total",
			Help: "Events dropped because a session send queue was full",
		},
	)

	eventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsonedit_events_received_total",
			Help: "Total realtime events received from sessions",
		},
		[]string{"event"},
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

// RecordFileLoad records a read of the target file.
func RecordFileLoad(success bool) {
	fileLoadsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordFileWrite records a write of the target file.
func RecordFileWrite(bytes int, success bool) {
	if success {
		fileBytesWritten.Add(float64(bytes))
	}
	fileWritesTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordWatchEvent records how the coordinator resolved a watch feed result.
func RecordWatchEvent(outcome string) {
	watchEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordExternalChange records the size of a change made on disk by another
// program.
func RecordExternalChange(inserted, deleted int) {
	externalChangeSize.WithLabelValues("inserted").Observe(float64(inserted))
	externalChangeSize.WithLabelValues("deleted").Observe(float64(deleted))
}

// SetSessionsActive sets the number of connected sessions.
func SetSessionsActive(count int) {
	sessionsActive.Set(float64(count))
}

// RecordEventSent records an event queued for a session.
func RecordEventSent(event string) {
	eventsSentTotal.WithLabelValues(event).Inc()
}

// RecordEventDropped records an event dropped for a slow session.
func RecordEventDropped() {
	eventsDroppedTotal.Inc()
}

// RecordEventReceived records an event read from a session.
func RecordEventReceived(event string) {
	eventsReceivedTotal.WithLabelValues(event).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
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

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// Upgrade requests pass through unwrapped so the connection can be hijacked.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, routeLabel(r), rw.statusCode, time.Since(start))
	})
}

// routeLabel keeps label cardinality bounded: static asset paths collapse
// into one label.
func routeLabel(r *http.Request) string {
	switch r.URL.Path {
	case "/", "/health", "/ws":
		return r.URL.Path
	}
	return "static"
}
