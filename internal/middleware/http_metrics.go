// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes need no normalization.
var staticRoutes = map[string]bool{
	"/":              true,
	"/conversations": true,
	"/realtime/ws":   true,
	"/health":        true,
	"/ready":         true,
	"/metrics":       true,
}

// eventActions are the sub-resources under /events/{id}.
var eventActions = map[string]bool{
	"rsvp":    true,
	"checkin": true,
	"waves":   true,
}

// normalizePath converts paths with dynamic segments to route patterns to prevent
// cardinality explosion in metrics. This maps paths like /events/123/waves to
// /events/{id}/waves.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(path, "/")
	if len(parts) < 3 || parts[2] == "" {
		return path
	}

	switch parts[1] {
	case "events":
		// /events/{id}/rsvp, /events/{id}/checkin, /events/{id}/waves
		if len(parts) == 4 && eventActions[parts[3]] {
			return "/events/{id}/" + parts[3]
		}
		// /events/{id}/waves/decline
		if len(parts) == 5 && parts[3] == "waves" && parts[4] == "decline" {
			return "/events/{id}/waves/decline"
		}
		if len(parts) == 3 {
			return "/events/{id}"
		}
	case "conversations":
		// /conversations/{id}/end
		if len(parts) == 4 && parts[3] == "end" {
			return "/conversations/{id}/end"
		}
		if len(parts) == 3 {
			return "/conversations/{id}"
		}
	}

	// Unknown patterns pass through unchanged.
	return path
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// Unwrap returns the underlying writer.
func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

// Hijack delegates to the underlying writer for websocket upgrades.
func (mrw *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(mrw.ResponseWriter).Hijack()
}

// newMetricsResponseWriter creates a new metricsResponseWriter with default 200 status.
func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics is a middleware that records HTTP request metrics.
// It captures duration, request/response sizes, and request counts.
// Health check endpoints (/health, /ready) are excluded from metrics to avoid cardinality issues.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Exclude health check endpoints from metrics
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			defer metrics.trackInFlight()()
			start := time.Now()

			// Wrap response writer to capture status and size
			mrw := newMetricsResponseWriter(w)

			// Get request size from Content-Length header
			requestSize := int64(0)
			if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
				if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
					requestSize = size
				}
			}

			// Call the next handler
			next.ServeHTTP(mrw, r)

			// Calculate duration in seconds
			duration := time.Since(start).Seconds()

			// Normalize path to prevent cardinality explosion
			normalizedPath := normalizePath(r.URL.Path)

			// Record metrics
			metrics.ObserveHTTPRequest(
				r.Method,
				normalizedPath,
				strconv.Itoa(mrw.statusCode),
				duration,
				requestSize,
				mrw.size,
			)
		})
	}
}
