package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const unmatched = "unmatched"

// Run request actions and their outcomes.
const (
	actionSubmit = "submit"
	actionCancel = "cancel"

	outcomeAccepted = "accepted"
	outcomeInvalid  = "invalid"
	outcomeNotFound = "not_found"
	outcomeConflict = "conflict"
	outcomeError    = "error"
)

// streamRoute is excluded from the latency histogram: an SSE request lasts
// as long as the run it follows.
const streamRoute = "/v1/runs/{id}/events"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hourglass_http_requests_total",
			Help: "Total number of HTTP requests by route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hourglass_http_request_duration_seconds",
			Help:    "Latency of non-streaming HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	runRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hourglass_run_requests_total",
			Help: "Run submissions and cancellations by outcome.",
		},
		[]string{"action", "outcome"},
	)

	eventStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hourglass_event_streams_active",
			Help: "Number of open SSE event streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, runRequestsTotal, eventStreamsActive)
}

// metricsMiddleware counts every request by chi route pattern and records
// latency for all but event streams.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(statusOf(ww))).Inc()
		if route != streamRoute {
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	})
}

// countRunRequests records the outcome of a run submission or cancellation.
func countRunRequests(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			runRequestsTotal.WithLabelValues(action, runOutcome(statusOf(ww))).Inc()
		})
	}
}

func runOutcome(status int) string {
	switch status {
	case http.StatusOK, http.StatusAccepted:
		return outcomeAccepted
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return outcomeInvalid
	case http.StatusNotFound:
		return outcomeNotFound
	case http.StatusConflict:
		return outcomeConflict
	default:
		return outcomeError
	}
}

func statusOf(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}
