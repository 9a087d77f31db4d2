// Package telemetry exposes Prometheus metrics for the gateway.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	gatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total forwarding decisions, labeled by task and outcome.",
		},
		[]string{"task", "outcome"},
	)

	gatewayProbeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_probe_duration_seconds",
			Help:    "Histogram of backend liveness probe latencies, labeled by result.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"result"},
	)

	gatewayWakeSignalsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_wake_signals_total",
			Help: "Total advisory wake signals sent to the backend.",
		},
	)

	gatewayWaitDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_wait_duration_seconds",
			Help:    "Histogram of time spent blocking for the backend to wake.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}

		ObserveHTTPRequest(r.Method, routePattern, rec.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveRequest records a forwarding decision for a task.
func ObserveRequest(task, outcome string) {
	gatewayRequestsTotal.WithLabelValues(task, outcome).Inc()
}

// ObserveProbe records a liveness probe attempt.
func ObserveProbe(ok bool, duration time.Duration) {
	result := "failure"
	if ok {
		result = "success"
	}
	gatewayProbeDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveWakeSignal records one advisory wake call.
func ObserveWakeSignal() {
	gatewayWakeSignalsTotal.Inc()
}

// ObserveWait records how long a request blocked waiting for the backend.
func ObserveWait(duration time.Duration) {
	gatewayWaitDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
