// Package metrics exposes Prometheus collectors for the enrichment service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/appsight/aso-pipeline/internal/aso"
)

var (
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	upstreamRequestsTotal          *prometheus.CounterVec
	upstreamRequestDurationSeconds *prometheus.HistogramVec
	screenshotBytesTotal           prometheus.Counter
	modelCallsTotal                *prometheus.CounterVec

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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)

		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aso_upstream_requests_total",
				Help: "Total calls to upstream services, labeled by upstream and outcome.",
			},
			[]string{"upstream", "outcome"},
		)

		upstreamRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aso_upstream_request_duration_seconds",
				Help:    "Histogram of upstream call latencies, labeled by upstream.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"upstream"},
		)

		screenshotBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aso_screenshot_bytes_total",
				Help: "Total screenshot bytes downloaded for model prompts.",
			},
		)

		modelCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aso_model_calls_total",
				Help: "Total generative model invocations, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Observe helpers are nil-safe so library packages can record without caring
// whether Init ran (it does not in unit tests).

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpstream records one upstream call. Outcome is "ok" or an error kind.
func ObserveUpstream(upstream, outcome string, duration time.Duration) {
	if upstreamRequestsTotal == nil {
		return
	}
	upstreamRequestsTotal.WithLabelValues(upstream, outcome).Inc()
	upstreamRequestDurationSeconds.WithLabelValues(upstream).Observe(duration.Seconds())
}

// ObserveScreenshotBytes adds downloaded screenshot bytes to the counter.
func ObserveScreenshotBytes(n int) {
	if screenshotBytesTotal == nil || n <= 0 {
		return
	}
	screenshotBytesTotal.Add(float64(n))
}

// Outcome renders an error as a metric label using the domain error kind.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(aso.KindOf(err))
}

// ObserveModelCall increments the model call counter for the given outcome.
func ObserveModelCall(outcome string) {
	if modelCallsTotal == nil {
		return
	}
	modelCallsTotal.WithLabelValues(outcome).Inc()
}

// Middleware records request counts and latencies per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		ObserveHTTPRequest(r.Method, route, ww.Status(), time.Since(start))
	})
}
