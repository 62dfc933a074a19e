package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_http_requests_total",
		Help: "Total HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kestrel_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_resolutions_total",
		Help: "Completed resolution passes by policy.",
	}, []string{"policy"})

	resolutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kestrel_resolution_duration_seconds",
		Help:    "Full resolution pass latency.",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})
)

// MetricsMiddleware records request counts and latencies.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := r.URL.Path
		requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// observeResolution records one completed resolution pass.
func observeResolution(policy string, duration time.Duration) {
	resolutionsTotal.WithLabelValues(policy).Inc()
	resolutionDuration.Observe(duration.Seconds())
}
