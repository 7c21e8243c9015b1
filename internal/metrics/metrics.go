// Package metrics exposes the Prometheus collectors and HTTP middleware used
// by the operator API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notecrawler"

// Outcomes of a run request.
const (
	RunAccepted = "accepted"
	RunBusy     = "busy"
	RunRejected = "rejected"
)

var (
	apiRequests    *prometheus.CounterVec
	apiLatency     *prometheus.HistogramVec
	runRequests    *prometheus.CounterVec
	initCollectors sync.Once
)

// Init registers the collectors on the default registry. Repeated calls are
// no-ops.
func Init() {
	initCollectors.Do(func() {
		apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Operator API requests by method and status code.",
		}, []string{"method", "code"})
		apiLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Operator API latency by method and route pattern.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "route"})
		runRequests = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_requests_total",
			Help:      "POST /v1/runs calls by outcome.",
		}, []string{"outcome"})
	})
}

// Handler serves the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if apiRequests == nil {
		return
	}
	apiRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	apiLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRunRequest records the outcome of a run request.
func ObserveRunRequest(outcome string) {
	if runRequests == nil {
		return
	}
	runRequests.WithLabelValues(outcome).Inc()
}

// Middleware records request counts and latency labeled by the chi route
// pattern, so path parameters do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		ObserveHTTPRequest(r.Method, route, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}
