package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics definitions
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphrest_http_requests_total",
		Help: "Total number of HTTP requests served, by service, route and status.",
	}, []string{"service", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graphrest_http_request_duration_seconds",
		Help:    "Time spent serving an HTTP request.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "route", "status"})

	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphrest_upstream_requests_total",
		Help: "Total number of calls made to a graph database, by backend, operation and outcome.",
	}, []string{"backend", "operation", "outcome"})

	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graphrest_upstream_request_duration_seconds",
		Help:    "Latency of calls made to a graph database.",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "operation", "outcome"})

	RegistryConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "graphrest_registry_connections",
		Help: "Current number of cached database clients.",
	}, []string{"service"})
)

// Backends reported in upstream metrics
const (
	BackendOrient = "orientdb"
	BackendTiger  = "tigergraph"
)

// ObserveHTTP records one served request.
func ObserveHTTP(service, route string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	HTTPRequestsTotal.WithLabelValues(service, route, code).Inc()
	HTTPRequestDuration.WithLabelValues(service, route, code).Observe(elapsed.Seconds())
}

// ObserveUpstream records one database call started at start.
func ObserveUpstream(backend, operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	UpstreamRequestsTotal.WithLabelValues(backend, operation, outcome).Inc()
	UpstreamRequestDuration.WithLabelValues(backend, operation, outcome).Observe(time.Since(start).Seconds())
}

// SetConnections publishes the registry size for a service.
func SetConnections(service string, n int) {
	RegistryConnections.WithLabelValues(service).Set(float64(n))
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
