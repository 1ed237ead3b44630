// Package metrics provides Prometheus metrics for both querysync services.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	forwardsTotal    *prometheus.CounterVec
	forwardDuration  *prometheus.HistogramVec
	outboxDepth      prometheus.Gauge
	outboxReplays    *prometheus.CounterVec
	idempotentHits   prometheus.Counter
	healthStatus     prometheus.Gauge
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// NewMetrics returns the process-wide metrics, registering them on first use.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "querysync_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "route", "status"},
			),
			requestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "querysync_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
				},
				[]string{"method", "route"},
			),
			requestsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "querysync_http_requests_in_flight",
					Help: "Number of HTTP requests currently being processed",
				},
			),
			forwardsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "querysync_forwards_total",
					Help: "Operations replayed on the secondary, by outcome and failure kind",
				},
				[]string{"operation", "outcome", "failure_kind"},
			),
			forwardDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "querysync_forward_duration_seconds",
					Help:    "Latency of calls to the secondary in seconds",
					Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
				},
				[]string{"operation"},
			),
			outboxDepth: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "querysync_outbox_depth",
					Help: "Number of operations waiting to be replayed on the secondary",
				},
			),
			outboxReplays: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "querysync_outbox_replays_total",
					Help: "Outbox replay attempts by result",
				},
				[]string{"result"},
			),
			idempotentHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "querysync_idempotent_replays_total",
					Help: "Creates answered from the idempotency store",
				},
			),
			healthStatus: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "querysync_health_status",
					Help: "Readiness of the service (1 = ready, 0 = not ready)",
				},
			),
		}
	})
	return globalMetrics
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordForward records one call to the secondary. failureKind is empty on success.
func (m *Metrics) RecordForward(operation, outcome, failureKind string, duration time.Duration) {
	m.forwardsTotal.WithLabelValues(operation, outcome, failureKind).Inc()
	m.forwardDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetOutboxDepth sets the number of pending outbox entries.
func (m *Metrics) SetOutboxDepth(n int64) {
	m.outboxDepth.Set(float64(n))
}

// RecordOutboxReplay counts a replay result: "replicated", "retry" or "dropped".
func (m *Metrics) RecordOutboxReplay(result string) {
	m.outboxReplays.WithLabelValues(result).Inc()
}

// RecordIdempotentHit counts a create served from the idempotency store.
func (m *Metrics) RecordIdempotentHit() {
	m.idempotentHits.Inc()
}

// SetHealthStatus sets the health status.
func (m *Metrics) SetHealthStatus(healthy bool) {
	if healthy {
		m.healthStatus.Set(1)
	} else {
		m.healthStatus.Set(0)
	}
}

// MetricsServer provides a separate HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string, logger *zap.Logger) *MetricsServer {
	router := http.NewServeMux()
	router.Handle(path, promhttp.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves metrics until Shutdown is called.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("Starting metrics server", zap.String("addr", ms.server.Addr))
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// Middleware records request count, latency and in-flight requests.
// Requests are labelled by route template so ids do not explode cardinality.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.requestsInFlight.Inc()
			defer m.requestsInFlight.Dec()

			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			m.RecordHTTPRequest(r.Method, routeLabel(r), rw.statusCode, time.Since(start))
		})
	}
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
