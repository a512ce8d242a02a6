// Package metrics exposes request and queue metrics in Prometheus format and
// writes one structured log line per function request.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/habituals/internal/offlinequeue"
)

const namespace = "habituals"

// FunctionSample describes one finished request to a named function.
type FunctionSample struct {
	Function  string
	RequestID string
	Status    int
	Duration  time.Duration
	ErrorCode string
	SLOTag    string
}

// Registry owns the collectors of one process.
type Registry struct {
	registry         *prometheus.Registry
	functionRequests *prometheus.CounterVec
	functionDuration *prometheus.HistogramVec
	queueOps         *prometheus.CounterVec
	logger           *zap.Logger
}

// New builds a registry with Go runtime collectors and the habituals metrics.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()
	metrics := &Registry{
		registry: registry,
		functionRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "function_requests_total",
				Help:      "Requests handled per function, status code, and error code",
			},
			[]string{"function", "status_code", "error_code"},
		),
		functionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "function_duration_seconds",
				Help:      "Request latency per function",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"function", "slo_tag"},
		),
		queueOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_operations_total",
				Help:      "Offline queue operations by mutation kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		logger: logger,
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.functionRequests,
		metrics.functionDuration,
		metrics.queueOps,
	)
	return metrics
}

// RecordFunction counts the request and logs it.
func (r *Registry) RecordFunction(sample FunctionSample) {
	r.functionRequests.WithLabelValues(sample.Function, strconv.Itoa(sample.Status), sample.ErrorCode).Inc()
	r.functionDuration.WithLabelValues(sample.Function, sample.SLOTag).Observe(sample.Duration.Seconds())
	r.logger.Info("function metrics",
		zap.String("function_name", sample.Function),
		zap.String("request_id", sample.RequestID),
		zap.Int("status_code", sample.Status),
		zap.Int64("duration_ms", sample.Duration.Milliseconds()),
		zap.String("error_code", sample.ErrorCode),
		zap.String("slo_tag", sample.SLOTag),
	)
}

// ObserveQueue makes the registry an offlinequeue.Observer.
func (r *Registry) ObserveQueue(kind offlinequeue.Kind, outcome offlinequeue.Outcome) {
	r.queueOps.WithLabelValues(string(kind), string(outcome)).Inc()
}

// Handler serves the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// WriteTextfile dumps every metric in the text exposition format to path, for batch
// processes that exit before anything could scrape them.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

var _ offlinequeue.Observer = (*Registry)(nil)
