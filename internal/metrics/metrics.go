// File: internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xkilldash9x/fetchproxy/internal/fetch"
)

const namespace = "fetchproxy"

// Metrics holds all Prometheus collectors of one proxy instance. Each instance
// owns its registry so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Proxy metrics
	Executions        *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	StageDuration     *prometheus.HistogramVec
	ResponseSize      prometheus.Histogram
	GateWaiters       prometheus.Gauge
}

var _ fetch.Recorder = (*Metrics)(nil)

// New creates and registers the collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "route"},
		),

		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Fetch executions by outcome",
			},
			[]string{"outcome"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "End to end fetch execution duration in seconds",
				Buckets:   []float64{.1, .5, 1, 2, 2.5, 3, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of successful execution stages in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		ResponseSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_size_bytes",
				Help:      "Size of returned response bodies in bytes",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
			},
		),
		GateWaiters: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "page_gate_waiters",
				Help:      "Executions waiting for the shared page",
			},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the exposition format for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveExecution implements fetch.Recorder.
func (m *Metrics) ObserveExecution(outcome string, elapsed time.Duration) {
	m.Executions.WithLabelValues(outcome).Inc()
	m.ExecutionDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveStage implements fetch.Recorder.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveResponseSize implements fetch.Recorder.
func (m *Metrics) ObserveResponseSize(bytes int) {
	m.ResponseSize.Observe(float64(bytes))
}

// GateWaiting implements fetch.Recorder.
func (m *Metrics) GateWaiting(delta int) {
	m.GateWaiters.Add(float64(delta))
}

// Middleware records request counts and latencies. Routes are labelled by
// their chi pattern to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
