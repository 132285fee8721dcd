// Package metrics owns the prometheus registry exported on the admin
// listener: HTTP server metrics, readiness check results, build info and
// profiling state.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/kprobe/internal/readiness"
	"github.com/keithlinneman/kprobe/internal/version"
)

type ServerMetrics struct {
	reg            *prometheus.Registry
	handler        http.Handler
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	rateLimitDenied   prometheus.Counter
	rateLimitCapacity prometheus.Counter

	checkTotal *prometheus.CounterVec
	checkDur   *prometheus.HistogramVec
	evalTotal  *prometheus.CounterVec
	lastReady  prometheus.Gauge

	profilingActive prometheus.Gauge
}

var _ readiness.Observer = (*ServerMetrics)(nil)

// New returns a fresh registry with the Go and process collectors.
// Labels are bounded (method, route, status, check, surface) to keep
// cardinality flat.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{64, 256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		rateLimitDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_rate_limit_denied_total",
			Help: "Requests rejected with 429 by the per-client rate limiter",
		}),
		rateLimitCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_rate_limit_capacity_total",
			Help: "Times the rate limiter client table filled up",
		}),
		checkTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "readiness_check_results_total",
			Help: "Readiness check executions by check and result",
		}, []string{"check", "result"}),
		checkDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "readiness_check_duration_seconds",
			Help:    "Readiness check latency by check",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"check"}),
		evalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "readiness_evaluations_total",
			Help: "Readiness evaluations by surface and result",
		}, []string{"surface", "result"}),
		lastReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "readiness_ready",
			Help: "Result of the most recent readiness evaluation (1 ready, 0 not ready)",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.rateLimitDenied,
		m.rateLimitCapacity,
		m.checkTotal,
		m.checkDur,
		m.evalTotal,
		m.lastReady,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// Registry is exposed so other components (e.g. gRPC) can register their
// own collectors next to ours.
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) IncRateLimitDenied() {
	m.rateLimitDenied.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.rateLimitCapacity.Inc()
}

func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func result(o readiness.Outcome) string {
	if o.IsReady() {
		return "ready"
	}
	return "not_ready"
}

// ObserveCheck records one check execution.
func (m *ServerMetrics) ObserveCheck(check string, o readiness.Outcome, d time.Duration) {
	m.checkTotal.WithLabelValues(check, result(o)).Inc()
	m.checkDur.WithLabelValues(check).Observe(d.Seconds())
}

// ObserveEvaluation records one full evaluation.
func (m *ServerMetrics) ObserveEvaluation(surface string, o readiness.Outcome) {
	m.evalTotal.WithLabelValues(surface, result(o)).Inc()
	if o.IsReady() {
		m.lastReady.Set(1)
	} else {
		m.lastReady.Set(0)
	}
}
