package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/objective-cascade/internal/platform/logger"
)

const namespace = "cascade"

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	stageRuns     *prometheus.CounterVec
	stageLatency  *prometheus.HistogramVec
	storeRetries  *prometheus.CounterVec
	findings      *prometheus.CounterVec
	pipelineRuns  *prometheus.CounterVec
	lockConflicts prometheus.Counter

	progressEvents    *prometheus.CounterVec
	progressConflicts prometheus.Counter
	completions       *prometheus.CounterVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Current returns the process metrics, or nil when Init was never called.
// Every method is safe on a nil receiver.
func Current() *Metrics {
	return instance
}

func Init(log *logger.Logger) *Metrics {
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("metrics initialized", "namespace", namespace)
		}
	})
	return instance
}

// New builds a metrics set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request latency.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "http_requests_inflight", Help: "HTTP requests being served.",
		}),
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stage_runs_total", Help: "Pipeline stage executions by outcome.",
		}, []string{"stage", "status"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds", Help: "Pipeline stage latency including commit.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"stage"}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_retries_total", Help: "Graph store operations retried after connectivity errors.",
		}, []string{"op"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "validation_findings_total", Help: "Validation findings by check and severity.",
		}, []string{"check", "severity"}),
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pipeline_runs_total", Help: "Pipeline runs by final status.",
		}, []string{"status"}),
		lockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "campaign_lock_conflicts_total", Help: "Campaign write lock acquisitions that timed out.",
		}),
		progressEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "progress_events_total", Help: "Accepted progress events by kind.",
		}, []string{"kind"}),
		progressConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "progress_append_conflicts_total", Help: "Optimistic progress appends that lost a race.",
		}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "objective_completions_total", Help: "Objective completions by level.",
		}, []string{"level"}),
	}
	reg.MustRegister(
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.stageRuns, m.stageLatency, m.storeRetries, m.findings, m.pipelineRuns, m.lockConflicts,
		m.progressEvents, m.progressConflicts, m.completions,
	)
	return m
}

// Handler serves the Prometheus exposition for m.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) APIInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) APIInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveStage(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage, status).Inc()
	if dur > 0 {
		m.stageLatency.WithLabelValues(stage).Observe(dur.Seconds())
	}
}

func (m *Metrics) IncStoreRetry(op string) {
	if m == nil {
		return
	}
	m.storeRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) IncFinding(check, severity string) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues(check, severity).Inc()
}

func (m *Metrics) IncPipelineRun(status string) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) IncLockConflict() {
	if m == nil {
		return
	}
	m.lockConflicts.Inc()
}

func (m *Metrics) IncProgressEvent(kind string) {
	if m == nil {
		return
	}
	m.progressEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncProgressConflict() {
	if m == nil {
		return
	}
	m.progressConflicts.Inc()
}

func (m *Metrics) IncCompletion(level string) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(level).Inc()
}
