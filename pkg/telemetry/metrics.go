package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tracklane/tracklane/pkg/engine"
)

var _ engine.Metrics = (*Metrics)(nil)

// Metrics provides Prometheus metrics for tracklane. A nil or disabled Metrics
// accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Dispatch metrics
	rulesDispatched  *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec
	ruleCacheLookups *prometheus.CounterVec

	// Profile metrics
	segmentsMatched prometheus.Counter
	segmentErrors   prometheus.Counter
	profilesMerged  prometheus.Counter

	debugRecordsWritten prometheus.Counter
	errorsByClass       *prometheus.CounterVec
	activeInvocations   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		rulesDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rules_dispatched_total",
				Help:      "Total number of rule invocations by outcome",
			},
			[]string{"event_type", "status"},
		),
		workflowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_duration_seconds",
				Help:      "Duration of workflow execution in seconds",
				Buckets:   buckets,
			},
			[]string{"event_type"},
		),
		ruleCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_cache_lookups_total",
				Help:      "Total number of rule cache lookups",
			},
			[]string{"result"},
		),

		segmentsMatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_matched_total",
				Help:      "Total number of segment conditions that matched",
			},
		),
		segmentErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segment_errors_total",
				Help:      "Total number of segment conditions that failed to evaluate",
			},
		),
		profilesMerged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "profiles_merged_total",
				Help:      "Total number of duplicate profiles folded into a canonical profile",
			},
		),

		debugRecordsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "debug_records_written_total",
				Help:      "Total number of flow debug records persisted",
			},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		activeInvocations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_invocations",
				Help:      "Current number of workflows being executed",
			},
		),
	}

	registry.MustRegister(
		m.rulesDispatched,
		m.workflowDuration,
		m.ruleCacheLookups,
		m.segmentsMatched,
		m.segmentErrors,
		m.profilesMerged,
		m.debugRecordsWritten,
		m.errorsByClass,
		m.activeInvocations,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRuleDispatched counts one rule invocation.
func (m *Metrics) RecordRuleDispatched(eventType, status string) {
	if !m.enabled() {
		return
	}
	m.rulesDispatched.WithLabelValues(eventType, status).Inc()
}

// RecordWorkflowDuration observes how long a workflow ran.
func (m *Metrics) RecordWorkflowDuration(eventType string, seconds float64) {
	if !m.enabled() {
		return
	}
	m.workflowDuration.WithLabelValues(eventType).Observe(seconds)
}

// RecordRuleCacheLookup counts a cache hit or miss.
func (m *Metrics) RecordRuleCacheLookup(hit bool) {
	if !m.enabled() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ruleCacheLookups.WithLabelValues(result).Inc()
}

// RecordSegmentMatched counts a matching segment.
func (m *Metrics) RecordSegmentMatched() {
	if !m.enabled() {
		return
	}
	m.segmentsMatched.Inc()
}

// RecordSegmentError counts a segment whose condition failed.
func (m *Metrics) RecordSegmentError() {
	if !m.enabled() {
		return
	}
	m.segmentErrors.Inc()
}

// RecordProfilesMerged counts duplicates folded by a merge.
func (m *Metrics) RecordProfilesMerged(n int) {
	if !m.enabled() || n <= 0 {
		return
	}
	m.profilesMerged.Add(float64(n))
}

// RecordDebugRecordsWritten counts persisted debug records.
func (m *Metrics) RecordDebugRecordsWritten(n int) {
	if !m.enabled() || n <= 0 {
		return
	}
	m.debugRecordsWritten.Add(float64(n))
}

// RecordError increments the error counter for class.
func (m *Metrics) RecordError(class string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// IncActiveInvocations marks a workflow as started.
func (m *Metrics) IncActiveInvocations() {
	if !m.enabled() {
		return
	}
	m.activeInvocations.Inc()
}

// DecActiveInvocations marks a workflow as finished.
func (m *Metrics) DecActiveInvocations() {
	if !m.enabled() {
		return
	}
	m.activeInvocations.Dec()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on observer.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MetricsServer serves the metrics endpoint until shut down.
type MetricsServer struct {
	server *http.Server
	errCh  chan error
}

// StartMetricsServer starts an HTTP server exposing metrics. It returns nil
// when metrics are disabled.
func (m *Metrics) StartMetricsServer() *MetricsServer {
	if !m.enabled() {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	s := &MetricsServer{
		server: &http.Server{
			Addr:              m.config.ListenAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		errCh: make(chan error, 1),
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
		close(s.errCh)
	}()

	return s
}

// Errors reports a listen failure. The channel closes when the server stops.
func (s *MetricsServer) Errors() <-chan error {
	return s.errCh
}

// Shutdown stops the server gracefully.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
