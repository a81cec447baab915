package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Render requests by change kind and outcome
//   - Renderer API latency per endpoint
//   - Background job poll outcomes
//   - Recovery snapshots, restores and quota degradations
//   - Active visualization sessions and HTTP traffic
//
// All methods are safe to call on a nil *Metrics, which lets components run
// without instrumentation in tests.
type Metrics struct {
	// RenderCounter counts visualization renders.
	// Labels: kind (initial|additive|reset|quality|instruction|angle|edit), status (success|error|clarification|stale)
	RenderCounter *prometheus.CounterVec

	// RenderDuration measures end-to-end render latency in seconds.
	// Labels: kind
	RenderDuration *prometheus.HistogramVec

	// RendererRequestDuration measures renderer API call latency in seconds.
	// Labels: endpoint, status (success|error)
	RendererRequestDuration *prometheus.HistogramVec

	// HistoryDepth tracks the undo stack depth of the most recently updated session.
	HistoryDepth prometheus.Histogram

	// PollOutcomes counts terminal furniture-removal poll states.
	// Labels: outcome (completed|failed|not_found|errored|timed_out|cancelled)
	PollOutcomes *prometheus.CounterVec

	// RecoveryCounter counts recovery bridge operations.
	// Labels: operation (capture|restore|discard|quota_drop|prune), status (success|error)
	RecoveryCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking open visualization sessions.
	ActiveSessions prometheus.Gauge

	// SessionDuration measures session lifetime in seconds.
	SessionDuration prometheus.Histogram

	// ErrorCounter tracks errors by component and type.
	// Labels: component, error_type
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures storage query latency.
	// Labels: operation, table
	DatabaseQueryDuration *prometheus.HistogramVec

	// MaintenanceRuns counts scheduled maintenance task runs.
	// Labels: task, status (success|error)
	MaintenanceRuns *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
// A nil registerer uses the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RenderCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomviz_renders_total",
				Help: "Total number of visualization renders by kind and status",
			},
			[]string{"kind", "status"},
		),

		RenderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomviz_render_duration_seconds",
				Help:    "Duration of visualization renders in seconds",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),

		RendererRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomviz_renderer_request_duration_seconds",
				Help:    "Duration of renderer API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		HistoryDepth: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "roomviz_history_depth",
				Help:    "Undo history depth observed after each push",
				Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
			},
		),

		PollOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomviz_furniture_removal_polls_total",
				Help: "Terminal furniture-removal poll outcomes",
			},
			[]string{"outcome"},
		),

		RecoveryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomviz_recovery_operations_total",
				Help: "Recovery bridge operations by type and status",
			},
			[]string{"operation", "status"},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "roomviz_active_sessions",
				Help: "Current number of open visualization sessions",
			},
		),

		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "roomviz_session_duration_seconds",
				Help:    "Duration of visualization sessions in seconds",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400},
			},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomviz_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomviz_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomviz_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomviz_database_query_duration_seconds",
				Help:    "Duration of storage queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		MaintenanceRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomviz_maintenance_runs_total",
				Help: "Scheduled maintenance task runs by task and status",
			},
			[]string{"task", "status"},
		),
	}
}

// RecordRender records a render outcome and its latency.
func (m *Metrics) RecordRender(kind, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RenderCounter.WithLabelValues(kind, status).Inc()
	if status == "success" {
		m.RenderDuration.WithLabelValues(kind).Observe(durationSeconds)
	}
}

// RecordRendererRequest records a single renderer API call.
func (m *Metrics) RecordRendererRequest(endpoint, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RendererRequestDuration.WithLabelValues(endpoint, status).Observe(durationSeconds)
}

// ObserveHistoryDepth records the undo stack depth after a push.
func (m *Metrics) ObserveHistoryDepth(depth int) {
	if m == nil {
		return
	}
	m.HistoryDepth.Observe(float64(depth))
}

// RecordPollOutcome counts a terminal poll state.
func (m *Metrics) RecordPollOutcome(outcome string) {
	if m == nil {
		return
	}
	m.PollOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRecovery counts a recovery bridge operation.
func (m *Metrics) RecordRecovery(operation, status string) {
	if m == nil {
		return
	}
	m.RecoveryCounter.WithLabelValues(operation, status).Inc()
}

// RecordMaintenance counts a maintenance task run.
func (m *Metrics) RecordMaintenance(task, status string) {
	if m == nil {
		return
	}
	m.MaintenanceRuns.WithLabelValues(task, status).Inc()
}

// SessionOpened increments the active sessions gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionClosed decrements the active sessions gauge and records the lifetime.
func (m *Metrics) SessionClosed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records the latency of a storage query.
func (m *Metrics) RecordDatabaseQuery(operation, table string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}
