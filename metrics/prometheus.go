// Package metrics provides Prometheus metrics for the evaluation engine.
//
// All recorders are safe to call on a nil *Manager, so components can run
// without metrics wired (tests, tools).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every collector of the engine.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	// Workflow
	submissions     *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	recordsDeleted  prometheus.Counter
	cascaded        prometheus.Counter
	cascadeFailures prometheus.Counter
	bulkApproved    prometheus.Counter
	stragglersSwept prometheus.Counter
	storageLatency  *prometheus.HistogramVec

	// Reconciliation
	refreshes         prometheus.Counter
	refreshSuppressed prometheus.Counter
	inFlightRefusals  prometheus.Counter
	rollbacks         prometheus.Counter
	tombstones        prometheus.Gauge
	sessions          prometheus.Gauge

	// Notification
	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	subscribers     prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates a manager registered on its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "evallock",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.submissions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "workflow",
		Name:      "submissions_total",
		Help:      "Submissions by kind and outcome",
	}, []string{"kind", "outcome"})

	m.resolutions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "workflow",
		Name:      "resolutions_total",
		Help:      "Unlock request resolutions by action and outcome",
	}, []string{"action", "outcome"})

	m.recordsDeleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "workflow",
		Name:      "records_deleted_total",
		Help:      "Evaluation records deleted by approved unlock requests",
	})

	m.cascaded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "workflow",
		Name:      "cascaded_requests_total",
		Help:      "Sibling unlock requests approved by cascade",
	})

	m.cascadeFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "workflow",
		Name:      "cascade_failures_total",
		Help:      "Cascades that failed after the primary approval committed",
	})

	m.bulkApproved = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "workflow",
		Name:      "bulk_approved_records_total",
		Help:      "Records moved to approved by bulk approval",
	})

	m.stragglersSwept = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "workflow",
		Name:      "stragglers_swept_total",
		Help:      "Pending siblings approved by the straggler sweep",
	})

	m.storageLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "workflow",
		Name:      "operation_duration_seconds",
		Help:      "Workflow operation latency",
		Buckets:   m.histogramBuckets,
	}, []string{"op"})

	m.refreshes = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "reconcile",
		Name:      "refreshes_total",
		Help:      "Session refreshes",
	})

	m.refreshSuppressed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "reconcile",
		Name:      "suppressed_rows_total",
		Help:      "Stale pending rows hidden by tombstones",
	})

	m.inFlightRefusals = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "reconcile",
		Name:      "inflight_refusals_total",
		Help:      "Actions refused because the session was busy",
	})

	m.rollbacks = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "reconcile",
		Name:      "rollbacks_total",
		Help:      "Optimistic actions rolled back after failure",
	})

	m.tombstones = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "reconcile",
		Name:      "tombstones",
		Help:      "Tombstone entries held across all sessions",
	})

	m.sessions = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "reconcile",
		Name:      "sessions",
		Help:      "Open reviewing sessions",
	})

	m.eventsPublished = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "notify",
		Name:      "events_published_total",
		Help:      "Change events published by table",
	}, []string{"table"})

	m.eventsDropped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "notify",
		Name:      "events_dropped_total",
		Help:      "Change events dropped on full subscriber buffers",
	}, []string{"table"})

	m.subscribers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "notify",
		Name:      "subscribers",
		Help:      "Active notification subscriptions",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   m.histogramBuckets,
	}, []string{"route", "method"})

	m.registry.MustRegister(collectors.NewGoCollector())
}

// Handler exposes the registry for scraping.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// =============================================================================
// RECORDERS
// =============================================================================

func (m *Manager) RecordSubmission(kind, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(kind, outcome).Inc()
}

func (m *Manager) RecordResolution(action, outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(action, outcome).Inc()
}

func (m *Manager) RecordRecordDeleted() {
	if m == nil {
		return
	}
	m.recordsDeleted.Inc()
}

func (m *Manager) RecordCascade(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cascaded.Add(float64(n))
}

func (m *Manager) RecordCascadeFailure() {
	if m == nil {
		return
	}
	m.cascadeFailures.Inc()
}

func (m *Manager) RecordBulkApproved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bulkApproved.Add(float64(n))
}

func (m *Manager) RecordStragglersSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.stragglersSwept.Add(float64(n))
}

func (m *Manager) ObserveOperation(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.storageLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Manager) RecordRefresh(suppressed int) {
	if m == nil {
		return
	}
	m.refreshes.Inc()
	if suppressed > 0 {
		m.refreshSuppressed.Add(float64(suppressed))
	}
}

func (m *Manager) RecordInFlightRefusal() {
	if m == nil {
		return
	}
	m.inFlightRefusals.Inc()
}

func (m *Manager) RecordRollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

func (m *Manager) AddTombstones(delta int) {
	if m == nil {
		return
	}
	m.tombstones.Add(float64(delta))
}

func (m *Manager) AddSessions(delta int) {
	if m == nil {
		return
	}
	m.sessions.Add(float64(delta))
}

func (m *Manager) RecordEventPublished(table string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(table).Inc()
}

func (m *Manager) RecordEventDropped(table string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(table).Inc()
}

func (m *Manager) AddSubscribers(delta int) {
	if m == nil {
		return
	}
	m.subscribers.Add(float64(delta))
}

func (m *Manager) RecordHTTPRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
