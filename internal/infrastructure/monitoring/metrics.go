package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
//
// Each instance owns its registry, so several relays (or several tests) can
// live in one process. All Record/Inc/Set methods are no-ops on a nil
// *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Relay metrics
	RelayConnections *prometheus.GaugeVec
	RelayEnvelopes   *prometheus.CounterVec
	RelayMalformed   prometheus.Counter
	RelayDropped     *prometheus.CounterVec
	RelayPruned      prometheus.Counter

	// Bridge metrics
	RemoteCalls        *prometheus.CounterVec
	RemoteCallDuration *prometheus.HistogramVec

	// Executor metrics
	ExecutorRuns     *prometheus.CounterVec
	ExecutorDuration prometheus.Histogram

	// Orchestrator metrics
	TaskRuns     *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	startTime time.Time
	snapshot  MetricsSnapshot
	mu        sync.RWMutex
}

// MetricsSnapshot holds current metric values for the JSON health API.
type MetricsSnapshot struct {
	ActiveConnections int64 `json:"active_connections"`
	EnvelopesRouted   int64 `json:"envelopes_routed"`
	MalformedDropped  int64 `json:"malformed_dropped"`
	Pruned            int64 `json:"pruned"`
	RemoteCalls       int64 `json:"remote_calls"`
	RemoteTimeouts    int64 `json:"remote_timeouts"`
}

// NewMetrics creates a new metrics collector with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		RelayConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bridge_relay_connections",
				Help: "Number of open relay connections per room",
			},
			[]string{"room"},
		),
		RelayEnvelopes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_relay_envelopes_total",
				Help: "Total number of envelopes routed by the relay",
			},
			[]string{"event"},
		),
		RelayMalformed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_relay_malformed_total",
				Help: "Total number of malformed envelopes dropped",
			},
		),
		RelayDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_relay_dropped_total",
				Help: "Total number of frames dropped because a peer queue was full",
			},
			[]string{"room"},
		),
		RelayPruned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_relay_pruned_total",
				Help: "Total number of connections closed for missing a liveness probe",
			},
		),

		RemoteCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_remote_calls_total",
				Help: "Total number of remote calls by outcome",
			},
			[]string{"outcome"},
		),
		RemoteCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_remote_call_duration_seconds",
				Help:    "Remote call duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),

		ExecutorRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_executor_runs_total",
				Help: "Total number of executed requests by outcome",
			},
			[]string{"outcome"},
		),
		ExecutorDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bridge_executor_run_duration_seconds",
				Help:    "Sandbox execution time in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),

		TaskRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_task_runs_total",
				Help: "Total number of orchestrated task runs",
			},
			[]string{"task", "status"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_task_duration_seconds",
				Help:    "Orchestrated task duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"task"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "bridge_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry exposes the underlying Prometheus registry. A nil Metrics has an
// empty one.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	registry := m.Registry()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Snapshot returns a copy of the JSON snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Uptime returns the time since the collector was created.
func (m *Metrics) Uptime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ConnectionOpened records a relay connection joining room.
func (m *Metrics) ConnectionOpened(room string) {
	if m == nil {
		return
	}
	m.RelayConnections.WithLabelValues(room).Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// ConnectionClosed records a relay connection leaving room.
func (m *Metrics) ConnectionClosed(room string) {
	if m == nil {
		return
	}
	m.RelayConnections.WithLabelValues(room).Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// RecordEnvelope records a routed envelope.
func (m *Metrics) RecordEnvelope(event string) {
	if m == nil {
		return
	}
	m.RelayEnvelopes.WithLabelValues(event).Inc()
	m.mu.Lock()
	m.snapshot.EnvelopesRouted++
	m.mu.Unlock()
}

// IncMalformed records a dropped malformed envelope.
func (m *Metrics) IncMalformed() {
	if m == nil {
		return
	}
	m.RelayMalformed.Inc()
	m.mu.Lock()
	m.snapshot.MalformedDropped++
	m.mu.Unlock()
}

// IncDropped records a frame dropped for a slow peer.
func (m *Metrics) IncDropped(room string) {
	if m == nil {
		return
	}
	m.RelayDropped.WithLabelValues(room).Inc()
}

// IncPruned records a connection closed by the liveness probe.
func (m *Metrics) IncPruned() {
	if m == nil {
		return
	}
	m.RelayPruned.Inc()
	m.mu.Lock()
	m.snapshot.Pruned++
	m.mu.Unlock()
}

// RecordRemoteCall records the outcome of a bridge call.
func (m *Metrics) RecordRemoteCall(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RemoteCalls.WithLabelValues(outcome).Inc()
	m.RemoteCallDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.RemoteCalls++
	if outcome == OutcomeTimeout {
		m.snapshot.RemoteTimeouts++
	}
	m.mu.Unlock()
}

// RecordExecution records a sandbox run on the executor side.
func (m *Metrics) RecordExecution(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ExecutorRuns.WithLabelValues(outcome).Inc()
	m.ExecutorDuration.Observe(duration.Seconds())
}

// RecordTask records an orchestrated task run.
func (m *Metrics) RecordTask(task, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TaskRuns.WithLabelValues(task, status).Inc()
	m.TaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}
