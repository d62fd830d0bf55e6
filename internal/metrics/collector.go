package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/conclave-ai/conclave/types"
)

// Collector registers and records every conclave metric.
type Collector struct {
	// HTTP gateway.
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	wsConnections       prometheus.Gauge

	// Workflow runs.
	workflowRunsTotal   *prometheus.CounterVec
	workflowDuration    *prometheus.HistogramVec
	workflowHaltsTotal  *prometheus.CounterVec
	consensusGatesTotal *prometheus.CounterVec

	// Steps and provider calls.
	stepsTotal           *prometheus.CounterVec
	stepDuration         *prometheus.HistogramVec
	providerCallsTotal   *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec

	// Streaming.
	deltasTotal      *prometheus.CounterVec
	regressionsTotal *prometheus.CounterVec

	// Provider health.
	circuitTransitionsTotal *prometheus.CounterVec

	// Persistence.
	persistDuration *prometheus.HistogramVec
	deferredBacklog prometheus.Gauge

	logger *zap.Logger
}

// NewCollector registers all metric vectors under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.wsConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Number of open event-stream connections",
		},
	)

	c.workflowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of workflow runs",
		},
		[]string{"kind", "outcome"},
	)

	c.workflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	c.workflowHaltsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_halts_total",
			Help:      "Total number of halted workflow runs by reason",
		},
		[]string{"reason"},
	)

	c.consensusGatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_gates_total",
			Help:      "Total number of consensus gate outcomes",
		},
		[]string{"gate"},
	)

	c.stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of executed workflow steps",
		},
		[]string{"step_type", "status"},
	)

	c.stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"step_type"},
	)

	c.providerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Total number of provider calls",
		},
		[]string{"provider", "status"},
	)

	c.providerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Provider call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	c.deltasTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_deltas_total",
			Help:      "Total number of streaming delta events emitted",
		},
		[]string{"provider"},
	)

	c.regressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_regressions_total",
			Help:      "Total number of stream snapshots that shrank beyond tolerance",
		},
		[]string{"provider"},
	)

	c.circuitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_transitions_total",
			Help:      "Total number of provider circuit-breaker state transitions",
		},
		[]string{"provider", "state"},
	)

	c.persistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_duration_seconds",
			Help:      "Store write duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	c.deferredBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deferred_backlog",
			Help:      "Number of persistence tasks waiting in the deferred queue",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one gateway request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ConnectionOpened tracks a new event-stream subscriber.
func (c *Collector) ConnectionOpened() {
	c.wsConnections.Inc()
}

// ConnectionClosed tracks a departed event-stream subscriber.
func (c *Collector) ConnectionClosed() {
	c.wsConnections.Dec()
}

// RecordWorkflowRun records one finished run. An empty halt reason counts
// as a completed run.
func (c *Collector) RecordWorkflowRun(kind string, haltReason types.HaltReason, duration time.Duration) {
	outcome := "completed"
	if haltReason != "" {
		outcome = "halted"
		c.workflowHaltsTotal.WithLabelValues(string(haltReason)).Inc()
	}
	c.workflowRunsTotal.WithLabelValues(kind, outcome).Inc()
	c.workflowDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordConsensusGate records the gate classification of one run.
func (c *Collector) RecordConsensusGate(gate string) {
	c.consensusGatesTotal.WithLabelValues(gate).Inc()
}

// RecordStep records a step reaching a terminal status.
func (c *Collector) RecordStep(stepType, status string, duration time.Duration) {
	c.stepsTotal.WithLabelValues(stepType, status).Inc()
	c.stepDuration.WithLabelValues(stepType).Observe(duration.Seconds())
}

// RecordProviderCall records one upstream provider call.
func (c *Collector) RecordProviderCall(provider, status string, duration time.Duration) {
	c.providerCallsTotal.WithLabelValues(provider, status).Inc()
	c.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordStreamRegression counts a snapshot that regressed beyond tolerance.
func (c *Collector) RecordStreamRegression(provider string) {
	c.regressionsTotal.WithLabelValues(provider).Inc()
}

// RecordCircuitTransition counts a circuit-breaker state change, labeled by
// the state being entered.
func (c *Collector) RecordCircuitTransition(provider, state string) {
	c.circuitTransitionsTotal.WithLabelValues(provider, state).Inc()
}

// RecordPersist records one store write.
func (c *Collector) RecordPersist(operation string, duration time.Duration) {
	c.persistDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetDeferredBacklog publishes the deferred queue depth.
func (c *Collector) SetDeferredBacklog(n int) {
	c.deferredBacklog.Set(float64(n))
}

// Sink wraps next so that streaming and lifecycle events are counted as
// they pass through. The wrapped sink is as concurrency-safe as next.
func (c *Collector) Sink(next types.EventSink) types.EventSink {
	if next == nil {
		next = types.Discard
	}
	return func(ev types.Event) {
		switch ev.Type {
		case types.EventPartialResult:
			c.deltasTotal.WithLabelValues(ev.ProviderID).Inc()
		case types.EventWorkflowStepUpdate:
			c.stepsTotal.WithLabelValues(stepTypeOf(ev.StepID), string(ev.StepStatus)).Inc()
		case types.EventWorkflowComplete:
			if ev.HaltReason != "" {
				c.workflowHaltsTotal.WithLabelValues(string(ev.HaltReason)).Inc()
			}
		}
		next(ev)
	}
}

// stepTypeOf extracts the type prefix from a "type-uuid" step identifier.
func stepTypeOf(stepID string) string {
	for i := 0; i < len(stepID); i++ {
		if stepID[i] == '-' {
			return stepID[:i]
		}
	}
	return stepID
}

// statusClass buckets an HTTP status code for the status label.
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
