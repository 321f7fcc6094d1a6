package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the orchestrator.
//
// Tracked series:
//   - Session outcomes, for alerting on failure/timeout rates
//   - Loop iterations per session, to watch budget pressure
//   - Reasoning call latency and status per provider/model
//   - Tool execution counts and latency
//   - Delivered chunk counts
type Metrics struct {
	// SessionOutcomes counts finished sessions.
	// Labels: outcome (final_content|messages_delivered|timed_out|cancelled|failed)
	SessionOutcomes *prometheus.CounterVec

	// LoopIterations observes iterations consumed per session.
	LoopIterations prometheus.Histogram

	// ReasoningDuration measures reasoning call latency in seconds.
	// Labels: provider, model
	ReasoningDuration *prometheus.HistogramVec

	// ReasoningCalls counts reasoning calls.
	// Labels: provider, status (ok|error|timeout)
	ReasoningCalls *prometheus.CounterVec

	// ToolExecutions counts tool invocations. Timed-out and failed calls
	// both count as error; the result fed back to the model is the same.
	// Labels: tool, status (ok|error)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// ChunksDelivered counts outbound delivery chunks.
	// Labels: status (ok|error|fallback|dropped)
	ChunksDelivered *prometheus.CounterVec
}

// NewMetrics creates and registers metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates metrics on a custom registerer.
// Tests use a fresh registry to avoid duplicate registration panics.
func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "factotum_session_outcomes_total",
			Help: "Finished sessions by outcome.",
		}, []string{"outcome"}),

		LoopIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "factotum_loop_iterations",
			Help:    "Loop iterations consumed per session.",
			Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
		}),

		ReasoningDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "factotum_reasoning_duration_seconds",
			Help:    "Reasoning call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		ReasoningCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "factotum_reasoning_calls_total",
			Help: "Reasoning calls by status.",
		}, []string{"provider", "status"}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "factotum_tool_executions_total",
			Help: "Tool invocations by status.",
		}, []string{"tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "factotum_tool_duration_seconds",
			Help:    "Tool execution time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		ChunksDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "factotum_chunks_delivered_total",
			Help: "Outbound delivery chunks by status.",
		}, []string{"status"}),
	}
}
