// Package observability collects Prometheus metrics for the agent runtime.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the centralized metric set for the runtime.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.ToolInvocations.WithLabelValues("read_file", "success").Inc()
type Metrics struct {
	// ToolInvocations counts tool calls by name and status
	// (success|error|blocked).
	ToolInvocations *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds by tool name.
	ToolDuration *prometheus.HistogramVec

	// BreakerTrips counts circuit breaker interventions by rule
	// (same_params|same_tool|window_frequency).
	BreakerTrips *prometheus.CounterVec

	// LLMIterations counts reasoning-loop iterations by provider.
	LLMIterations *prometheus.CounterVec

	// GatewayReconnects counts transport reconnection attempts by outcome
	// (success|failure).
	GatewayReconnects *prometheus.CounterVec

	// OutboundDropped counts non-critical envelopes dropped under
	// backpressure, by event type.
	OutboundDropped *prometheus.CounterVec

	// MemoryPersistBytes measures the size of persisted conversation
	// suffixes in bytes.
	MemoryPersistBytes prometheus.Histogram

	// ActiveTasks is a gauge of tasks currently installed on agents.
	ActiveTasks prometheus.Gauge
}

// NewMetrics registers the runtime metric set on a registerer. A nil
// registerer uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ToolInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mxf_tool_invocations_total",
			Help: "Tool invocations by name and status.",
		}, []string{"tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mxf_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		BreakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mxf_breaker_trips_total",
			Help: "Circuit breaker interventions by rule.",
		}, []string{"rule"}),

		LLMIterations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mxf_llm_iterations_total",
			Help: "Reasoning loop iterations by provider.",
		}, []string{"provider"}),

		GatewayReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mxf_gateway_reconnects_total",
			Help: "Transport reconnection attempts by outcome.",
		}, []string{"outcome"}),

		OutboundDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mxf_outbound_dropped_total",
			Help: "Non-critical envelopes dropped under backpressure.",
		}, []string{"event_type"}),

		MemoryPersistBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mxf_memory_persist_bytes",
			Help:    "Size of persisted conversation suffixes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),

		ActiveTasks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mxf_active_tasks",
			Help: "Tasks currently installed on agents.",
		}),
	}
}

// Nop returns a metric set bound to a throwaway registry, for tests and
// components constructed without observability wiring.
func Nop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
