package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace is the common Prometheus namespace for every fabric metric.
const Namespace = "capfabric"

var (
	// HTTPRequestDuration tracks latency of the two exposed edge endpoints.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// TokensMintedTotal counts capability tokens minted, by tenant.
	TokensMintedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "captoken",
			Name:      "minted_total",
			Help:      "Capability tokens minted.",
		},
		[]string{"tenant"},
	)

	// AccessDecisionsTotal counts access-controller decisions by outcome.
	AccessDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "access",
			Name:      "decisions_total",
			Help:      "Access controller decisions.",
		},
		[]string{"decision", "reason"},
	)

	// APIKeyValidationsTotal counts API key validation outcomes.
	APIKeyValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "apikey",
			Name:      "validations_total",
			Help:      "API key validation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// EventsEmittedTotal counts events appended to the bus, by type.
	EventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "eventbus",
			Name:      "events_emitted_total",
			Help:      "Events appended to the tenant event bus.",
		},
		[]string{"type"},
	)

	// AutomationExecutionsTotal counts automation executions by terminal state.
	AutomationExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "automation",
			Name:      "executions_total",
			Help:      "Automation executions by terminal state.",
		},
		[]string{"state"},
	)

	// IntegrationCallsTotal counts outbound integration proxy calls.
	IntegrationCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "integration",
			Name:      "calls_total",
			Help:      "Integration proxy calls by integration id and outcome.",
		},
		[]string{"integration_id", "outcome"},
	)

	// MCPToolInvocationsTotal counts MCP tool dispatches.
	MCPToolInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mcp",
			Name:      "tool_invocations_total",
			Help:      "MCP tool invocations by server and outcome.",
		},
		[]string{"server", "outcome"},
	)
)

// All returns every fabric-specific collector, for registration alongside
// the shared HTTPRequestDuration histogram.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		TokensMintedTotal,
		AccessDecisionsTotal,
		APIKeyValidationsTotal,
		EventsEmittedTotal,
		AutomationExecutionsTotal,
		IntegrationCallsTotal,
		MCPToolInvocationsTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and every fabric collector.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(HTTPRequestDuration)
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
