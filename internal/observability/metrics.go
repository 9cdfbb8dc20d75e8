package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BrokerMetrics tracks connection and fanout activity on the stream broker.
type BrokerMetrics struct {
	// ActiveConnections gauges currently open websocket connections.
	ActiveConnections prometheus.Gauge

	// MessagesReceived counts inbound frames by message type.
	MessagesReceived *prometheus.CounterVec

	// FanoutDelivered counts frames delivered to subscribers by topic.
	FanoutDelivered *prometheus.CounterVec

	// FanoutDropped counts frames dropped on slow subscribers by topic.
	FanoutDropped *prometheus.CounterVec

	// PingLatency measures estimated round-trip latency in seconds.
	PingLatency prometheus.Histogram
}

// ToolMetrics tracks execution manager activity.
type ToolMetrics struct {
	// ExecutionsStarted counts accepted tool_calls by tool.
	ExecutionsStarted *prometheus.CounterVec

	// ExecutionsFinished counts terminal results by tool and status.
	ExecutionsFinished *prometheus.CounterVec

	// ExecutionsRejected counts rejected tool_calls by error code.
	ExecutionsRejected *prometheus.CounterVec

	// ExecutionDuration measures acceptance-to-terminal time in seconds.
	ExecutionDuration *prometheus.HistogramVec
}

// EngineMetrics tracks module host activity.
type EngineMetrics struct {
	// ModuleUpdates counts update cycles by module and outcome.
	ModuleUpdates *prometheus.CounterVec

	// PublishCycles counts negotiation snapshots published to the broker.
	PublishCycles prometheus.Counter

	// ModulesLoaded gauges currently hosted modules by status.
	ModulesLoaded *prometheus.GaugeVec
}

// Metrics bundles all component metrics for one process.
type Metrics struct {
	Broker *BrokerMetrics
	Tools  *ToolMetrics
	Engine *EngineMetrics
}

// NewMetrics registers all metrics with the given registerer. Pass nil to
// use the default prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Broker: &BrokerMetrics{
			ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
				Name: "comms_broker_connections",
				Help: "Currently open websocket connections",
			}),
			MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "comms_broker_messages_received_total",
				Help: "Inbound frames by message type",
			}, []string{"type"}),
			FanoutDelivered: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "comms_broker_fanout_delivered_total",
				Help: "Frames delivered to subscribers by topic",
			}, []string{"topic"}),
			FanoutDropped: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "comms_broker_fanout_dropped_total",
				Help: "Frames dropped on slow subscribers by topic",
			}, []string{"topic"}),
			PingLatency: factory.NewHistogram(prometheus.HistogramOpts{
				Name:    "comms_broker_ping_latency_seconds",
				Help:    "Estimated connection round-trip latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			}),
		},
		Tools: &ToolMetrics{
			ExecutionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "comms_tool_executions_started_total",
				Help: "Accepted tool_call messages by tool",
			}, []string{"tool"}),
			ExecutionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "comms_tool_executions_finished_total",
				Help: "Terminal tool results by tool and status",
			}, []string{"tool", "status"}),
			ExecutionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "comms_tool_executions_rejected_total",
				Help: "Rejected tool_call messages by error code",
			}, []string{"code"}),
			ExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "comms_tool_execution_duration_seconds",
				Help:    "Tool execution time from acceptance to terminal result",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			}, []string{"tool"}),
		},
		Engine: &EngineMetrics{
			ModuleUpdates: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "comms_engine_module_updates_total",
				Help: "Module update cycles by module and outcome",
			}, []string{"module", "outcome"}),
			PublishCycles: factory.NewCounter(prometheus.CounterOpts{
				Name: "comms_engine_publish_cycles_total",
				Help: "Negotiation snapshots published to the broker",
			}),
			ModulesLoaded: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: "comms_engine_modules",
				Help: "Hosted modules by status",
			}, []string{"status"}),
		},
	}
}
