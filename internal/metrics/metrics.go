// Package metrics provides Prometheus metrics collection for the supportchat application.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UserConnections tracks the current number of live user WebSocket connections
	UserConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supportchat_user_connections_total",
		Help: "Current number of live user WebSocket connections",
	})

	// AgentConnections tracks the current number of live agent WebSocket connections
	AgentConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supportchat_agent_connections_total",
		Help: "Current number of live agent WebSocket connections",
	})

	// MessagesRouted tracks the total number of messages routed by sender type
	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_messages_routed_total",
		Help: "Total number of messages routed by sender type",
	}, []string{"sender"})

	// MessagesDelivered tracks the total number of envelopes delivered to live connections
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_messages_delivered_total",
		Help: "Total number of envelopes delivered to live connections",
	})

	// DroppedDeliveries tracks envelopes dropped because a send queue was full or closing
	DroppedDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_dropped_deliveries_total",
		Help: "Total number of envelopes dropped on saturated or closing connections",
	})

	// ActiveSessions tracks the current number of sessions in Active or PendingAgent status
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supportchat_active_sessions_total",
		Help: "Current number of sessions awaiting or receiving live handling",
	})

	// SessionsCreated tracks the total number of sessions created
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_sessions_created_total",
		Help: "Total number of chat sessions created",
	})

	// SessionsResolved tracks the total number of sessions closed as resolved
	SessionsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_sessions_resolved_total",
		Help: "Total number of chat sessions resolved",
	})

	// Escalations tracks the total number of escalation requests
	Escalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_escalations_total",
		Help: "Total number of sessions escalated to human handling",
	})

	// AgentJoins tracks the total number of agent session joins
	AgentJoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_agent_joins_total",
		Help: "Total number of agent session joins",
	})

	// Broadcasts tracks the total number of fan-out broadcasts to agent connections
	Broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_broadcasts_total",
		Help: "Total number of fan-out broadcasts to agent connections",
	})

	// MessageErrors tracks the total number of message processing errors
	MessageErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_message_errors_total",
		Help: "Total number of message processing errors",
	})

	// StoreFailures tracks the total number of durable store failures surfaced to senders
	StoreFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_store_failures_total",
		Help: "Total number of durable store failures surfaced to senders",
	})

	// StoreLatency tracks the latency of durable store operations
	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supportchat_store_latency_seconds",
		Help:    "Latency of durable store operations in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// EventBusPublishes tracks events published to the cross-process event bus
	EventBusPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_event_bus_publishes_total",
		Help: "Total number of events published to the cross-process event bus",
	}, []string{"kind"})

	// HTTPRequestDuration tracks the duration of HTTP requests by endpoint and method
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supportchat_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method"})
)
