// Package metrics declares the Prometheus collectors exported by the hub,
// the WebSocket transport and the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry Metrics
var (
	// ConnectionsCurrent tracks connections currently registered with the hub
	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomchat_connections_current",
			Help: "Connections currently registered with the hub",
		},
	)

	// RoomsCurrent tracks rooms with at least one member
	RoomsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomchat_rooms_current",
			Help: "Rooms that currently have at least one member",
		},
	)

	// SessionsTotal tracks finished session loops by outcome (closed/error/panic)
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_sessions_total",
			Help: "Finished session loops by outcome",
		},
		[]string{"outcome"},
	)
)

// Broadcast Metrics
var (
	// MessagesBroadcast tracks accepted inbound messages by audience scope (room/global)
	MessagesBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_messages_broadcast_total",
			Help: "Inbound messages fanned out, by audience scope",
		},
		[]string{"scope"},
	)

	// Deliveries tracks per-recipient send attempts by result (ok/unreachable)
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_deliveries_total",
			Help: "Per-recipient send attempts by result",
		},
		[]string{"result"},
	)

	// MalformedMessages tracks inbound payloads dropped because they failed to decode
	MalformedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_malformed_messages_total",
			Help: "Inbound payloads dropped because they are not valid envelopes",
		},
	)

	// RecipientsEvicted tracks connections removed after a failed send
	RecipientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_recipients_evicted_total",
			Help: "Connections removed from the hub after a failed send",
		},
	)

	// RateLimitedMessages tracks inbound messages discarded by the per-connection limiter
	RateLimitedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_rate_limited_messages_total",
			Help: "Inbound messages discarded by the per-connection rate limiter",
		},
	)
)

// Relay Metrics
var (
	// RelayMessages tracks relay traffic by direction (published/received) and result
	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_relay_messages_total",
			Help: "Cross-instance relay messages by direction and result",
		},
		[]string{"direction", "result"},
	)

	// RelayBreakerState tracks the relay circuit breaker (0=closed, 1=half-open, 2=open)
	RelayBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomchat_relay_breaker_state",
			Help: "Relay circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)
