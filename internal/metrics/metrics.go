// Package metrics defines Prometheus metrics for the realtime channel.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractdesk_realtime_events_dispatched_total",
			Help: "Events delivered to subscribers by type",
		},
		[]string{"type"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractdesk_realtime_events_dropped_total",
			Help: "Frames dropped before dispatch by reason (decode, security, stale)",
		},
		[]string{"reason"},
	)

	SubscriberPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "contractdesk_realtime_subscriber_panics_total",
			Help: "Subscriber callbacks recovered from panic",
		},
	)

	Reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "contractdesk_realtime_reconnects_total",
			Help: "Connection attempts after a failure",
		},
	)

	ConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "contractdesk_realtime_connection_state",
			Help: "Current connection state (0 idle .. 5 closed)",
		},
	)

	OutboundQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "contractdesk_realtime_outbound_queue_depth",
			Help: "Messages waiting for transport availability",
		},
	)

	OutboundEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractdesk_realtime_outbound_evicted_total",
			Help: "Outbound messages evicted on queue overflow by class",
		},
		[]string{"class"},
	)

	SimConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "contractdesk_realtime_simulator_connections",
			Help: "Active simulator WebSocket connections",
		},
	)

	SimEventsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractdesk_realtime_simulator_events_sent_total",
			Help: "Synthetic events emitted by the simulator by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsDispatched, EventsDropped, SubscriberPanics,
		Reconnects, ConnectionState,
		OutboundQueueDepth, OutboundEvicted,
		SimConnections, SimEventsSent,
	)
}
