package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Relay metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Realtime connections currently attached",
		},
	)

	ParticipantsOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_participants_online",
			Help: "Connections that completed the join protocol",
		},
	)

	RelayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_events_total",
			Help: "Inbound realtime events processed",
		},
		[]string{"type"},
	)

	DeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_relay_delivery_failures_total",
			Help: "Outbound events that could not be queued for a connection",
		},
	)

	// Pipeline metrics
	MessagesAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_admitted_total",
			Help: "Message submissions by result",
		},
		[]string{"result"}, // "ok", "invalid", "duplicate", "error"
	)

	RetentionDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_retention_deleted_total",
			Help: "Messages removed by the retention policy",
		},
		[]string{"reason"}, // "age" or "count"
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_store_latency_seconds",
			Help:    "Retention store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"op"},
	)
)
