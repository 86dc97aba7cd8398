// Package metrics provides Prometheus metrics for the Aster service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal tracks inbound webhook events by provider, event type and outcome
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "webhooks",
			Name:      "events_total",
			Help:      "Total number of inbound webhook events by provider, event type and outcome",
		},
		[]string{"provider", "event_type", "outcome"},
	)

	// WebhookProcessingDuration tracks inbound event processing duration
	WebhookProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aster",
			Subsystem: "webhooks",
			Name:      "processing_duration_seconds",
			Help:      "Duration of inbound webhook event processing in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "event_type"},
	)

	// DedupSuppressionsTotal tracks duplicate inbound events suppressed by the dedup guard
	DedupSuppressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "dedup",
			Name:      "suppressions_total",
			Help:      "Total number of duplicate inbound events suppressed",
		},
		[]string{"provider"},
	)

	// ProviderHTTPRequestsTotal tracks outbound provider HTTP requests
	ProviderHTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "provider",
			Name:      "http_requests_total",
			Help:      "Total number of outbound provider HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// ProviderHTTPRequestDuration tracks outbound provider HTTP request duration
	ProviderHTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aster",
			Subsystem: "provider",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of outbound provider HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// MessagesPersistedTotal tracks canonical messages persisted by direction
	MessagesPersistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "messages",
			Name:      "persisted_total",
			Help:      "Total number of canonical messages persisted",
		},
		[]string{"provider", "direction"},
	)

	// StatusUpdatesTotal tracks externally-driven status updates by result
	StatusUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "messages",
			Name:      "status_updates_total",
			Help:      "Total number of delivery status updates by result (applied or rejected)",
		},
		[]string{"provider", "result"},
	)

	// ConnectionTransitionsTotal tracks channel connection state transitions
	ConnectionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "connection",
			Name:      "transitions_total",
			Help:      "Total number of channel connection state transitions",
		},
		[]string{"provider", "state"},
	)

	// PairingPollAttemptsTotal tracks QR/pairing code refresh attempts
	PairingPollAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "connection",
			Name:      "pairing_poll_attempts_total",
			Help:      "Total number of QR/pairing code refresh attempts",
		},
		[]string{"outcome"},
	)

	// ReconnectAttemptsTotal tracks synchronous reconnect attempts after provider failures
	ReconnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "connection",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of synchronous reconnect attempts after provider failures",
		},
		[]string{"outcome"},
	)

	// MediaDownloadsTotal tracks inbound media downloads
	MediaDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "media",
			Name:      "downloads_total",
			Help:      "Total number of inbound media downloads",
		},
		[]string{"file_type", "outcome"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordWebhookEvent records an inbound webhook event metric
func RecordWebhookEvent(provider, eventType, outcome string, durationSeconds float64) {
	WebhookEventsTotal.WithLabelValues(provider, eventType, outcome).Inc()
	WebhookProcessingDuration.WithLabelValues(provider, eventType).Observe(durationSeconds)
}

// RecordDedupSuppression records a suppressed duplicate event
func RecordDedupSuppression(provider string) {
	DedupSuppressionsTotal.WithLabelValues(provider).Inc()
}

// RecordProviderHTTPRequest records an outbound provider HTTP request metric
func RecordProviderHTTPRequest(method, statusCode string, durationSeconds float64) {
	ProviderHTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	ProviderHTTPRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordMessagePersisted records a persisted canonical message
func RecordMessagePersisted(provider, direction string) {
	MessagesPersistedTotal.WithLabelValues(provider, direction).Inc()
}

// RecordStatusUpdate records a delivery status update result
func RecordStatusUpdate(provider, result string) {
	StatusUpdatesTotal.WithLabelValues(provider, result).Inc()
}

// RecordConnectionTransition records a connection state transition
func RecordConnectionTransition(provider, state string) {
	ConnectionTransitionsTotal.WithLabelValues(provider, state).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}
