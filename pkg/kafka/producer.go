package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/aster/pkg/metrics"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

// Event types published by the service.
const (
	EventMessageCreated       = "message.created"
	EventMessageStatusChanged = "message.status_changed"
	EventConnectionChanged    = "channel.connection_changed"
)

// Config holds Kafka configuration
type Config struct {
	Brokers         []string
	MessageTopic    string
	ConnectionTopic string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, messageTopic string, connectionTopic string) Config {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	return Config{
		Brokers:         brokerList,
		MessageTopic:    messageTopic,
		ConnectionTopic: connectionTopic,
	}
}

// Producer handles producing messages to Kafka
type Producer struct {
	messageWriter    *kafka.Writer
	connectionWriter *kafka.Writer
	logger           ectologger.Logger
	messageTopic     string
	connectionTopic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	messageWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.MessageTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Allow Kafka to auto-create the topic in dev environments when it doesn't exist yet.
		// Without this, a first publish may fail with "Unknown Topic Or Partition".
		AllowAutoTopicCreation: true,
	}

	connectionWriter := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.ConnectionTopic,
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		messageWriter:    messageWriter,
		connectionWriter: connectionWriter,
		logger:           logger,
		messageTopic:     cfg.MessageTopic,
		connectionTopic:  cfg.ConnectionTopic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	var firstErr error
	if err := p.messageWriter.Close(); err != nil {
		firstErr = err
	}
	if p.connectionWriter != nil {
		if err := p.connectionWriter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MessageEvent is published whenever a canonical message is created or its
// delivery status changes.
type MessageEvent struct {
	Type      string    `json:"type"`
	TenantID  string    `json:"tenant_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	Provider  string    `json:"provider"`
	MessageID uuid.UUID `json:"message_id"`
	SourceID  string    `json:"source_id,omitempty"`
	Direction string    `json:"direction,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Tracing
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// ConnectionEvent is published whenever a channel's connection state changes.
// Downstream consumers use these to surface channel health in the UI.
type ConnectionEvent struct {
	Type      string    `json:"type"`
	TenantID  string    `json:"tenant_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	Provider  string    `json:"provider"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// PublishMessageCreated publishes a message.created event for a freshly
// persisted canonical message.
func (p *Producer) PublishMessageCreated(ctx context.Context, tenantID string, msg *models.Message, provider models.ProviderKind) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	evt := &MessageEvent{
		Type:      EventMessageCreated,
		TenantID:  tenantID,
		ChannelID: msg.ChannelID,
		Provider:  string(provider),
		MessageID: msg.ID,
		SourceID:  msg.SourceID,
		Direction: string(msg.Direction),
		Status:    string(msg.Status),
	}
	return p.publishMessageEvent(ctx, evt)
}

// PublishMessageStatusChanged publishes a message.status_changed event after
// a delivery status transition is applied.
func (p *Producer) PublishMessageStatusChanged(ctx context.Context, tenantID string, msg *models.Message, provider models.ProviderKind) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	evt := &MessageEvent{
		Type:      EventMessageStatusChanged,
		TenantID:  tenantID,
		ChannelID: msg.ChannelID,
		Provider:  string(provider),
		MessageID: msg.ID,
		SourceID:  msg.SourceID,
		Status:    string(msg.Status),
	}
	return p.publishMessageEvent(ctx, evt)
}

func (p *Producer) publishMessageEvent(ctx context.Context, evt *MessageEvent) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishMessageEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.messageTopic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("tenant_id", evt.TenantID),
		attribute.String("channel_id", evt.ChannelID.String()),
		attribute.String("event_type", evt.Type),
	)

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.TraceID = tracing.GetTraceID(ctx)
	evt.SpanID = tracing.GetSpanID(ctx)

	data, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal event")
		return fmt.Errorf("failed to marshal message event: %w", err)
	}

	// Key on tenant + channel so all events for one channel stay ordered.
	key := fmt.Sprintf("%s:%s", evt.TenantID, evt.ChannelID)

	headers := []kafka.Header{
		{Key: "tenant_id", Value: []byte(evt.TenantID)},
		{Key: "channel_id", Value: []byte(evt.ChannelID.String())},
		{Key: "provider", Value: []byte(evt.Provider)},
		{Key: "type", Value: []byte(evt.Type)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	if err := p.messageWriter.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish event")
		metrics.RecordKafkaPublish(p.messageTopic, "error")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", p.messageTopic)
		return err
	}

	span.SetStatus(codes.Ok, "event published")
	metrics.RecordKafkaPublish(p.messageTopic, "ok")
	p.logger.WithContext(ctx).Debugf("Published %s to Kafka: channel=%s message=%s trace=%s",
		evt.Type, evt.ChannelID, evt.MessageID, evt.TraceID)

	return nil
}

// PublishConnectionChanged publishes a channel.connection_changed event.
func (p *Producer) PublishConnectionChanged(ctx context.Context, tenantID string, channel *models.Channel) error {
	if channel == nil {
		return fmt.Errorf("channel is nil")
	}

	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishConnectionChanged")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.connectionTopic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("tenant_id", tenantID),
		attribute.String("channel_id", channel.ID.String()),
	)

	conn := channel.ProviderConnection.Data
	evt := &ConnectionEvent{
		Type:      EventConnectionChanged,
		TenantID:  tenantID,
		ChannelID: channel.ID,
		Provider:  string(channel.Provider),
		State:     string(channel.ConnectionState()),
		Error:     conn.Error,
		Timestamp: time.Now().UTC(),
		TraceID:   tracing.GetTraceID(ctx),
		SpanID:    tracing.GetSpanID(ctx),
	}

	data, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal event")
		return fmt.Errorf("failed to marshal connection event: %w", err)
	}

	key := fmt.Sprintf("%s:%s", tenantID, channel.ID)

	headers := []kafka.Header{
		{Key: "tenant_id", Value: []byte(tenantID)},
		{Key: "channel_id", Value: []byte(channel.ID.String())},
		{Key: "provider", Value: []byte(channel.Provider)},
		{Key: "type", Value: []byte(evt.Type)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	if p.connectionWriter == nil {
		return fmt.Errorf("connectionWriter is nil (connection topic not configured)")
	}

	if err := p.connectionWriter.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish event")
		metrics.RecordKafkaPublish(p.connectionTopic, "error")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", p.connectionTopic)
		return err
	}

	span.SetStatus(codes.Ok, "event published")
	metrics.RecordKafkaPublish(p.connectionTopic, "ok")
	p.logger.WithContext(ctx).Debugf("Published %s to Kafka: channel=%s state=%s trace=%s",
		evt.Type, channel.ID, evt.State, evt.TraceID)
	return nil
}

// Stats returns producer statistics
func (p *Producer) Stats() kafka.WriterStats {
	return p.messageWriter.Stats()
}
