package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Config holds Kafka configuration
type Config struct {
	Brokers           []string
	NotificationTopic string
	TraceTopic        string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, notificationTopic string, traceTopic string) Config {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	return Config{
		Brokers:           brokerList,
		NotificationTopic: notificationTopic,
		TraceTopic:        traceTopic,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes notification and trace events to Kafka
type Producer struct {
	notificationWriter messageWriter
	traceWriter        messageWriter
	notificationTopic  string
	traceTopic         string
	logger             ectologger.Logger
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// lets a fresh dev cluster create the topic on first publish
		AllowAutoTopicCreation: true,
	}
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	return &Producer{
		notificationWriter: newWriter(cfg.Brokers, cfg.NotificationTopic),
		traceWriter:        newWriter(cfg.Brokers, cfg.TraceTopic),
		notificationTopic:  cfg.NotificationTopic,
		traceTopic:         cfg.TraceTopic,
		logger:             logger,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	var firstErr error
	if err := p.notificationWriter.Close(); err != nil {
		firstErr = err
	}
	if err := p.traceWriter.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// NotificationMessage is the event emitted for a blocked or failed run
type NotificationMessage struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	Type          string    `json:"type"`
	IntegrationID string    `json:"integration_id"`
	Integration   string    `json:"integration"`
	Description   string    `json:"description"`
	UserID        string    `json:"user_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// TraceStepMessage is the audit event for one recorded step. Its fields are already sanitized.
type TraceStepMessage struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	TrackerID    string    `json:"tracker_id"`
	Position     int       `json:"position"`
	StatusCode   int       `json:"status_code"`
	URL          string    `json:"url"`
	Method       string    `json:"method"`
	PostData     string    `json:"post_data,omitempty"`
	Headers      string    `json:"headers,omitempty"`
	JSONResponse any       `json:"json_response,omitempty"`
	TextResponse string    `json:"text_response,omitempty"`
	Error        string    `json:"error,omitempty"`
	Updated      bool      `json:"updated,omitempty"`
	Timestamp    time.Time `json:"timestamp"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// NewNotificationMessage builds the event for n
func NewNotificationMessage(n *models.Notification) *NotificationMessage {
	msg := &NotificationMessage{
		ID:            n.ID.String(),
		TenantID:      n.TenantID.String(),
		Type:          string(n.Type),
		IntegrationID: n.IntegrationID.String(),
		Integration:   n.ExtraText,
		Description:   n.Description,
		Timestamp:     n.CreatedAt,
	}
	if n.CreatedForID != nil {
		msg.UserID = n.CreatedForID.String()
	}
	return msg
}

// NewTraceStepMessage builds the event for step
func NewTraceStepMessage(step *models.TrackerStep, updated bool) *TraceStepMessage {
	return &TraceStepMessage{
		ID:           step.ID.String(),
		TenantID:     step.TenantID.String(),
		TrackerID:    step.TrackerID.String(),
		Position:     step.Position,
		StatusCode:   step.StatusCode,
		URL:          step.URL,
		Method:       step.Method,
		PostData:     step.PostData,
		Headers:      step.Headers,
		JSONResponse: step.JSONResponse.Data,
		TextResponse: step.TextResponse,
		Error:        step.Error,
		Updated:      updated,
		Timestamp:    time.Now().UTC(),
	}
}

// PublishNotification publishes a notification event keyed by tenant and integration
func (p *Producer) PublishNotification(ctx context.Context, msg *NotificationMessage) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishNotification")
	defer span.End()

	msg.TraceID = tracing.GetTraceID(ctx)
	msg.SpanID = tracing.GetSpanID(ctx)

	key := fmt.Sprintf("%s:%s", msg.TenantID, msg.IntegrationID)
	headers := []kafka.Header{
		{Key: "tenant_id", Value: []byte(msg.TenantID)},
		{Key: "integration_id", Value: []byte(msg.IntegrationID)},
		{Key: "type", Value: []byte(msg.Type)},
	}

	return p.write(ctx, p.notificationWriter, p.notificationTopic, key, headers, msg)
}

// PublishTraceStep publishes a trace step event keyed by tenant and tracker
func (p *Producer) PublishTraceStep(ctx context.Context, msg *TraceStepMessage) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishTraceStep")
	defer span.End()

	msg.TraceID = tracing.GetTraceID(ctx)
	msg.SpanID = tracing.GetSpanID(ctx)

	key := fmt.Sprintf("%s:%s", msg.TenantID, msg.TrackerID)
	headers := []kafka.Header{
		{Key: "tenant_id", Value: []byte(msg.TenantID)},
		{Key: "tracker_id", Value: []byte(msg.TrackerID)},
	}

	return p.write(ctx, p.traceWriter, p.traceTopic, key, headers, msg)
}

func (p *Producer) write(ctx context.Context, writer messageWriter, topic, key string, headers []kafka.Header, payload any) error {
	span := tracing.GetActiveSpan(ctx)
	if span != nil {
		span.SetAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", topic),
			attribute.String("messaging.operation", "publish"),
		)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to marshal message")
		}
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	// W3C trace context for downstream consumers
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	start := time.Now()
	err = writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	})
	if err != nil {
		metrics.RecordKafkaPublish(topic, "error", time.Since(start).Seconds())
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to publish message")
		}
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", topic)
		return err
	}

	metrics.RecordKafkaPublish(topic, "success", time.Since(start).Seconds())
	p.logger.WithContext(ctx).Debugf("Published message to Kafka topic %s: key=%s", topic, key)
	return nil
}
