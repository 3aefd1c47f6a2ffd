package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

// Topics used by the ingestion pipeline.
const (
	TopicLogIngestion = "log-ingestion"
	TopicLogAlarm     = "log-alarm"
	TopicLogDLQ       = "log-dlq"
)

// DLQPublisher parks undecodable messages on the dead-letter topic.
// Satisfied by KafkaProducer.
type DLQPublisher interface {
	ProduceMessage(topic string, key []byte, value []byte, headers map[string]string) error
}

// IngestionEvent is the canonical record of a producer's intent to store a
// log. MessageID doubles as the stored log ID so redelivery is idempotent.
type IngestionEvent struct {
	MessageID  string     `json:"message_id"`
	Log        models.Log `json:"log"`
	ReceivedAt time.Time  `json:"received_at"`
}

// AlarmEvent asks the alarm worker to match a persisted log against the
// project's configured alarms.
type AlarmEvent struct {
	LogID string     `json:"log_id"`
	Log   models.Log `json:"log"`
}

// PublishIngestionEvent publishes an ingestion event keyed by project so
// per-project ordering is preserved.
func (p *KafkaProducer) PublishIngestionEvent(event IngestionEvent) error {
	if event.MessageID == "" {
		return fmt.Errorf("ingestion event requires a message id")
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ingestion event: %w", err)
	}
	headers := map[string]string{
		"message_id": event.MessageID,
		"project_id": event.Log.ProjectID,
	}
	return p.ProduceMessage(TopicLogIngestion, []byte(event.Log.ProjectID), value, headers)
}

// PublishAlarmEvent publishes an alarm-evaluation event after persistence.
func (p *KafkaProducer) PublishAlarmEvent(event AlarmEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alarm event: %w", err)
	}
	headers := map[string]string{
		"log_id":     event.LogID,
		"project_id": event.Log.ProjectID,
	}
	return p.ProduceMessage(TopicLogAlarm, []byte(event.Log.ProjectID), value, headers)
}

// IngestionEventHandler adapts a typed ingestion handler to the generic
// consumer Handler signature.
type IngestionEventHandler struct {
	handler func(ctx context.Context, event IngestionEvent) error
	dlq     DLQPublisher
	logger  *logrus.Logger
}

// NewIngestionEventHandler creates a handler for ingestion events. dlq may
// be nil, in which case undecodable messages are dropped after logging.
func NewIngestionEventHandler(handler func(ctx context.Context, event IngestionEvent) error, dlq DLQPublisher, logger *logrus.Logger) *IngestionEventHandler {
	return &IngestionEventHandler{handler: handler, dlq: dlq, logger: logger}
}

// HandleMessage decodes a bus message into an IngestionEvent and delegates.
func (h *IngestionEventHandler) HandleMessage(ctx context.Context, msg Message) error {
	var event IngestionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// A payload that cannot decode will never decode; don't block the
		// partition on it.
		parkDLQ(h.dlq, msg, err, "ingestion", h.logger)
		return nil
	}
	return h.handler(ctx, event)
}

// AlarmEventHandler adapts a typed alarm handler to the generic consumer
// Handler signature.
type AlarmEventHandler struct {
	handler func(ctx context.Context, event AlarmEvent) error
	dlq     DLQPublisher
	logger  *logrus.Logger
}

// NewAlarmEventHandler creates a handler for alarm-evaluation events.
func NewAlarmEventHandler(handler func(ctx context.Context, event AlarmEvent) error, dlq DLQPublisher, logger *logrus.Logger) *AlarmEventHandler {
	return &AlarmEventHandler{handler: handler, dlq: dlq, logger: logger}
}

// HandleMessage decodes a bus message into an AlarmEvent and delegates.
func (h *AlarmEventHandler) HandleMessage(ctx context.Context, msg Message) error {
	var event AlarmEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		parkDLQ(h.dlq, msg, err, "alarm", h.logger)
		return nil
	}
	return h.handler(ctx, event)
}

// parkDLQ moves an undecodable message to the dead-letter topic so the
// partition keeps moving while the payload stays inspectable.
func parkDLQ(dlq DLQPublisher, msg Message, cause error, consumer string, logger *logrus.Logger) {
	logger.WithError(cause).WithFields(logrus.Fields{
		"topic":  msg.Topic,
		"offset": msg.Offset,
	}).Error("Undecodable event, parking on DLQ")

	if dlq == nil {
		return
	}
	payload, err := EncodeDLQMessage(msg, cause, consumer)
	if err != nil {
		logger.WithError(err).Error("Failed to encode DLQ payload")
		return
	}
	if err := dlq.ProduceMessage(TopicLogDLQ, msg.Key, payload, map[string]string{
		"source_topic": msg.Topic,
	}); err != nil {
		logger.WithError(err).Error("Failed to publish DLQ payload")
	}
}
