package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/transfa/loan-accrual-service/internal/domain"
)

const routingKeyPrefix = "loan.accrual."

// EventPublisher publishes a JSON body to a topic exchange (pkg/rabbitmq).
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// MessageWriter writes keyed messages to a topic (pkg/kafka).
type MessageWriter interface {
	Write(ctx context.Context, topic string, key, value []byte) error
}

// AMQPSink publishes events to the loan events exchange with routing keys of
// the form loan.accrual.<kind>.
type AMQPSink struct {
	publisher EventPublisher
	exchange  string
}

func NewAMQPSink(publisher EventPublisher, exchange string) *AMQPSink {
	return &AMQPSink{publisher: publisher, exchange: exchange}
}

func (s *AMQPSink) Send(ctx context.Context, event domain.NotificationEvent) error {
	return s.publisher.Publish(ctx, s.exchange, routingKeyPrefix+string(event.Kind), event)
}

// KafkaSink writes events to a topic keyed by loan id so a loan's events stay
// ordered within one partition.
type KafkaSink struct {
	writer MessageWriter
	topic  string
}

func NewKafkaSink(writer MessageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: writer, topic: topic}
}

func (s *KafkaSink) Send(ctx context.Context, event domain.NotificationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}
	return s.writer.Write(ctx, s.topic, []byte(event.LoanID), payload)
}

// LogSink only logs events. It is the fallback when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(ctx context.Context, event domain.NotificationEvent) error {
	attrs := []any{"loan_id", event.LoanID, "kind", event.Kind, "event_id", event.EventID}
	if event.NewAmount != nil {
		attrs = append(attrs, "old_amount", event.OldAmount.StringFixed(2), "new_amount", event.NewAmount.StringFixed(2))
	}
	if event.FinalAmount != nil {
		attrs = append(attrs, "final_amount", event.FinalAmount.StringFixed(2))
	}
	s.logger.Info("loan notification", attrs...)
	return nil
}
