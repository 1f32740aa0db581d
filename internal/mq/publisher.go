package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	contracts "notifier/contracts/mq"
	"notifier/pkg/metrics"
)

// Publisher publishes durable messages to the main exchange. It does not
// retry: reliability after a successful publish is the consumer/DLQ
// mechanism's job, and a failed publish is surfaced to the caller for
// logging.
type Publisher struct {
	conn   *Connection
	logger *zap.Logger
}

func NewPublisher(conn *Connection, logger *zap.Logger) *Publisher {
	return &Publisher{conn: conn, logger: logger}
}

// Publish marshals payload and publishes it persistently with retry count 0.
// messageID must be unique per envelope; correlationID ties the envelope back
// to its originating request.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any, messageID, correlationID string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = p.conn.Channel().PublishWithContext(ctx,
		ExchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:   "application/json",
			Body:          body,
			DeliveryMode:  amqp091.Persistent,
			MessageId:     messageID,
			CorrelationId: correlationID,
			Timestamp:     time.Now(),
			Headers: amqp091.Table{
				contracts.HeaderRetryCount: int32(0),
			},
		},
	)
	if err != nil {
		metrics.PublishCount.WithLabelValues(routingKey, "error").Inc()
		return fmt.Errorf("failed to publish to %s: %w", routingKey, err)
	}

	metrics.PublishCount.WithLabelValues(routingKey, "ok").Inc()
	p.logger.Debug("Message published",
		zap.String("routing_key", routingKey),
		zap.String("message_id", messageID),
		zap.String("correlation_id", correlationID),
		zap.Int("size_bytes", len(body)),
	)
	return nil
}

// Republish puts an already-marshaled body back on the exchange with the
// caller's headers. Used by workers for the retry chain; the body is byte-for-
// byte the original payload.
func (p *Publisher) Republish(ctx context.Context, routingKey string, body []byte, headers amqp091.Table, messageID, correlationID string) error {
	err := p.conn.Channel().PublishWithContext(ctx,
		ExchangeName,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:   "application/json",
			Body:          body,
			DeliveryMode:  amqp091.Persistent,
			MessageId:     messageID,
			CorrelationId: correlationID,
			Timestamp:     time.Now(),
			Headers:       headers,
		},
	)
	if err != nil {
		metrics.PublishCount.WithLabelValues(routingKey, "error").Inc()
		return fmt.Errorf("failed to republish to %s: %w", routingKey, err)
	}

	metrics.PublishCount.WithLabelValues(routingKey, "ok").Inc()
	return nil
}
