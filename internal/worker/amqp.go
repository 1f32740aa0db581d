package worker

import (
	"context"

	"github.com/rabbitmq/amqp091-go"

	"notifier/internal/mq"
)

type amqpAck struct {
	d amqp091.Delivery
}

func (a amqpAck) Ack() error { return a.d.Ack(false) }

// Reject nacks without requeue so the dead-letter binding applies.
func (a amqpAck) Reject() error { return a.d.Nack(false, false) }

// Handler adapts the state machine to the consumer loop.
func (w *Worker) Handler() mq.DeliveryHandler {
	return func(ctx context.Context, d amqp091.Delivery) {
		msg := Message{
			Body:          d.Body,
			Headers:       d.Headers,
			MessageID:     d.MessageId,
			CorrelationID: d.CorrelationId,
		}
		w.Process(ctx, msg, amqpAck{d: d})
	}
}

// RepublishTo builds the RepublishFunc for a worker's own queue.
func RepublishTo(pub *mq.Publisher, queue string) RepublishFunc {
	return func(ctx context.Context, msg Message) error {
		return pub.Republish(ctx, queue, msg.Body, msg.Headers, msg.MessageID, msg.CorrelationID)
	}
}
