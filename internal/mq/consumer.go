package mq

import (
	"context"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DeliveryHandler processes one delivery. It is responsible for ack/nack; the
// consumer loop never acks on its behalf.
type DeliveryHandler func(ctx context.Context, d amqp091.Delivery)

// Consumer pulls messages from one queue with a prefetch of 1: the broker
// hands over the next message only after the previous one was acked or
// rejected, which is what lets a worker suspend its own loop during a retry
// backoff without buffering further messages.
type Consumer struct {
	ch     *amqp091.Channel
	queue  string
	logger *zap.Logger
}

func NewConsumer(conn *Connection, queue string, logger *zap.Logger) (*Consumer, error) {
	ch, err := conn.NewChannel()
	if err != nil {
		return nil, err
	}

	if err := AssertQueue(ch, queue); err != nil {
		ch.Close()
		return nil, err
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("queue", queue),
	)

	return &Consumer{
		ch:     ch,
		queue:  queue,
		logger: logger,
	}, nil
}

// Start consumes until ctx is cancelled or the channel closes. Blocks; run in
// a goroutine. A panicking handler must not crash the worker process: the
// message is rejected without requeue so the dead-letter binding picks it up.
func (c *Consumer) Start(ctx context.Context, handle DeliveryHandler) error {
	deliveries, err := c.ch.Consume(
		c.queue,
		"",    // consumer tag
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Waiting for messages",
		zap.String("queue", c.queue),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", c.queue)
			}
			c.handleOne(ctx, msg, handle)
		}
	}
}

func (c *Consumer) handleOne(ctx context.Context, msg amqp091.Delivery, handle DeliveryHandler) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered",
				zap.String("queue", c.queue),
				zap.Any("panic", r),
			)
			if err := msg.Nack(false, false); err != nil {
				c.logger.Error("Failed to reject message after panic",
					zap.String("queue", c.queue),
					zap.Error(err),
				)
			}
		}
	}()

	handle(ctx, msg)
}

func (c *Consumer) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
}
