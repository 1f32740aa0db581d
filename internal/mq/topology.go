package mq

import (
	"errors"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Broker topology: one direct exchange for content, one dead-letter exchange,
// a content queue per channel, and a single terminal failed queue. Rejected
// messages route through the DLX to failed.queue using the content queue's
// own name as the dead-letter routing key.
const (
	ExchangeName    = "notifications.direct"
	DLXExchangeName = "notifications.dlx"
	EmailQueue      = "email.queue"
	PushQueue       = "push.queue"
	FailedQueue     = "failed.queue"
)

// ContentQueues lists every channel queue bound to the main exchange.
func ContentQueues() []string {
	return []string{EmailQueue, PushQueue}
}

func contentQueueArgs(queue string) amqp091.Table {
	return amqp091.Table{
		"x-dead-letter-exchange":    DLXExchangeName,
		"x-dead-letter-routing-key": queue,
	}
}

// EnsureTopology idempotently establishes the exchange/queue/binding graph.
// The publishing side must complete this before any consumer starts.
//
// When a content queue already exists with incompatible arguments the broker
// refuses the redeclare. With recreate set, the queue is deleted and declared
// again — destructive, any unconsumed messages are lost, and it is logged
// loudly. With recreate unset (the default) the mismatch is returned as an
// error requiring operator intervention.
func EnsureTopology(conn *Connection, recreate bool, logger *zap.Logger) error {
	ch, err := conn.NewChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declareExchanges(ch); err != nil {
		return err
	}

	// Terminal dead-letter queue, bound to the DLX once per content queue
	// routing key.
	if _, err := ch.QueueDeclare(FailedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s: %w", FailedQueue, err)
	}
	for _, q := range ContentQueues() {
		if err := ch.QueueBind(FailedQueue, q, DLXExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s for %s: %w", FailedQueue, q, err)
		}
	}

	for _, q := range ContentQueues() {
		_, err := ch.QueueDeclare(q, true, false, false, false, contentQueueArgs(q))
		if err != nil {
			if !isPreconditionFailed(err) {
				return fmt.Errorf("failed to declare %s: %w", q, err)
			}
			if !recreate {
				return fmt.Errorf("queue %s exists with incompatible arguments; "+
					"delete it manually or enable mq.recreate_queues: %w", q, err)
			}

			// The failed declare closed the channel; open a fresh one to
			// delete and redeclare.
			ch, err = conn.NewChannel()
			if err != nil {
				return err
			}

			purged, err := ch.QueueDelete(q, false, false, false)
			if err != nil {
				return fmt.Errorf("failed to delete %s for recreation: %w", q, err)
			}
			logger.Warn("Deleted queue with incompatible arguments; pending messages were lost",
				zap.String("queue", q),
				zap.Int("messages_lost", purged),
			)

			if _, err := ch.QueueDeclare(q, true, false, false, false, contentQueueArgs(q)); err != nil {
				return fmt.Errorf("failed to redeclare %s: %w", q, err)
			}
		}

		if err := ch.QueueBind(q, q, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s: %w", q, err)
		}

		logger.Info("Queue ready",
			zap.String("queue", q),
			zap.String("dlx", DLXExchangeName),
		)
	}

	logger.Info("Broker topology ready",
		zap.String("exchange", ExchangeName),
		zap.String("dlx", DLXExchangeName),
	)
	return nil
}

// AssertQueue defensively declares a content queue from the consumer side.
// Consumers never recreate: an arguments mismatch is a fatal startup error.
func AssertQueue(ch *amqp091.Channel, queue string) error {
	_, err := ch.QueueDeclare(queue, true, false, false, false, contentQueueArgs(queue))
	if err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("queue %s exists with incompatible arguments; "+
				"start the gateway first or fix the queue manually: %w", queue, err)
		}
		return fmt.Errorf("failed to assert %s: %w", queue, err)
	}
	return nil
}

func declareExchanges(ch *amqp091.Channel) error {
	if err := ch.ExchangeDeclare(DLXExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(ExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var amqpErr *amqp091.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp091.PreconditionFailed
}
