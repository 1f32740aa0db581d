package worker

import (
	"context"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	contracts "notifier/contracts/mq"
	"notifier/pkg/logger"
	"notifier/pkg/metrics"
	"notifier/pkg/util"
)

// Message is one in-flight delivery, decoupled from the AMQP types so the
// state machine is testable without a broker.
type Message struct {
	Body          []byte
	Headers       amqp091.Table
	MessageID     string
	CorrelationID string
}

// Acknowledger settles a message exactly once. Reject must not requeue: the
// queue's dead-letter binding routes the message to the failed queue.
type Acknowledger interface {
	Ack() error
	Reject() error
}

// DeliverFunc attempts actual delivery of one message body.
type DeliverFunc func(ctx context.Context, body []byte) error

// RepublishFunc puts a retry envelope back on the message's own queue.
type RepublishFunc func(ctx context.Context, msg Message) error

// Worker drives the per-message retry state machine:
//
//	RECEIVED → DELIVERING → ACKED
//	                      → RETRY_SCHEDULED → REPUBLISHED
//	                      → DEAD_LETTERED
//
// Delivery failure before the attempt ceiling acks the current message, waits
// out the backoff (suspending only this worker — the prefetch-1 consumer
// feeds no further messages meanwhile), and republishes the identical payload
// with an incremented retry count. Failure on the final attempt rejects the
// message so the broker dead-letters it. Only the per-message retry chain is
// ordered; nothing is guaranteed across messages.
type Worker struct {
	queue     string
	deliver   DeliverFunc
	republish RepublishFunc
	policy    RetryPolicy
	logger    *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(queue string, deliver DeliverFunc, republish RepublishFunc, policy RetryPolicy, log *zap.Logger) *Worker {
	return &Worker{
		queue:     queue,
		deliver:   deliver,
		republish: republish,
		policy:    policy,
		logger:    log,
		now:       time.Now,
		sleep:     sleepWithContext,
	}
}

// Process runs one message through the state machine. Errors in settling are
// logged, never propagated: each message's failure handling is isolated to
// that message.
func (w *Worker) Process(ctx context.Context, msg Message, ack Acknowledger) {
	start := w.now()
	retryCount := contracts.RetryCount(msg.Headers)
	attempt := retryCount + 1

	log := logger.WithCorrelation(w.logger, msg.CorrelationID).With(
		zap.String("queue", w.queue),
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", w.policy.MaxAttempts),
	)

	log.Info("Message received")

	err := w.deliver(ctx, msg.Body)
	if err == nil {
		if ackErr := ack.Ack(); ackErr != nil {
			log.Error("Failed to ack message", zap.Error(ackErr))
			return
		}
		metrics.DeliveryAttempts.WithLabelValues(w.queue, "acked").Inc()
		metrics.RecordConsumeLatency(w.queue, w.now().Sub(start))
		log.Info("Delivered successfully")
		return
	}

	if ctx.Err() != nil {
		// Shutdown mid-delivery: leave the message unsettled so the broker
		// redelivers it to the next worker.
		log.Warn("Delivery interrupted by shutdown", zap.Error(err))
		return
	}

	retryable, kind := util.ClassifyDeliveryError(err)
	log = log.With(zap.String("error_kind", kind))

	if !retryable || attempt >= w.policy.MaxAttempts {
		// Fatal for this message: reject without requeue and let the
		// dead-letter binding take it. An operator or reprocessor owns it
		// from here.
		if rejErr := ack.Reject(); rejErr != nil {
			log.Error("Failed to reject message", zap.Error(rejErr))
			return
		}
		metrics.DeliveryAttempts.WithLabelValues(w.queue, "dead_lettered").Inc()
		log.Error("Message dead-lettered",
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
		return
	}

	// Remove the current message from the queue before the backoff; the
	// retry chain continues through the republished copy.
	if ackErr := ack.Ack(); ackErr != nil {
		log.Error("Failed to ack message before retry", zap.Error(ackErr))
		return
	}

	delay := w.policy.Delay(retryCount)
	log.Warn("Delivery failed, retrying",
		zap.Duration("delay", delay),
		zap.Error(err),
	)

	if sleepErr := w.sleep(ctx, delay); sleepErr != nil {
		log.Error("Retry backoff interrupted; message lost", zap.Error(sleepErr))
		return
	}

	retry := Message{
		Body:          msg.Body,
		MessageID:     msg.MessageID,
		CorrelationID: msg.CorrelationID,
		Headers:       retryHeaders(msg.Headers, retryCount+1, err, w.now()),
	}
	if pubErr := w.republish(ctx, retry); pubErr != nil {
		// Already acked: the message is gone if this fails.
		log.Error("Failed to republish for retry; message lost", zap.Error(pubErr))
		return
	}

	metrics.DeliveryAttempts.WithLabelValues(w.queue, "retried").Inc()
	log.Info("Message republished for retry",
		zap.Int("retry_count", retryCount+1),
	)
}

// retryHeaders copies the existing headers and attaches the incremented retry
// count plus diagnostics about the failed attempt.
func retryHeaders(existing amqp091.Table, retryCount int, cause error, now time.Time) amqp091.Table {
	headers := amqp091.Table{}
	for k, v := range existing {
		headers[k] = v
	}
	headers[contracts.HeaderRetryCount] = int32(retryCount)
	headers[contracts.HeaderOriginalError] = util.TruncateError(cause, 200)
	headers[contracts.HeaderRetryTimestamp] = now.UTC().Format(time.RFC3339)
	return headers
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
