package mq

import (
	"github.com/rabbitmq/amqp091-go"
)

// Envelope metadata headers. x-retry-count travels with a message from its
// first publish; the other two are attached on republish.
const (
	HeaderRetryCount     = "x-retry-count"
	HeaderOriginalError  = "x-original-error"
	HeaderRetryTimestamp = "x-retry-timestamp"
)

// EmailMessage is the wire payload consumed from email.queue.
type EmailMessage struct {
	CorrelationID string            `json:"correlation_id"`
	User          EmailRecipient    `json:"user"`
	Template      EmailTemplate     `json:"template"`
	Variables     map[string]string `json:"variables"`
}

type EmailRecipient struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
}

type EmailTemplate struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// PushMessage is the wire payload consumed from push.queue, one per device
// token.
type PushMessage struct {
	CorrelationID string            `json:"correlation_id"`
	Token         string            `json:"token"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	Variables     map[string]string `json:"variables"`
}

// RetryCount reads x-retry-count from delivery headers, defaulting to 0. The
// header arrives as different integer widths depending on who published it.
func RetryCount(headers amqp091.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers[HeaderRetryCount].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float32:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
