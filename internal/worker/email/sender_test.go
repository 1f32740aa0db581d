package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifier/config"
	contracts "notifier/contracts/mq"
	"notifier/pkg/circuitbreaker"
	"notifier/pkg/util"
)

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestSender(t *testing.T, sendErr error) (*Sender, *capturedMail) {
	t.Helper()

	captured := &capturedMail{}
	cfg := config.SMTPConfig{
		Host:      "smtp.example.com",
		Port:      587,
		User:      "mailer",
		Password:  "secret",
		FromEmail: "noreply@example.com",
	}
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:              "smtp",
		Timeout:           time.Second,
		ErrorThresholdPct: 50,
		ResetTimeout:      30 * time.Second,
		Window:            10 * time.Second,
		Buckets:           10,
		MinRequests:       4,
	})

	s := NewSender(cfg, breaker, zap.NewNop())
	s.send = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		captured.addr = addr
		captured.from = from
		captured.to = to
		captured.msg = string(msg)
		return sendErr
	}
	return s, captured
}

func payload(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(contracts.EmailMessage{
		CorrelationID: "c-1",
		User:          contracts.EmailRecipient{Email: "ada@example.com", FirstName: "Ada"},
		Template: contracts.EmailTemplate{
			Subject: "Welcome {{first_name}}",
			Body:    "<p>Hi {{first_name}}, your code is {{code}}</p>",
		},
		Variables: map[string]string{"code": "1234"},
	})
	require.NoError(t, err)
	return body
}

func TestHandleSendsRenderedMail(t *testing.T) {
	s, captured := newTestSender(t, nil)

	err := s.Handle(context.Background(), payload(t))
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", captured.addr)
	assert.Equal(t, "noreply@example.com", captured.from)
	assert.Equal(t, []string{"ada@example.com"}, captured.to)
	assert.Contains(t, captured.msg, "Subject: Welcome Ada")
	assert.Contains(t, captured.msg, "Hi Ada, your code is 1234")
	assert.Contains(t, captured.msg, "To: ada@example.com")
}

func TestHandleMalformedPayloadNotRetryable(t *testing.T) {
	s, _ := newTestSender(t, nil)

	err := s.Handle(context.Background(), []byte(`{not json`))
	require.Error(t, err)

	retryable, kind := util.ClassifyDeliveryError(err)
	assert.False(t, retryable)
	assert.Equal(t, "json_decode_error", kind)
}

func TestHandleMissingRecipientNotRetryable(t *testing.T) {
	s, _ := newTestSender(t, nil)

	err := s.Handle(context.Background(), []byte(`{"correlation_id":"c-1"}`))
	require.Error(t, err)

	retryable, kind := util.ClassifyDeliveryError(err)
	assert.False(t, retryable)
	assert.Equal(t, "invalid_payload", kind)
}

func TestHandleSMTPFailureRetryable(t *testing.T) {
	s, _ := newTestSender(t, errors.New("smtp: 421 service not available"))

	err := s.Handle(context.Background(), payload(t))
	require.Error(t, err)

	retryable, _ := util.ClassifyDeliveryError(err)
	assert.True(t, retryable)
}

func TestHandleOpenBreakerShortCircuits(t *testing.T) {
	s, captured := newTestSender(t, errors.New("dial tcp: connection refused"))

	for i := 0; i < 4; i++ {
		_ = s.Handle(context.Background(), payload(t))
	}
	captured.addr = ""

	err := s.Handle(context.Background(), payload(t))
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Empty(t, captured.addr, "send must not be attempted while open")
}
