package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"notifier/config"
	contracts "notifier/contracts/mq"
	"notifier/internal/render"
	"notifier/pkg/circuitbreaker"
	"notifier/pkg/util"
)

// fcmRequest is the device-message shape the push endpoint accepts.
type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string          `json:"token"`
	Notification fcmNotification `json:"notification"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Sender posts a push.queue payload to the FCM-compatible endpoint. The HTTP
// hop runs inside a circuit breaker, mirroring the email worker's SMTP guard.
type Sender struct {
	cfg     config.PushConfig
	breaker *circuitbreaker.Breaker
	client  *http.Client
	logger  *zap.Logger
}

func NewSender(cfg config.PushConfig, breaker *circuitbreaker.Breaker, logger *zap.Logger) *Sender {
	return &Sender{
		cfg:     cfg,
		breaker: breaker,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// Handle decodes, renders and posts one push notification.
func (s *Sender) Handle(ctx context.Context, body []byte) error {
	var msg contracts.PushMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return err
	}
	if msg.Token == "" {
		return fmt.Errorf("%w: missing device token", util.ErrPermanent)
	}

	title := render.Render(msg.Title, msg.Variables)
	text := render.Render(msg.Body, msg.Variables)

	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.post(ctx, msg.Token, title, text)
	})
	if err != nil {
		s.logger.Warn("push delivery failed",
			zap.String("correlation_id", msg.CorrelationID),
			zap.Error(err))
		return err
	}

	s.logger.Info("push delivered",
		zap.String("correlation_id", msg.CorrelationID))
	return nil
}

func (s *Sender) post(ctx context.Context, token, title, text string) error {
	payload, err := json.Marshal(fcmRequest{
		Message: fcmMessage{
			Token:        token,
			Notification: fcmNotification{Title: title, Body: text},
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		// An unregistered or invalid token never becomes deliverable.
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: push endpoint returned %d: %s", util.ErrPermanent, resp.StatusCode, detail)
		}
		return fmt.Errorf("push endpoint returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}
