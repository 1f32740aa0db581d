package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"notifier/config"
	contracts "notifier/contracts/mq"
	"notifier/internal/render"
	"notifier/pkg/circuitbreaker"
	"notifier/pkg/util"
)

// SendFunc performs the actual SMTP exchange. Swappable in tests.
type SendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Sender turns an email.queue payload into an SMTP delivery. The SMTP hop is
// guarded by a circuit breaker so a dead relay trips fast instead of holding
// every delivery for a full dial timeout.
type Sender struct {
	cfg     config.SMTPConfig
	breaker *circuitbreaker.Breaker
	send    SendFunc
	logger  *zap.Logger
}

func NewSender(cfg config.SMTPConfig, breaker *circuitbreaker.Breaker, logger *zap.Logger) *Sender {
	return &Sender{
		cfg:     cfg,
		breaker: breaker,
		send:    smtp.SendMail,
		logger:  logger,
	}
}

// Handle decodes, renders and sends one message. A body that fails to decode
// is a permanent error; everything downstream of the breaker is retryable.
func (s *Sender) Handle(ctx context.Context, body []byte) error {
	var msg contracts.EmailMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return err
	}
	if msg.User.Email == "" {
		return fmt.Errorf("%w: missing recipient email", util.ErrPermanent)
	}

	vars := render.Merge(msg.Variables, map[string]string{
		"first_name": msg.User.FirstName,
		"email":      msg.User.Email,
	})
	subject := render.Render(msg.Template.Subject, vars)
	htmlBody := render.Render(msg.Template.Body, vars)

	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.deliver(msg.User.Email, subject, htmlBody)
	})
	if err != nil {
		s.logger.Warn("email delivery failed",
			zap.String("correlation_id", msg.CorrelationID),
			zap.String("recipient", msg.User.Email),
			zap.Error(err))
		return err
	}

	s.logger.Info("email delivered",
		zap.String("correlation_id", msg.CorrelationID),
		zap.String("recipient", msg.User.Email))
	return nil
}

func (s *Sender) deliver(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.FromEmail)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)

	return s.send(addr, auth, s.cfg.FromEmail, []string{to}, []byte(b.String()))
}
