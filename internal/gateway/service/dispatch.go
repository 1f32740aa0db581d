package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	contracts "notifier/contracts/mq"
	"notifier/internal/gateway/client"
	"notifier/internal/mq"
	"notifier/pkg/metrics"
)

// ErrNotEnabled reports that the user's preferences or the template type rule
// out every delivery channel for this request.
var ErrNotEnabled = errors.New("notification type not enabled or not supported")

type Request struct {
	UserID       string
	TemplateName string
	Variables    map[string]string
}

type Result struct {
	CorrelationID string
	Message       string
}

type userFetcher interface {
	GetUser(ctx context.Context, userID string) (*client.UserProfile, error)
}

type templateFetcher interface {
	GetByName(ctx context.Context, name string) (*client.Template, error)
}

type publisher interface {
	Publish(ctx context.Context, routingKey string, payload any, messageID, correlationID string) error
}

// Dispatcher resolves a notification request against the user and template
// services and publishes the resulting messages. Each request gets a fresh
// correlation id that follows the message through every retry hop.
type Dispatcher struct {
	users      userFetcher
	templates  templateFetcher
	pub        publisher
	logger     *zap.Logger
	inflight   *semaphore.Weighted
	newID      func() string
	asyncDelay time.Duration
}

func NewDispatcher(users userFetcher, templates templateFetcher, pub publisher, maxInflight int64, logger *zap.Logger) *Dispatcher {
	if maxInflight <= 0 {
		maxInflight = 64
	}
	return &Dispatcher{
		users:      users,
		templates:  templates,
		pub:        pub,
		logger:     logger,
		inflight:   semaphore.NewWeighted(maxInflight),
		newID:      uuid.NewString,
		asyncDelay: 30 * time.Second,
	}
}

// Dispatch runs the full resolve-and-publish flow synchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	correlationID := d.newID()
	log := d.logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("user_id", req.UserID),
		zap.String("template_name", req.TemplateName))

	user, err := d.users.GetUser(ctx, req.UserID)
	if err != nil {
		log.Warn("user lookup failed", zap.Error(err))
		return Result{CorrelationID: correlationID}, fmt.Errorf("fetch user %s: %w", req.UserID, err)
	}

	tmpl, err := d.templates.GetByName(ctx, req.TemplateName)
	if err != nil {
		log.Warn("template lookup failed", zap.Error(err))
		return Result{CorrelationID: correlationID}, fmt.Errorf("fetch template %s: %w", req.TemplateName, err)
	}

	switch {
	case tmpl.Type == client.TemplateTypeEmail && user.EmailAllowed():
		return d.dispatchEmail(ctx, correlationID, user, tmpl, req.Variables, log)
	case tmpl.Type == client.TemplateTypePush && user.PushAllowed():
		return d.dispatchPush(ctx, correlationID, user, tmpl, req.Variables, log)
	}

	log.Info("notification not queued",
		zap.String("template_type", tmpl.Type),
		zap.Bool("email_enabled", user.EmailAllowed()),
		zap.Bool("push_enabled", user.PushAllowed()))
	metrics.DispatchCount.WithLabelValues(channelFor(tmpl.Type), "skipped").Inc()
	return Result{CorrelationID: correlationID}, ErrNotEnabled
}

// DispatchAsync runs Dispatch on a supervised goroutine after the caller has
// already been answered. The semaphore bounds concurrent dispatches; a full
// semaphore sheds the request rather than queueing unboundedly.
func (d *Dispatcher) DispatchAsync(req Request) {
	if !d.inflight.TryAcquire(1) {
		d.logger.Warn("dispatch shed, too many in flight",
			zap.String("user_id", req.UserID),
			zap.String("template_name", req.TemplateName))
		metrics.DispatchCount.WithLabelValues("unknown", "failed").Inc()
		return
	}

	go func() {
		defer d.inflight.Release(1)
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("dispatch panicked",
					zap.Any("panic", r),
					zap.String("user_id", req.UserID))
			}
		}()

		// Detached from the HTTP request, which has already completed.
		ctx, cancel := context.WithTimeout(context.Background(), d.asyncDelay)
		defer cancel()

		if _, err := d.Dispatch(ctx, req); err != nil && !errors.Is(err, ErrNotEnabled) {
			d.logger.Error("async dispatch failed",
				zap.String("user_id", req.UserID),
				zap.String("template_name", req.TemplateName),
				zap.Error(err))
		}
	}()
}

func (d *Dispatcher) dispatchEmail(ctx context.Context, correlationID string, user *client.UserProfile, tmpl *client.Template, vars map[string]string, log *zap.Logger) (Result, error) {
	msg := contracts.EmailMessage{
		CorrelationID: correlationID,
		User: contracts.EmailRecipient{
			Email:     user.Email,
			FirstName: user.FirstName,
		},
		Template: contracts.EmailTemplate{
			Subject: tmpl.Subject,
			Body:    tmpl.Body,
		},
		Variables: vars,
	}

	if err := d.pub.Publish(ctx, mq.EmailQueue, msg, correlationID, correlationID); err != nil {
		metrics.DispatchCount.WithLabelValues("email", "failed").Inc()
		return Result{CorrelationID: correlationID}, fmt.Errorf("publish email message: %w", err)
	}

	log.Info("email notification queued")
	metrics.DispatchCount.WithLabelValues("email", "queued").Inc()
	return Result{
		CorrelationID: correlationID,
		Message:       "Email notification queued successfully.",
	}, nil
}

func (d *Dispatcher) dispatchPush(ctx context.Context, correlationID string, user *client.UserProfile, tmpl *client.Template, vars map[string]string, log *zap.Logger) (Result, error) {
	if len(user.PushTokens) == 0 {
		log.Info("user has no push tokens, skipping")
		metrics.DispatchCount.WithLabelValues("push", "skipped").Inc()
		return Result{
			CorrelationID: correlationID,
			Message:       "User has no push tokens; request skipped.",
		}, nil
	}

	published := 0
	for _, pt := range user.PushTokens {
		msg := contracts.PushMessage{
			CorrelationID: correlationID,
			Token:         pt.Token,
			Title:         tmpl.Subject,
			Body:          tmpl.Body,
			Variables:     vars,
		}

		// One message per device, distinguished by a token-suffixed id.
		if err := d.pub.Publish(ctx, mq.PushQueue, msg, pushMessageID(correlationID, pt.Token), correlationID); err != nil {
			log.Warn("push publish failed for token", zap.Error(err))
			continue
		}
		published++
	}

	if published == 0 {
		metrics.DispatchCount.WithLabelValues("push", "failed").Inc()
		return Result{CorrelationID: correlationID}, errors.New("failed to publish any push notification messages")
	}

	log.Info("push notifications queued", zap.Int("devices", published))
	metrics.DispatchCount.WithLabelValues("push", "queued").Inc()
	return Result{
		CorrelationID: correlationID,
		Message:       fmt.Sprintf("Push notifications queued successfully (%d device(s)).", published),
	}, nil
}

func pushMessageID(correlationID, token string) string {
	suffix := token
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return correlationID + "-" + suffix
}

func channelFor(templateType string) string {
	switch templateType {
	case client.TemplateTypeEmail:
		return "email"
	case client.TemplateTypePush:
		return "push"
	default:
		return "unknown"
	}
}
