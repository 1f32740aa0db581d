package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"notifier/config"
	"notifier/internal/mq"
	"notifier/internal/worker"
	"notifier/internal/worker/email"
	"notifier/pkg/circuitbreaker"
	"notifier/pkg/logger"
	"notifier/pkg/metrics"
)

func main() {
	cfg := config.Load()

	log := logger.New()
	defer log.Sync()

	log.Info("Starting email worker", zap.String("queue", mq.EmailQueue))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := mq.Connect(cfg.MQ.URL, log)
	if err != nil {
		log.Fatal("RabbitMQ connection failed", zap.Error(err))
	}
	defer conn.Close()

	publisher := mq.NewPublisher(conn, log)

	breaker := newBreaker("smtp", cfg.Breaker, log)
	sender := email.NewSender(cfg.SMTP, breaker, log)

	w := worker.New(
		mq.EmailQueue,
		sender.Handle,
		worker.RepublishTo(publisher, mq.EmailQueue),
		worker.PolicyFromConfig(cfg.Retry),
		log,
	)

	consumer, err := mq.NewConsumer(conn, mq.EmailQueue, log)
	if err != nil {
		log.Fatal("Consumer init failed", zap.Error(err))
	}
	defer consumer.Close()

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- consumer.Start(ctx, w.Handler())
	}()

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: worker.NewHealthRouter("email-worker", breaker),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Health server failed", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down email worker")
	case err := <-consumerDone:
		log.Error("Consumer stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Health server shutdown failed", zap.Error(err))
	}
}

func newBreaker(name string, cfg config.BreakerConfig, log *zap.Logger) *circuitbreaker.Breaker {
	b := circuitbreaker.New(circuitbreaker.Config{
		Name:              name,
		Timeout:           cfg.Timeout(),
		ErrorThresholdPct: cfg.ErrorThresholdPct,
		ResetTimeout:      cfg.ResetTimeout(),
		Window:            cfg.Window(),
		Buckets:           cfg.WindowBuckets,
		MinRequests:       5,
	})
	b.OnStateChange(func(name string, from, to circuitbreaker.State) {
		metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		log.Warn("Circuit breaker state change",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	})
	return b
}
