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
	"notifier/internal/gateway/client"
	"notifier/internal/gateway/handler"
	"notifier/internal/gateway/httpserver"
	"notifier/internal/gateway/service"
	"notifier/internal/mq"
	"notifier/pkg/circuitbreaker"
	"notifier/pkg/idempotency"
	"notifier/pkg/logger"
	"notifier/pkg/metrics"
	"notifier/pkg/ratelimit"
	redisclient "notifier/pkg/redis"
)

const idempotencyTTL = 24 * time.Hour

func main() {
	cfg := config.Load()

	log := logger.New()
	defer log.Sync()

	log.Info("Starting gateway", zap.String("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb := redisclient.NewClient(cfg.Redis)
	defer rdb.Close()

	// RabbitMQ: the gateway owns the topology so workers can declare
	// defensively.
	conn, err := mq.Connect(cfg.MQ.URL, log)
	if err != nil {
		log.Fatal("RabbitMQ connection failed", zap.Error(err))
	}
	defer conn.Close()

	if err := mq.EnsureTopology(conn, cfg.MQ.RecreateQueues, log); err != nil {
		log.Fatal("Topology setup failed", zap.Error(err))
	}

	publisher := mq.NewPublisher(conn, log)

	// One breaker per upstream, observed via logs and the breaker gauge.
	userBreaker := newBreaker("user-service", cfg.Breaker, log)
	templateBreaker := newBreaker("template-service", cfg.Breaker, log)

	users := client.NewUserClient(cfg.Upstream.UserServiceURL, userBreaker)
	templates := client.NewTemplateClient(cfg.Upstream.TemplateServiceURL, templateBreaker)

	dispatcher := service.NewDispatcher(users, templates, publisher, 64, log)

	router := httpserver.NewRouter(httpserver.Deps{
		Notifications: handler.NewNotificationHandler(dispatcher),
		Limiter: ratelimit.New(rdb, cfg.RateLimit.MaxRequests,
			cfg.RateLimit.Window(), cfg.RateLimit.FailOpen, log),
		Guard:    idempotency.New(rdb, idempotencyTTL, log),
		Breakers: []*circuitbreaker.Breaker{userBreaker, templateBreaker},
		Logger:   log,
	})

	srv := &http.Server{Addr: cfg.Server.Port, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
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
