package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notifier/internal/gateway/handler"
	"notifier/pkg/circuitbreaker"
	"notifier/pkg/idempotency"
	"notifier/pkg/metrics"
	"notifier/pkg/ratelimit"
)

// Deps collects everything the gateway router serves.
type Deps struct {
	Notifications *handler.NotificationHandler
	Limiter       *ratelimit.Limiter
	Guard         *idempotency.Guard
	Breakers      []*circuitbreaker.Breaker
	Logger        *zap.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(deps.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	r.GET("/health", func(c *gin.Context) {
		states := make(map[string]any, len(deps.Breakers))
		for _, b := range deps.Breakers {
			snap := b.Snapshot()
			states[snap.Name] = snap
		}
		c.JSON(http.StatusOK, gin.H{
			"status":           "healthy",
			"service":          "gateway",
			"circuit_breakers": states,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(RateLimitMiddleware(deps.Limiter))
	api.Use(IdempotencyMiddleware(deps.Guard))
	api.POST("/notify", deps.Notifications.Notify)

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(status), elapsed)

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
		)
	}
}
