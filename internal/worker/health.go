package worker

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notifier/pkg/circuitbreaker"
)

// NewHealthRouter serves the worker's observability surface: the delivery
// breaker's live state and Prometheus metrics. The retry logic never consults
// this; it exists for operators.
func NewHealthRouter(service string, breaker *circuitbreaker.Breaker) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "healthy",
			"service":         service,
			"circuit_breaker": breaker.Snapshot(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
