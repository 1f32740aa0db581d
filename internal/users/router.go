package users

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notifier/internal/auth"
)

// NewRouter exposes the user service API. Profile reads stay public because
// the gateway resolves notification requests against them service-to-service;
// account mutations require a token.
func NewRouter(h *Handler, jwtSecret string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.POST("/users/register", h.Register)
	v1.POST("/users/login", h.Login)
	v1.GET("/users/:id", h.GetUser)

	protected := v1.Group("/")
	protected.Use(auth.Middleware(jwtSecret))
	{
		protected.PUT("/users/:id/preferences", h.UpdatePreferences)
		protected.POST("/users/:id/push-tokens", h.AddPushToken)
		protected.DELETE("/users/:id/push-tokens/:tokenId", h.DeletePushToken)
	}

	return r
}
