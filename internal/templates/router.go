package templates

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notifier/internal/auth"
)

// NewRouter exposes the template service API. The by-name lookup the gateway
// depends on is public; authoring endpoints require a token.
func NewRouter(h *Handler, jwtSecret string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.GET("/templates/name/:name", h.GetByName)
	v1.GET("/templates/:id", h.GetByID)

	protected := v1.Group("/")
	protected.Use(auth.Middleware(jwtSecret))
	{
		protected.POST("/templates", h.Create)
		protected.PUT("/templates/:id", h.AddVersion)
	}

	return r
}
