package httpserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"notifier/pkg/metrics"
	"notifier/pkg/ratelimit"
)

// clientIdentifier picks the identity a request is rate limited by. A
// client-supplied id header wins so API consumers behind shared NAT are not
// throttled together; otherwise the first forwarded hop or the peer address.
func clientIdentifier(c *gin.Context) string {
	if id := c.GetHeader("X-Client-ID"); id != "" {
		return "client:" + id
	}
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found {
			return "ip:" + strings.TrimSpace(first)
		}
		return "ip:" + strings.TrimSpace(fwd)
	}
	return "ip:" + c.ClientIP()
}

// RateLimitMiddleware admits or rejects requests via the sliding-window
// limiter. Headers are attached to allowed and denied responses alike, except
// on a store outage where no counts exist to report.
func RateLimitMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := limiter.Admit(c.Request.Context(), clientIdentifier(c))

		if !d.StoreDown {
			c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt, 10))
		}

		if d.Allowed {
			c.Next()
			return
		}

		metrics.RateLimitDenied.Inc()

		if d.StoreDown {
			// Fail-closed admission with an unreachable store.
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"message": "Rate limiter unavailable. Please try again later.",
			})
			return
		}

		c.Header("Retry-After", strconv.Itoa(d.RetryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"message": "Too many requests. Please try again later.",
			"error": gin.H{
				"code":                "RATE_LIMIT_EXCEEDED",
				"limit":               d.Limit,
				"retry_after_seconds": d.RetryAfter,
			},
		})
	}
}
