package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"notifier/pkg/idempotency"
)

const idempotencyKeyHeader = "Idempotency-Key"

// bodyCapture tees the response body so a completed request can be cached for
// replay.
type bodyCapture struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCapture) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware claims the request's idempotency key before the
// handler runs and caches the response after it completes. A replayed key
// returns the original response; a key whose original request is still in
// flight is rejected rather than dispatched twice.
func IdempotencyMiddleware(guard *idempotency.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}

		adm := guard.Begin(c.Request.Context(), key)
		if adm.Duplicate {
			if adm.CachedResponse != nil {
				c.AbortWithStatusJSON(http.StatusOK, gin.H{
					"success":    true,
					"message":    "Request already processed (idempotent)",
					"data":       json.RawMessage(adm.CachedResponse),
					"idempotent": true,
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"success": false,
				"message": "A request with this idempotency key is already being processed.",
			})
			return
		}

		capture := &bodyCapture{ResponseWriter: c.Writer}
		c.Writer = capture

		c.Next()

		// Only successful outcomes are worth replaying; a 5xx should be
		// retried for real. The processing record expires on its own.
		if capture.Status() < http.StatusInternalServerError {
			guard.Complete(c.Request.Context(), key, capture.buf.Bytes())
		}
	}
}
