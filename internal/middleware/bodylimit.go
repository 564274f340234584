package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rhesis-ai/rhesis/internal/httputil"
)

// MaxBodySize caps request bodies at maxBytes. A declared Content-Length
// over the cap is rejected with 413 before the handler runs; bodies without
// one fail on read once the cap is crossed.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			httputil.RespondError(c, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return
		}

		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}

		c.Next()
	}
}
