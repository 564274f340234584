// Package httputil provides shared HTTP response helpers.
package httputil

import (
	"github.com/gin-gonic/gin"

	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// ErrorBody is the JSON shape of every API error.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// RespondError writes an ErrorBody and aborts the request.
func RespondError(c *gin.Context, status int, code, message string) {
	body := ErrorBody{Code: code, Message: message}
	if c.Request != nil {
		body.RequestID = tenant.RequestIDFromContext(c.Request.Context())
	}

	c.AbortWithStatusJSON(status, body)
}
