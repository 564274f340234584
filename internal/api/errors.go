package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/httputil"
	"github.com/rhesis-ai/rhesis/internal/metrics"
	"github.com/rhesis-ai/rhesis/internal/models"
)

// Error code constants for standardized API responses.
const (
	ErrCodeInvalidRequest  = "invalid_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeInternalError   = "internal_error"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeForbidden       = "forbidden"
	ErrCodeConflict        = "conflict"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeValidationError = "validation_error"
)

// respondError writes a standardized JSON error response, pulling the request
// ID from the Gin context (set by the request ID middleware).
func respondError(c *gin.Context, status int, code, message string) {
	metrics.ErrorsTotal.WithLabelValues(code).Inc()
	httputil.RespondError(c, status, code, message)
}

var validationErrors = []error{
	models.ErrMissingName,
	models.ErrMissingOrganization,
	models.ErrMissingUser,
	models.ErrMissingURL,
	models.ErrMissingPrompt,
	models.ErrInvalidID,
	models.ErrInvalidSort,
}

// respondServiceError maps a service error onto a response. what names the
// entity in not-found messages. Unexpected errors are logged and hidden.
func respondServiceError(c *gin.Context, log *logrus.Logger, err error, what string) {
	switch {
	case models.IsNotFound(err):
		respondError(c, http.StatusNotFound, ErrCodeNotFound, what+" not found")
	case errors.Is(err, models.ErrUnauthenticated):
		respondError(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	case errors.Is(err, models.ErrForbidden):
		respondError(c, http.StatusForbidden, ErrCodeForbidden, "forbidden")
	case errors.Is(err, models.ErrDuplicateKey):
		respondError(c, http.StatusConflict, ErrCodeConflict, what+" already exists")
	case errors.Is(err, models.ErrForeignKey):
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, "referenced entity does not exist")
	case isValidationError(err):
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, err.Error())
	default:
		log.WithError(err).WithField("request_id", c.GetString("request_id")).Errorf("%s request failed", what)
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
	}
}

func isValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
