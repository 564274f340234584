package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/models"
)

// TokenHandler serves the caller's API tokens.
type TokenHandler struct {
	svc TokenService
	log *logrus.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(svc TokenService, log *logrus.Logger) *TokenHandler {
	return &TokenHandler{svc: svc, log: log}
}

// Create handles POST /api/v1/tokens/. The bearer value is only in this
// response.
func (h *TokenHandler) Create(c *gin.Context) {
	var req models.CreateTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	if _, err := req.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, err.Error())

		return
	}

	id, ok := getIdentity(c)
	if !ok {
		return
	}

	created, err := h.svc.MintToken(c.Request.Context(), id, req)
	if err != nil {
		respondServiceError(c, h.log, err, "token")

		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, created)
}

// List handles GET /api/v1/tokens/.
func (h *TokenHandler) List(c *gin.Context) {
	id, ok := getIdentity(c)
	if !ok {
		return
	}

	p, ok := listParams(c)
	if !ok {
		return
	}

	page, err := h.svc.ListTokens(c.Request.Context(), id, p)
	if err != nil {
		respondServiceError(c, h.log, err, "token")

		return
	}

	respondPage(c, page)
}

// Revoke handles DELETE /api/v1/tokens/:id.
func (h *TokenHandler) Revoke(c *gin.Context) {
	tokenID, ok := pathID(c, "id")
	if !ok {
		return
	}

	id, ok := getIdentity(c)
	if !ok {
		return
	}

	if err := h.svc.RevokeToken(c.Request.Context(), id, tokenID); err != nil {
		respondServiceError(c, h.log, err, "token")

		return
	}

	c.Status(http.StatusNoContent)
}
