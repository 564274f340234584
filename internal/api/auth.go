package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/middleware"
	"github.com/rhesis-ai/rhesis/internal/models"
)

// AuthHandler exchanges bearer tokens for session cookies.
type AuthHandler struct {
	tokens   TokenAuthenticator
	usage    TokenUsageRecorder
	sessions SessionStore
	guard    *middleware.BruteForceGuard
	log      *logrus.Logger
}

// NewAuthHandler creates an AuthHandler. usage and guard may be nil.
func NewAuthHandler(tokens TokenAuthenticator, usage TokenUsageRecorder, sessions SessionStore, guard *middleware.BruteForceGuard, log *logrus.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, usage: usage, sessions: sessions, guard: guard, log: log}
}

type loginRequest struct {
	Token string `json:"token"`
}

type loginResponse struct {
	OrganizationID string `json:"organization_id"`
	UserID         string `json:"user_id"`
}

// Login handles POST /api/v1/auth/login. The token comes from the body or
// the Authorization header; a valid one starts a session for its identity.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	raw := req.Token
	if raw == "" {
		raw = middleware.ExtractBearerToken(c)
	}

	if raw == "" {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "token is required")

		return
	}

	if h.guard.Reject(c, raw) {
		return
	}

	p, err := h.tokens.AuthenticateToken(c.Request.Context(), raw)
	if err != nil {
		if !errors.Is(err, models.ErrUnauthenticated) {
			respondServiceError(c, h.log, err, "token")

			return
		}

		h.guard.RecordFailure(c.ClientIP(), raw)

		h.log.WithField("client_ip", c.ClientIP()).Warn("login rejected")
		respondError(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid token")

		return
	}

	h.guard.ResetToken(raw)

	if err := h.sessions.Save(c.Writer, c.Request, p.Identity); err != nil {
		h.log.WithError(err).Error("saving session")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	if h.usage != nil {
		if err := h.usage.TouchLastUsed(c.Request.Context(), p.Identity, p.TokenID); err != nil {
			h.log.WithError(err).WithField("token_id", p.TokenID).Warn("recording token use")
		}
	}

	h.log.WithFields(logrus.Fields{
		"organization_id": p.Identity.OrganizationID,
		"user_id":         p.Identity.UserID,
		"token_id":        p.TokenID,
	}).Info("session started")

	c.JSON(http.StatusOK, loginResponse{OrganizationID: p.Identity.OrganizationID, UserID: p.Identity.UserID})
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.sessions.Destroy(c.Writer, c.Request); err != nil {
		h.log.WithError(err).Error("destroying session")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	c.Status(http.StatusNoContent)
}
