package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/auth"
	"github.com/rhesis-ai/rhesis/internal/httputil"
	"github.com/rhesis-ai/rhesis/internal/metrics"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// authTimingFloor is the minimum response time for rejected requests so a
// caller cannot tell an unknown token from a revoked one by latency.
const authTimingFloor = 50 * time.Millisecond

// PrincipalKey is the gin context key holding the auth.Principal.
const PrincipalKey = "principal"

// RouteClass says which credentials a route accepts.
type RouteClass int

const (
	// Public routes need no credentials and get no tenant.
	Public RouteClass = iota
	// TokenOrSession routes accept a bearer token, falling back to the session cookie.
	TokenOrSession
	// SessionOnly routes accept only the session cookie.
	SessionOnly
)

func (rc RouteClass) String() string {
	switch rc {
	case TokenOrSession:
		return "token_or_session"
	case SessionOnly:
		return "session_only"
	default:
		return "public"
	}
}

// TokenAuthenticator verifies a raw bearer token.
type TokenAuthenticator interface {
	AuthenticateToken(ctx context.Context, raw string) (auth.Principal, error)
}

// SessionLoader reads the identity from a session cookie.
type SessionLoader interface {
	Load(r *http.Request) (tenant.Identity, bool)
}

// Authenticator is the only place a request's tenant identity is set.
type Authenticator struct {
	tokens   TokenAuthenticator
	sessions SessionLoader
	guard    *BruteForceGuard
	log      *logrus.Logger
}

// NewAuthenticator creates the authentication middleware factory. guard
// may be nil.
func NewAuthenticator(tokens TokenAuthenticator, sessions SessionLoader, log *logrus.Logger, guard *BruteForceGuard) *Authenticator {
	return &Authenticator{tokens: tokens, sessions: sessions, guard: guard, log: log}
}

// enforceTimingFloor sleeps if needed so the response takes at least authTimingFloor.
func enforceTimingFloor(start time.Time) {
	if elapsed := time.Since(start); elapsed < authTimingFloor {
		time.Sleep(authTimingFloor - elapsed)
	}
}

// Require returns middleware for a route class. On success the request
// context carries a fresh tenant store holding the caller's identity for
// the handler's duration; the store is cleared when the handler returns.
func (a *Authenticator) Require(class RouteClass) gin.HandlerFunc {
	if class == Public {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if c.Writer.Status() == http.StatusUnauthorized {
				enforceTimingFloor(start)
			}
		}()

		p, ok := a.resolve(c, class)
		if !ok {
			return
		}

		ctx, store := tenant.NewContext(c.Request.Context())
		if err := store.Set(p.Identity); err != nil {
			a.log.WithError(err).Error("populating tenant store")
			httputil.RespondError(c, http.StatusInternalServerError, "internal_error", "internal server error")

			return
		}
		defer store.Clear()

		c.Request = c.Request.WithContext(ctx)
		c.Set(PrincipalKey, p)
		c.Next()
	}
}

// resolve finds the caller or writes the error response.
func (a *Authenticator) resolve(c *gin.Context, class RouteClass) (auth.Principal, bool) {
	var backendErr error

	if class == TokenOrSession {
		if raw := ExtractBearerToken(c); raw != "" {
			if a.guard.Reject(c, raw) {
				return auth.Principal{}, false
			}

			p, err := a.tokens.AuthenticateToken(c.Request.Context(), raw)
			if err == nil {
				a.guard.ResetToken(raw)

				return p, true
			}

			if errors.Is(err, models.ErrUnauthenticated) {
				a.logAuthFailure(c, err)
				a.guard.RecordFailure(c.ClientIP(), raw)
			} else {
				backendErr = err
			}
		}
	}

	if id, ok := a.sessions.Load(c.Request); ok {
		return auth.Principal{Identity: id, Method: auth.MethodSession}, true
	}

	if backendErr != nil {
		a.log.WithError(backendErr).WithField("request_id", c.GetString(RequestIDKey)).Error("token lookup failed")
		httputil.RespondError(c, http.StatusInternalServerError, "internal_error", "internal server error")

		return auth.Principal{}, false
	}

	metrics.AuthFailures.WithLabelValues(class.String()).Inc()

	msg := "missing or invalid credentials"
	if class == SessionOnly {
		msg = "session required"
	}

	httputil.RespondError(c, http.StatusUnauthorized, "unauthorized", msg)

	return auth.Principal{}, false
}

// GetPrincipal returns the authenticated caller set by Require.
func GetPrincipal(c *gin.Context) (auth.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return auth.Principal{}, false
	}

	p, ok := v.(auth.Principal)

	return p, ok
}

// ExtractBearerToken extracts the token from the Authorization header.
func ExtractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// logAuthFailure logs a rejected bearer token. The token itself is never logged.
func (a *Authenticator) logAuthFailure(c *gin.Context, err error) {
	reason := "invalid"

	switch {
	case errors.Is(err, models.ErrTokenExpired):
		reason = "expired"
	case errors.Is(err, models.ErrTokenRevoked):
		reason = "revoked"
	}

	metrics.AuthFailures.WithLabelValues("token_" + reason).Inc()

	a.log.WithFields(logrus.Fields{
		"client_ip":  c.ClientIP(),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"user_agent": c.Request.UserAgent(),
		"request_id": c.GetString(RequestIDKey),
		"reason":     reason,
	}).Warn("authentication failed: bearer token rejected")
}
