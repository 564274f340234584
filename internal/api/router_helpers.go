package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/auth"
	"github.com/rhesis-ai/rhesis/internal/middleware"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
	"github.com/rhesis-ai/rhesis/internal/ws"
)

// getIdentity returns the caller's identity from the request's tenant
// store. Handlers behind Require always find a complete one.
func getIdentity(c *gin.Context) (tenant.Identity, bool) {
	id := tenant.IdentityFromContext(c.Request.Context())
	if !id.Complete() {
		respondError(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")

		return tenant.Identity{}, false
	}

	return id, true
}

// pathID reads a UUID path parameter.
func pathID(c *gin.Context, name string) (string, bool) {
	id := c.Param(name)
	if !models.IsUUID(id) {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid "+name)

		return "", false
	}

	return id, true
}

// listParams reads skip, limit, sort_by and sort_order. Column names are
// checked by the store.
func listParams(c *gin.Context) (models.ListParams, bool) {
	p := models.ListParams{
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}

	for _, q := range []struct {
		name string
		dst  *int
	}{{"skip", &p.Skip}, {"limit", &p.Limit}} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}

		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, q.name+" must be a non-negative integer")

			return models.ListParams{}, false
		}

		*q.dst = v
	}

	return p, true
}

// respondPage writes the page items with the total in X-Total-Count.
func respondPage[T any](c *gin.Context, page models.Page[T]) {
	items := page.Items
	if items == nil {
		items = []T{}
	}

	c.Header("X-Total-Count", strconv.Itoa(page.Total))
	c.JSON(http.StatusOK, items)
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return false
	}

	return true
}

func wsHandler(appCtx context.Context, log *logrus.Logger, hub *ws.Hub, corsOrigins []string, validator ws.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := getIdentity(c)
		if !ok {
			return
		}

		// Only token connections are re-validated; sessions keep their cookie lifetime.
		var token string
		if p, ok := middleware.GetPrincipal(c); ok && p.Method == auth.MethodToken {
			token = middleware.ExtractBearerToken(c)
		}

		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			OriginPatterns:       corsOrigins,
			CompressionMode:      websocket.CompressionContextTakeover,
			CompressionThreshold: 128,
		})
		if err != nil {
			log.WithError(err).Error("websocket accept failed")

			return
		}

		client := ws.NewClient(hub, conn, id, validator, token)
		hub.Register(client)

		// Derive a context that cancels when either the server shuts down or the request ends.
		wsCtx, wsCancel := context.WithCancel(appCtx)
		go func() {
			select {
			case <-c.Request.Context().Done():
				wsCancel()
			case <-wsCtx.Done():
			}
		}()

		go client.WritePump(wsCtx)
		client.ReadPump(wsCtx)
		wsCancel()
	}
}

func ginLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}
		if rid, exists := c.Get(middleware.RequestIDKey); exists {
			fields["request_id"] = rid
		}
		if p, ok := middleware.GetPrincipal(c); ok {
			fields["organization_id"] = p.Identity.OrganizationID
			fields["user_id"] = p.Identity.UserID
			fields["auth"] = p.Method
		}
		log.WithFields(fields).Info("request")
	}
}
