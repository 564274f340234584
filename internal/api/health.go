// Package api provides the HTTP handlers and router of the Rhesis backend.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ClientCounter reports connected WebSocket clients.
type ClientCounter interface {
	ClientCount() int
}

// HealthHandler serves health check endpoints.
type HealthHandler struct {
	db        HealthChecker
	schema    SchemaChecker
	role      RoleChecker
	hub       ClientCounter
	log       *logrus.Logger
	version   string
	startTime time.Time
}

// NewHealthHandler creates a HealthHandler. Any checker may be nil.
func NewHealthHandler(
	db HealthChecker,
	schema SchemaChecker,
	role RoleChecker,
	hub ClientCounter,
	log *logrus.Logger,
	version string,
) *HealthHandler {
	return &HealthHandler{
		db:        db,
		schema:    schema,
		role:      role,
		hub:       hub,
		log:       log,
		version:   version,
		startTime: time.Now(),
	}
}

type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type healthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Database      string  `json:"database"`
	WSClients     int     `json:"ws_clients"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Liveness handles GET /api/v1/health. It always answers 200; the database
// state is informational.
func (h *HealthHandler) Liveness(c *gin.Context) {
	resp := healthResponse{
		Status:        "ok",
		Version:       h.version,
		Database:      "connected",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.db.HealthCheck(ctx); err != nil {
			resp.Database = "disconnected"
		}
	} else {
		resp.Database = "not_configured"
	}

	if h.hub != nil {
		resp.WSClients = h.hub.ClientCount()
	}

	c.JSON(http.StatusOK, resp)
}

// Readiness handles GET /api/v1/ready: the database must answer and carry
// the current schema, and its role must not bypass row-level security.
func (h *HealthHandler) Readiness(c *gin.Context) {
	checks := map[string]string{
		"database": "ok",
		"schema":   "ok",
		"role":     "ok",
	}
	status := "ready"
	statusCode := http.StatusOK

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if h.db == nil {
		checks["database"] = "not_configured"
		checks["schema"] = "unknown"
		checks["role"] = "unknown"
		c.JSON(http.StatusServiceUnavailable, readinessResponse{Status: "not_ready", Checks: checks})

		return
	}

	if err := h.db.HealthCheck(ctx); err != nil {
		h.log.WithError(err).Error("readiness: database health check failed")
		checks["database"] = "error"
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	switch {
	case checks["database"] != "ok":
		checks["schema"] = "unknown"
		checks["role"] = "unknown"
	default:
		if h.schema != nil {
			if err := h.schema.CheckSchema(ctx); err != nil {
				h.log.WithError(err).Error("readiness: schema check failed")
				checks["schema"] = "error"
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
			}
		}

		if h.role != nil {
			if err := h.role.CheckRole(ctx); err != nil {
				h.log.WithError(err).Error("readiness: database role bypasses row-level security")
				checks["role"] = "error"
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
			}
		}
	}

	c.JSON(statusCode, readinessResponse{
		Status: status,
		Checks: checks,
	})
}
