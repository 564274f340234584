package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/models"
)

// Audit limits.
const (
	maxAuditLimit        = 1000 // entries per page
	defaultRetentionDays = 90
)

// AuditHandler serves audit log endpoints.
type AuditHandler struct {
	svc       AuditService
	log       *logrus.Logger
	retention int
}

// NewAuditHandler creates an AuditHandler. retentionDays is the purge
// default when the request names none.
func NewAuditHandler(svc AuditService, log *logrus.Logger, retentionDays int) *AuditHandler {
	if retentionDays < 1 {
		retentionDays = defaultRetentionDays
	}

	return &AuditHandler{svc: svc, log: log, retention: retentionDays}
}

func queryInt(c *gin.Context, name string, fallback, maxValue int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v < 0 {
		return fallback
	}

	return min(v, maxValue)
}

// Query handles GET /api/v1/audit.
func (h *AuditHandler) Query(c *gin.Context) {
	id, ok := getIdentity(c)
	if !ok {
		return
	}

	opts := models.AuditQueryOpts{
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		Action:     c.Query("action"),
		RequestID:  c.Query("request_id"),
		Limit:      queryInt(c, "limit", 50, maxAuditLimit),
		Offset:     queryInt(c, "offset", 0, 100000),
	}

	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid since format, use RFC3339")
			return
		}
		opts.Since = &t
	}

	entries, hasMore, err := h.svc.QueryAudit(c.Request.Context(), id, opts)
	if err != nil {
		respondServiceError(c, h.log, err, "audit entry")
		return
	}

	if entries == nil {
		entries = []models.AuditEntry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":     entries,
		"has_more": hasMore,
	})
}

// Purge handles DELETE /api/v1/audit.
func (h *AuditHandler) Purge(c *gin.Context) {
	id, ok := getIdentity(c)
	if !ok {
		return
	}

	retentionDays := h.retention
	if rd := c.Query("retention_days"); rd != "" {
		v, err := strconv.Atoi(rd)
		if err != nil || v < 1 {
			respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "retention_days must be a positive integer")
			return
		}
		retentionDays = v
	}

	deleted, err := h.svc.PurgeOldEntries(c.Request.Context(), id, retentionDays)
	if err != nil {
		respondServiceError(c, h.log, err, "audit entry")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deleted":        deleted,
		"retention_days": retentionDays,
	})
}
