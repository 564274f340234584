package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminHandler serves cross-organization endpoints. Access is decided by
// the service, which refuses callers that are not superusers.
type AdminHandler struct {
	svc AdminService
	log *logrus.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc AdminService, log *logrus.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, log: log}
}

// ListOrganizations handles GET /api/v1/admin/organizations.
func (h *AdminHandler) ListOrganizations(c *gin.Context) {
	id, ok := getIdentity(c)
	if !ok {
		return
	}

	p, ok := listParams(c)
	if !ok {
		return
	}

	page, err := h.svc.ListOrganizations(c.Request.Context(), id, p)
	if err != nil {
		respondServiceError(c, h.log, err, "organization")

		return
	}

	respondPage(c, page)
}
