package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/models"
)

// EndpointHandler serves endpoint CRUD endpoints.
type EndpointHandler struct {
	svc EndpointService
	log *logrus.Logger
}

// NewEndpointHandler creates a EndpointHandler with the given service and logger.
func NewEndpointHandler(svc EndpointService, log *logrus.Logger) *EndpointHandler {
	return &EndpointHandler{svc: svc, log: log}
}

// List handles GET /api/v1/endpoints/.
func (h *EndpointHandler) List(c *gin.Context) {
	id, ok := getIdentity(c)
	if !ok {
		return
	}

	p, ok := listParams(c)
	if !ok {
		return
	}

	page, err := h.svc.ListEndpoints(c.Request.Context(), id, p)
	if err != nil {
		respondServiceError(c, h.log, err, "endpoint")

		return
	}

	respondPage(c, page)
}

// Get handles GET /api/v1/endpoints/:id.
func (h *EndpointHandler) Get(c *gin.Context) {
	endpointID, ok := pathID(c, "id")
	if !ok {
		return
	}

	id, ok := getIdentity(c)
	if !ok {
		return
	}

	endpoint, err := h.svc.GetEndpoint(c.Request.Context(), id, endpointID)
	if err != nil {
		respondServiceError(c, h.log, err, "endpoint")

		return
	}

	c.JSON(http.StatusOK, endpoint)
}

// Create handles POST /api/v1/endpoints/.
func (h *EndpointHandler) Create(c *gin.Context) {
	var req models.CreateEndpointRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := req.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, err.Error())

		return
	}

	id, ok := getIdentity(c)
	if !ok {
		return
	}

	endpoint, err := h.svc.CreateEndpoint(c.Request.Context(), id, req)
	if err != nil {
		respondServiceError(c, h.log, err, "endpoint")

		return
	}

	c.JSON(http.StatusCreated, endpoint)
}

// Update handles PUT /api/v1/endpoints/:id.
func (h *EndpointHandler) Update(c *gin.Context) {
	endpointID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req models.UpdateEndpointRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := req.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, err.Error())

		return
	}

	id, ok := getIdentity(c)
	if !ok {
		return
	}

	endpoint, err := h.svc.UpdateEndpoint(c.Request.Context(), id, endpointID, req)
	if err != nil {
		respondServiceError(c, h.log, err, "endpoint")

		return
	}

	c.JSON(http.StatusOK, endpoint)
}

// Delete handles DELETE /api/v1/endpoints/:id.
func (h *EndpointHandler) Delete(c *gin.Context) {
	endpointID, ok := pathID(c, "id")
	if !ok {
		return
	}

	id, ok := getIdentity(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteEndpoint(c.Request.Context(), id, endpointID); err != nil {
		respondServiceError(c, h.log, err, "endpoint")

		return
	}

	c.Status(http.StatusNoContent)
}
