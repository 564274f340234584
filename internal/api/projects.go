package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/models"
)

// ProjectHandler serves project CRUD endpoints.
type ProjectHandler struct {
	svc ProjectService
	log *logrus.Logger
}

// NewProjectHandler creates a ProjectHandler with the given service and logger.
func NewProjectHandler(svc ProjectService, log *logrus.Logger) *ProjectHandler {
	return &ProjectHandler{svc: svc, log: log}
}

// List handles GET /api/v1/projects/.
func (h *ProjectHandler) List(c *gin.Context) {
	id, ok := getIdentity(c)
	if !ok {
		return
	}

	p, ok := listParams(c)
	if !ok {
		return
	}

	page, err := h.svc.ListProjects(c.Request.Context(), id, p)
	if err != nil {
		respondServiceError(c, h.log, err, "project")

		return
	}

	respondPage(c, page)
}

// Get handles GET /api/v1/projects/:id.
func (h *ProjectHandler) Get(c *gin.Context) {
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}

	id, ok := getIdentity(c)
	if !ok {
		return
	}

	project, err := h.svc.GetProject(c.Request.Context(), id, projectID)
	if err != nil {
		respondServiceError(c, h.log, err, "project")

		return
	}

	c.JSON(http.StatusOK, project)
}

// Create handles POST /api/v1/projects/.
func (h *ProjectHandler) Create(c *gin.Context) {
	var req models.CreateProjectRequest
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

	project, err := h.svc.CreateProject(c.Request.Context(), id, req)
	if err != nil {
		respondServiceError(c, h.log, err, "project")

		return
	}

	c.JSON(http.StatusCreated, project)
}

// Update handles PUT /api/v1/projects/:id.
func (h *ProjectHandler) Update(c *gin.Context) {
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req models.UpdateProjectRequest
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

	project, err := h.svc.UpdateProject(c.Request.Context(), id, projectID, req)
	if err != nil {
		respondServiceError(c, h.log, err, "project")

		return
	}

	c.JSON(http.StatusOK, project)
}

// Delete handles DELETE /api/v1/projects/:id.
func (h *ProjectHandler) Delete(c *gin.Context) {
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}

	id, ok := getIdentity(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteProject(c.Request.Context(), id, projectID); err != nil {
		respondServiceError(c, h.log, err, "project")

		return
	}

	c.Status(http.StatusNoContent)
}
