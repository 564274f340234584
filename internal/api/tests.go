package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/models"
)

// TestHandler serves test CRUD endpoints.
type TestHandler struct {
	svc TestService
	log *logrus.Logger
}

// NewTestHandler creates a TestHandler with the given service and logger.
func NewTestHandler(svc TestService, log *logrus.Logger) *TestHandler {
	return &TestHandler{svc: svc, log: log}
}

// List handles GET /api/v1/tests/.
func (h *TestHandler) List(c *gin.Context) {
	id, ok := getIdentity(c)
	if !ok {
		return
	}

	p, ok := listParams(c)
	if !ok {
		return
	}

	page, err := h.svc.ListTests(c.Request.Context(), id, p)
	if err != nil {
		respondServiceError(c, h.log, err, "test")

		return
	}

	respondPage(c, page)
}

// Get handles GET /api/v1/tests/:id.
func (h *TestHandler) Get(c *gin.Context) {
	testID, ok := pathID(c, "id")
	if !ok {
		return
	}

	id, ok := getIdentity(c)
	if !ok {
		return
	}

	test, err := h.svc.GetTest(c.Request.Context(), id, testID)
	if err != nil {
		respondServiceError(c, h.log, err, "test")

		return
	}

	c.JSON(http.StatusOK, test)
}

// Create handles POST /api/v1/tests/.
func (h *TestHandler) Create(c *gin.Context) {
	var req models.CreateTestRequest
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

	test, err := h.svc.CreateTest(c.Request.Context(), id, req)
	if err != nil {
		respondServiceError(c, h.log, err, "test")

		return
	}

	c.JSON(http.StatusCreated, test)
}

// Update handles PUT /api/v1/tests/:id.
func (h *TestHandler) Update(c *gin.Context) {
	testID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req models.UpdateTestRequest
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

	test, err := h.svc.UpdateTest(c.Request.Context(), id, testID, req)
	if err != nil {
		respondServiceError(c, h.log, err, "test")

		return
	}

	c.JSON(http.StatusOK, test)
}

// Delete handles DELETE /api/v1/tests/:id.
func (h *TestHandler) Delete(c *gin.Context) {
	testID, ok := pathID(c, "id")
	if !ok {
		return
	}

	id, ok := getIdentity(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteTest(c.Request.Context(), id, testID); err != nil {
		respondServiceError(c, h.log, err, "test")

		return
	}

	c.Status(http.StatusNoContent)
}
