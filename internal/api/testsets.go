package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/models"
)

// TestSetHandler serves test set endpoints, including execution.
type TestSetHandler struct {
	svc TestSetService
	log *logrus.Logger
}

// NewTestSetHandler creates a TestSetHandler with the given service and logger.
func NewTestSetHandler(svc TestSetService, log *logrus.Logger) *TestSetHandler {
	return &TestSetHandler{svc: svc, log: log}
}

// List handles GET /api/v1/test-sets/.
func (h *TestSetHandler) List(c *gin.Context) {
	id, ok := getIdentity(c)
	if !ok {
		return
	}

	p, ok := listParams(c)
	if !ok {
		return
	}

	page, err := h.svc.ListTestSets(c.Request.Context(), id, p)
	if err != nil {
		respondServiceError(c, h.log, err, "test set")

		return
	}

	respondPage(c, page)
}

// Get handles GET /api/v1/test-sets/:id.
func (h *TestSetHandler) Get(c *gin.Context) {
	setID, ok := pathID(c, "id")
	if !ok {
		return
	}

	id, ok := getIdentity(c)
	if !ok {
		return
	}

	set, err := h.svc.GetTestSet(c.Request.Context(), id, setID)
	if err != nil {
		respondServiceError(c, h.log, err, "test set")

		return
	}

	c.JSON(http.StatusOK, set)
}

// Create handles POST /api/v1/test-sets/.
func (h *TestSetHandler) Create(c *gin.Context) {
	var req models.CreateTestSetRequest
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

	set, err := h.svc.CreateTestSet(c.Request.Context(), id, req)
	if err != nil {
		respondServiceError(c, h.log, err, "test set")

		return
	}

	c.JSON(http.StatusCreated, set)
}

// Update handles PUT /api/v1/test-sets/:id.
func (h *TestSetHandler) Update(c *gin.Context) {
	setID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req models.UpdateTestSetRequest
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

	set, err := h.svc.UpdateTestSet(c.Request.Context(), id, setID, req)
	if err != nil {
		respondServiceError(c, h.log, err, "test set")

		return
	}

	c.JSON(http.StatusOK, set)
}

// Delete handles DELETE /api/v1/test-sets/:id.
func (h *TestSetHandler) Delete(c *gin.Context) {
	setID, ok := pathID(c, "id")
	if !ok {
		return
	}

	id, ok := getIdentity(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteTestSet(c.Request.Context(), id, setID); err != nil {
		respondServiceError(c, h.log, err, "test set")

		return
	}

	c.Status(http.StatusNoContent)
}

// Execute handles POST /api/v1/test-sets/:id/execute. The run happens in
// the background; the response carries the task and run to poll.
func (h *TestSetHandler) Execute(c *gin.Context) {
	setID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req models.ExecuteTestSetRequest
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

	resp, err := h.svc.ExecuteTestSet(c.Request.Context(), id, setID, req)
	if err != nil {
		respondServiceError(c, h.log, err, "test set")

		return
	}

	h.log.WithFields(logrus.Fields{
		"organization_id": id.OrganizationID,
		"test_set_id":     setID,
		"test_run_id":     resp.TestRunID,
		"task_id":         resp.TaskID,
	}).Info("test set execution submitted")

	c.JSON(http.StatusAccepted, resp)
}
