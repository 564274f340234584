package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TestRunHandler serves read-only test run endpoints.
type TestRunHandler struct {
	svc TestRunService
	log *logrus.Logger
}

// NewTestRunHandler creates a TestRunHandler.
func NewTestRunHandler(svc TestRunService, log *logrus.Logger) *TestRunHandler {
	return &TestRunHandler{svc: svc, log: log}
}

// List handles GET /api/v1/test-runs/.
func (h *TestRunHandler) List(c *gin.Context) {
	id, ok := getIdentity(c)
	if !ok {
		return
	}

	p, ok := listParams(c)
	if !ok {
		return
	}

	page, err := h.svc.ListTestRuns(c.Request.Context(), id, p)
	if err != nil {
		respondServiceError(c, h.log, err, "test run")

		return
	}

	respondPage(c, page)
}

// Get handles GET /api/v1/test-runs/:id and includes the results.
func (h *TestRunHandler) Get(c *gin.Context) {
	runID, ok := pathID(c, "id")
	if !ok {
		return
	}

	id, ok := getIdentity(c)
	if !ok {
		return
	}

	run, err := h.svc.GetTestRun(c.Request.Context(), id, runID)
	if err != nil {
		respondServiceError(c, h.log, err, "test run")

		return
	}

	c.JSON(http.StatusOK, run)
}
