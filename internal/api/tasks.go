package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TaskHandler serves task status and revocation.
type TaskHandler struct {
	svc TaskService
	log *logrus.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(svc TaskService, log *logrus.Logger) *TaskHandler {
	return &TaskHandler{svc: svc, log: log}
}

// Get handles GET /api/v1/tasks/:id.
func (h *TaskHandler) Get(c *gin.Context) {
	taskID, ok := pathID(c, "id")
	if !ok {
		return
	}

	id, ok := getIdentity(c)
	if !ok {
		return
	}

	msg, err := h.svc.GetTask(c.Request.Context(), id, taskID)
	if err != nil {
		respondServiceError(c, h.log, err, "task")

		return
	}

	c.JSON(http.StatusOK, msg)
}

// Revoke handles DELETE /api/v1/tasks/:id.
func (h *TaskHandler) Revoke(c *gin.Context) {
	taskID, ok := pathID(c, "id")
	if !ok {
		return
	}

	id, ok := getIdentity(c)
	if !ok {
		return
	}

	msg, err := h.svc.RevokeTask(c.Request.Context(), id, taskID)
	if err != nil {
		respondServiceError(c, h.log, err, "task")

		return
	}

	c.JSON(http.StatusOK, msg)
}
