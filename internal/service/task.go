package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/domain"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/task"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// TaskBroker is the part of task.Broker TaskService uses.
type TaskBroker interface {
	Get(ctx context.Context, id string) (*task.Message, error)
	Revoke(ctx context.Context, id string) (task.State, error)
}

var _ domain.TaskService = (*TaskService)(nil)

// TaskService exposes task status and revocation to the caller's
// organization. Tasks of other organizations look missing.
type TaskService struct {
	broker      TaskBroker
	revocations task.Revocations
	auditWorker AuditEnqueuer
	log         *logrus.Logger
}

// NewTaskService creates a TaskService. revocations may be nil.
func NewTaskService(broker TaskBroker, revocations task.Revocations, auditWorker AuditEnqueuer, log *logrus.Logger) *TaskService {
	return &TaskService{broker: broker, revocations: revocations, auditWorker: auditWorker, log: log}
}

// GetTask returns a task of the caller's organization.
func (s *TaskService) GetTask(ctx context.Context, id tenant.Identity, taskID string) (*task.Message, error) {
	msg, err := s.broker.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if msg.OrganizationID() == "" || msg.OrganizationID() != id.OrganizationID {
		return nil, models.ErrTaskNotFound
	}

	return msg, nil
}

// RevokeTask revokes a queued or running task. Stopping a running attempt
// is best-effort: the worker holding it is signalled and cancels the
// attempt's context.
func (s *TaskService) RevokeTask(ctx context.Context, id tenant.Identity, taskID string) (*task.Message, error) {
	if _, err := s.GetTask(ctx, id, taskID); err != nil {
		return nil, err
	}

	prev, err := s.broker.Revoke(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("revoking task %s: %w", taskID, err)
	}

	if prev == task.StateRunning && s.revocations != nil {
		if err := s.revocations.Publish(ctx, taskID); err != nil {
			s.log.WithError(err).WithField("task_id", taskID).Warn("publishing revocation")
		}
	}

	auditAsync(ctx, s.auditWorker, id, models.AuditTaskRevoked, "task", taskID, map[string]any{"previous_state": prev})

	return s.broker.Get(ctx, taskID)
}
