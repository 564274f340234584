package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/task"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

func submitAs(t *testing.T, b task.Broker, id tenant.Identity) *task.Message {
	t.Helper()

	sub := task.NewSubmitter(b, quietLogger(), task.SubmitterConfig{})
	msg, err := sub.Submit(context.Background(), "noop", nil, task.WithIdentity(id))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return msg
}

func TestGetTaskHidesOtherOrganizations(t *testing.T) {
	broker := task.NewMemoryBroker()
	svc := NewTaskService(broker, nil, nil, quietLogger())

	owner := tenant.Identity{OrganizationID: uuid.NewString(), UserID: uuid.NewString()}
	msg := submitAs(t, broker, owner)

	got, err := svc.GetTask(context.Background(), owner, msg.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.ID != msg.ID {
		t.Errorf("got %s", got.ID)
	}

	stranger := tenant.Identity{OrganizationID: uuid.NewString(), UserID: owner.UserID}
	if _, err := svc.GetTask(context.Background(), stranger, msg.ID); !errors.Is(err, models.ErrTaskNotFound) {
		t.Errorf("cross-organization GetTask = %v", err)
	}

	if _, err := svc.RevokeTask(context.Background(), stranger, msg.ID); !errors.Is(err, models.ErrTaskNotFound) {
		t.Errorf("cross-organization RevokeTask = %v", err)
	}
}

func TestRevokeRunningTaskPublishes(t *testing.T) {
	broker := task.NewMemoryBroker()
	revocations := task.NewLocalRevocations()
	audit := &syncAudit{}
	svc := NewTaskService(broker, revocations, audit, quietLogger())

	var published []string
	defer revocations.Subscribe(func(id string) { published = append(published, id) })()

	id := tenant.Identity{OrganizationID: uuid.NewString(), UserID: uuid.NewString()}
	queued := submitAs(t, broker, id)

	got, err := svc.RevokeTask(context.Background(), id, queued.ID)
	if err != nil {
		t.Fatalf("RevokeTask queued: %v", err)
	}
	if got.State != task.StateRevoked {
		t.Errorf("state = %s", got.State)
	}
	if len(published) != 0 {
		t.Errorf("revocation of a queued task was published: %v", published)
	}

	running := submitAs(t, broker, id)
	if _, err := broker.Claim(context.Background(), running.ETA); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if _, err := svc.RevokeTask(context.Background(), id, running.ID); err != nil {
		t.Fatalf("RevokeTask running: %v", err)
	}
	if len(published) != 1 || published[0] != running.ID {
		t.Errorf("published = %v", published)
	}

	if got := audit.actions(); len(got) != 2 || got[1] != models.AuditTaskRevoked {
		t.Errorf("audit = %v", got)
	}
}
