package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rhesis-ai/rhesis/internal/models"
)

// MemoryBroker keeps tasks in process memory. It serves single-process
// deployments and tests; nothing survives a restart.
type MemoryBroker struct {
	mu     sync.Mutex
	tasks  map[string]*Message
	groups map[string]*Group
	now    func() time.Time
}

// NewMemoryBroker creates an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		tasks:  make(map[string]*Message),
		groups: make(map[string]*Group),
		now:    time.Now,
	}
}

// Enqueue stores msg as queued.
func (b *MemoryBroker) Enqueue(_ context.Context, msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tasks[msg.ID]; ok {
		return fmt.Errorf("task %s: %w", msg.ID, models.ErrDuplicateKey)
	}

	now := b.now()
	stored := msg.clone()
	stored.State = StateQueued
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if stored.ETA.IsZero() {
		stored.ETA = now
	}

	b.tasks[msg.ID] = stored

	return nil
}

// Claim returns the earliest due message.
func (b *MemoryBroker) Claim(_ context.Context, now time.Time) (*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var due []*Message

	for _, m := range b.tasks {
		if (m.State == StateQueued || m.State == StateRetrying) && !m.ETA.After(now) {
			due = append(due, m)
		}
	}

	if len(due) == 0 {
		return nil, nil
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].ETA.Equal(due[j].ETA) {
			return due[i].ETA.Before(due[j].ETA)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})

	m := due[0]
	m.State = StateRunning
	m.Attempt++
	m.UpdatedAt = b.now()

	return m.clone(), nil
}

func (b *MemoryBroker) running(id string) (*Message, error) {
	m, ok := b.tasks[id]
	if !ok {
		return nil, models.ErrTaskNotFound
	}

	if m.State != StateRunning {
		return nil, ErrNotRunning
	}

	return m, nil
}

// Complete records the result of a running task.
func (b *MemoryBroker) Complete(_ context.Context, id string, result json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.running(id)
	if err != nil {
		return err
	}

	m.State = StateCompleted
	m.Result = append(json.RawMessage(nil), result...)
	m.Error = ""
	m.UpdatedAt = b.now()

	return nil
}

// Retry schedules another attempt after delay.
func (b *MemoryBroker) Retry(_ context.Context, id string, delay time.Duration, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.running(id)
	if err != nil {
		return err
	}

	now := b.now()
	m.State = StateRetrying
	m.ETA = now.Add(delay)
	m.Error = errMsg
	m.UpdatedAt = now

	return nil
}

// Fail records a terminal failure.
func (b *MemoryBroker) Fail(_ context.Context, id string, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.running(id)
	if err != nil {
		return err
	}

	m.State = StateFailed
	m.Error = errMsg
	m.UpdatedAt = b.now()

	return nil
}

// Revoke marks a task revoked unless it already finished.
func (b *MemoryBroker) Revoke(_ context.Context, id string) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.tasks[id]
	if !ok {
		return "", models.ErrTaskNotFound
	}

	prev := m.State
	if !prev.Terminal() {
		m.State = StateRevoked
		m.UpdatedAt = b.now()
	}

	return prev, nil
}

// Get returns a copy of the task.
func (b *MemoryBroker) Get(_ context.Context, id string) (*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.tasks[id]
	if !ok {
		return nil, models.ErrTaskNotFound
	}

	return m.clone(), nil
}

// QueueDepth counts messages waiting to run.
func (b *MemoryBroker) QueueDepth(_ context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, m := range b.tasks {
		if m.State == StateQueued || m.State == StateRetrying {
			n++
		}
	}

	return n, nil
}

// CreateGroup stores a pending group.
func (b *MemoryBroker) CreateGroup(_ context.Context, g *Group) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.groups[g.ID]; ok {
		return fmt.Errorf("group %s: %w", g.ID, models.ErrDuplicateKey)
	}

	now := b.now()
	stored := *g
	stored.MemberIDs = append([]string(nil), g.MemberIDs...)
	stored.State = GroupPending
	stored.CreatedAt = now
	stored.UpdatedAt = now
	b.groups[g.ID] = &stored

	return nil
}

// GetGroup returns a copy of the group.
func (b *MemoryBroker) GetGroup(_ context.Context, id string) (*Group, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", id, models.ErrNotFound)
	}

	c := *g
	c.MemberIDs = append([]string(nil), g.MemberIDs...)

	return &c, nil
}

// UpdateGroupState sets the group state.
func (b *MemoryBroker) UpdateGroupState(_ context.Context, id string, state GroupState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[id]
	if !ok {
		return fmt.Errorf("group %s: %w", id, models.ErrNotFound)
	}

	g.State = state
	g.UpdatedAt = b.now()

	return nil
}

// StuckGroups lists pending groups created before the cutoff.
func (b *MemoryBroker) StuckGroups(_ context.Context, createdBefore time.Time) ([]*Group, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*Group

	for _, g := range b.groups {
		if g.State == GroupPending && g.CreatedAt.Before(createdBefore) {
			c := *g
			c.MemberIDs = append([]string(nil), g.MemberIDs...)
			out = append(out, &c)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}
