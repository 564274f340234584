package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/metrics"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// ExhaustedHook runs when a group is abandoned without its callback. It
// receives the callback arguments the group was submitted with, and its
// context carries the group's identity.
type ExhaustedHook func(ctx context.Context, g *Group, callbackArgs map[string]any) error

// JoinArgs are the arguments of the join task.
type JoinArgs struct {
	GroupID      string         `json:"group_id"`
	CallbackArgs map[string]any `json:"callback_args"`
}

// GroupCoordinator runs group joins and cleans up groups that cannot finish.
type GroupCoordinator struct {
	broker      Broker
	submitter   *Submitter
	revocations Revocations
	log         *logrus.Logger

	mu    sync.RWMutex
	hooks map[string]ExhaustedHook
}

// NewGroupCoordinator creates a GroupCoordinator. revocations may be nil.
func NewGroupCoordinator(broker Broker, submitter *Submitter, revocations Revocations, log *logrus.Logger) *GroupCoordinator {
	return &GroupCoordinator{
		broker:      broker,
		submitter:   submitter,
		revocations: revocations,
		log:         log,
		hooks:       make(map[string]ExhaustedHook),
	}
}

// Register installs the join handler.
func (c *GroupCoordinator) Register(r *Registry) {
	r.Register(JoinTaskName, c.Join)
}

// OnExhausted sets the hook for groups whose callback is callbackName.
func (c *GroupCoordinator) OnExhausted(callbackName string, hook ExhaustedHook) {
	c.mu.Lock()
	c.hooks[callbackName] = hook
	c.mu.Unlock()
}

// callbackID derives the callback task id from the group so a repeated
// join cannot submit the callback twice.
func callbackID(groupID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("rhesis.group.callback:"+groupID)).String()
}

// Join checks the group's members. While any member is not terminal it asks
// to be retried after the join interval; on its last attempt it abandons
// the group instead. Once every member is terminal it submits the callback
// with one result per member, null for members that did not complete.
func (c *GroupCoordinator) Join(ctx context.Context, msg *Message) (any, error) {
	var args JoinArgs
	if err := msg.DecodeArgs(&args); err != nil {
		return nil, Permanent(err)
	}

	g, err := c.broker.GetGroup(ctx, args.GroupID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, Permanent(err)
		}
		return nil, err
	}

	if g.State != GroupPending {
		return map[string]any{"group_id": g.ID, "state": g.State}, nil
	}

	results, pending, err := c.collect(ctx, g)
	if err != nil {
		return nil, err
	}

	if len(pending) > 0 {
		if msg.LastAttempt() {
			c.abandon(ctx, g, pending, args.CallbackArgs)

			return nil, Permanent(&models.JoinExhaustedError{
				GroupID:  g.ID,
				Attempts: msg.Attempt,
				Pending:  pending,
			})
		}

		return nil, &RetryAfter{
			Delay: c.submitter.JoinInterval(),
			Err:   fmt.Errorf("group %s: %d of %d member(s) pending", g.ID, len(pending), len(g.MemberIDs)),
		}
	}

	cbArgs := make(map[string]any, len(args.CallbackArgs)+2)
	maps.Copy(cbArgs, args.CallbackArgs)
	cbArgs["results"] = results
	cbArgs["group_id"] = g.ID

	cbID := callbackID(g.ID)

	_, err = c.submitter.Submit(ctx, g.Callback, cbArgs,
		WithIdentity(msg.Identity()),
		WithTaskID(cbID),
	)
	if err != nil && !errors.Is(err, models.ErrDuplicateKey) {
		return nil, fmt.Errorf("submitting callback of group %s: %w", g.ID, err)
	}

	if err := c.broker.UpdateGroupState(ctx, g.ID, GroupCompleted); err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"group_id":    g.ID,
		"callback_id": cbID,
	}).Debug("group joined")

	return map[string]any{"group_id": g.ID, "callback_task_id": cbID}, nil
}

// collect returns each member's result, or nil for members that did not
// complete, and the ids of members that are not yet terminal.
func (c *GroupCoordinator) collect(ctx context.Context, g *Group) ([]json.RawMessage, []string, error) {
	results := make([]json.RawMessage, len(g.MemberIDs))
	var pending []string

	for i, id := range g.MemberIDs {
		m, err := c.broker.Get(ctx, id)
		if err != nil {
			if models.IsNotFound(err) {
				// A member that was never stored counts as failed.
				continue
			}
			return nil, nil, err
		}

		if !m.State.Terminal() {
			pending = append(pending, id)
			continue
		}

		if m.State == StateCompleted {
			results[i] = m.Result
		}
	}

	return results, pending, nil
}

// abandon revokes the pending members, marks the group partial_failure and
// runs the exhaustion hook. The callback is not submitted.
func (c *GroupCoordinator) abandon(ctx context.Context, g *Group, pending []string, callbackArgs map[string]any) {
	log := c.log.WithFields(logrus.Fields{
		"group_id": g.ID,
		"callback": g.Callback,
		"pending":  len(pending),
	})

	for _, id := range pending {
		c.revoke(ctx, log, id)
	}

	if err := c.broker.UpdateGroupState(ctx, g.ID, GroupPartialFailure); err != nil {
		log.WithError(err).Error("marking group partial failure")
	}

	metrics.JoinExhausted.Inc()

	c.mu.RLock()
	hook := c.hooks[g.Callback]
	c.mu.RUnlock()

	if hook != nil {
		if err := hook(ctx, g, callbackArgs); err != nil {
			log.WithError(err).Error("group exhaustion hook failed")
		}
	}

	log.Warn("group abandoned with members still pending")
}

func (c *GroupCoordinator) revoke(ctx context.Context, log *logrus.Entry, taskID string) {
	prev, err := c.broker.Revoke(ctx, taskID)
	if err != nil {
		log.WithError(err).WithField("task_id", taskID).Warn("revoking stuck task")
		return
	}

	if prev == StateRunning && c.revocations != nil {
		if err := c.revocations.Publish(ctx, taskID); err != nil {
			log.WithError(err).WithField("task_id", taskID).Warn("publishing revocation")
		}
	}
}

// GroupSweeper periodically abandons groups that stayed pending past a
// deadline, for example because their join task was lost.
type GroupSweeper struct {
	broker      Broker
	coordinator *GroupCoordinator
	log         *logrus.Logger
	stuckAfter  time.Duration
	interval    time.Duration
	now         func() time.Time
}

// NewGroupSweeper creates a GroupSweeper.
func NewGroupSweeper(broker Broker, coordinator *GroupCoordinator, log *logrus.Logger, stuckAfter, interval time.Duration) *GroupSweeper {
	return &GroupSweeper{
		broker:      broker,
		coordinator: coordinator,
		log:         log,
		stuckAfter:  stuckAfter,
		interval:    interval,
		now:         time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *GroupSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Warn("sweeping stuck groups")
			}
		}
	}
}

// SweepOnce abandons every group stuck past the deadline and returns how
// many were cleaned up.
func (s *GroupSweeper) SweepOnce(ctx context.Context) (int, error) {
	groups, err := s.broker.StuckGroups(ctx, s.now().Add(-s.stuckAfter))
	if err != nil {
		return 0, err
	}

	for _, g := range groups {
		if err := s.sweep(ctx, g); err != nil {
			s.log.WithError(err).WithField("group_id", g.ID).Warn("cleaning up stuck group")
			continue
		}
		metrics.StuckGroups.Inc()
	}

	return len(groups), nil
}

func (s *GroupSweeper) sweep(ctx context.Context, g *Group) error {
	id := tenant.Identity{OrganizationID: g.OrganizationID}

	var args JoinArgs

	join, err := s.broker.Get(ctx, g.JoinTaskID)
	switch {
	case err == nil:
		id = join.Identity()
		if err := join.DecodeArgs(&args); err != nil {
			return err
		}
	case !models.IsNotFound(err):
		return err
	}

	ctx, store := tenant.WithIdentity(ctx, id)
	defer store.Clear()

	log := s.log.WithField("group_id", g.ID)
	s.coordinator.revoke(ctx, log, g.JoinTaskID)

	_, pending, err := s.coordinator.collect(ctx, g)
	if err != nil {
		return err
	}

	s.coordinator.abandon(ctx, g, pending, args.CallbackArgs)

	return nil
}
