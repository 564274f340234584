package task

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// JoinTaskName is the task that waits for a group's members.
const JoinTaskName = "rhesis.group.join"

// abandonTimeout bounds the cleanup of a group whose submission failed.
const abandonTimeout = 5 * time.Second

// Join defaults.
const (
	DefaultJoinMaxAttempts = 10
	DefaultJoinInterval    = 2 * time.Second
)

// SubmitterConfig holds the defaults applied to submitted tasks.
type SubmitterConfig struct {
	MaxRetries      int
	JoinMaxAttempts int
	JoinInterval    time.Duration
}

// Submitter enqueues tasks carrying the caller's tenant identity.
type Submitter struct {
	broker Broker
	log    *logrus.Logger
	cfg    SubmitterConfig
	now    func() time.Time
}

// NewSubmitter creates a Submitter. Unset join settings take the defaults.
func NewSubmitter(broker Broker, log *logrus.Logger, cfg SubmitterConfig) *Submitter {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.JoinMaxAttempts <= 0 {
		cfg.JoinMaxAttempts = DefaultJoinMaxAttempts
	}
	if cfg.JoinInterval <= 0 {
		cfg.JoinInterval = DefaultJoinInterval
	}

	return &Submitter{broker: broker, log: log, cfg: cfg, now: time.Now}
}

type submitOptions struct {
	identity   tenant.Identity
	maxRetries *int
	countdown  time.Duration
	taskID     string
	groupID    string
}

// SubmitOption customizes one submission.
type SubmitOption func(*submitOptions)

// WithIdentity sets the identity explicitly. Its non-empty fields win over
// arguments and the caller's tenant store.
func WithIdentity(id tenant.Identity) SubmitOption {
	return func(o *submitOptions) { o.identity = id }
}

// WithMaxRetries overrides the retry bound.
func WithMaxRetries(n int) SubmitOption {
	return func(o *submitOptions) { o.maxRetries = &n }
}

// WithCountdown delays the first attempt.
func WithCountdown(d time.Duration) SubmitOption {
	return func(o *submitOptions) { o.countdown = d }
}

// WithTaskID sets the task id instead of generating one.
func WithTaskID(id string) SubmitOption {
	return func(o *submitOptions) { o.taskID = id }
}

func withGroup(id string) SubmitOption {
	return func(o *submitOptions) { o.groupID = id }
}

// resolveIdentity picks each field from the explicit option, then the
// arguments, then the ambient store.
func resolveIdentity(ctx context.Context, explicit tenant.Identity, args map[string]any) tenant.Identity {
	ambient := tenant.IdentityFromContext(ctx)

	pick := func(opt, arg, amb string) string {
		if opt != "" {
			return opt
		}
		if v, ok := args[arg].(string); ok && v != "" {
			return v
		}
		return amb
	}

	return tenant.Identity{
		OrganizationID: pick(explicit.OrganizationID, ArgOrganization, ambient.OrganizationID),
		UserID:         pick(explicit.UserID, ArgUser, ambient.UserID),
	}
}

// stripIdentity copies args without the identity keys.
func stripIdentity(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	maps.Copy(out, args)
	delete(out, ArgOrganization)
	delete(out, ArgUser)

	return out
}

// taskHeaders carries the identity and, when known, the originating request id.
func taskHeaders(ctx context.Context, id tenant.Identity) map[string]string {
	h := make(map[string]string, 3)
	if id.OrganizationID != "" {
		h[HeaderOrganization] = id.OrganizationID
	}
	if id.UserID != "" {
		h[HeaderUser] = id.UserID
	}
	if rid := tenant.RequestIDFromContext(ctx); rid != "" {
		h[HeaderRequestID] = rid
	}

	return h
}

// Submit enqueues name with args. Identity values found in args are moved
// into the message headers.
func (s *Submitter) Submit(ctx context.Context, name string, args map[string]any, opts ...SubmitOption) (*Message, error) {
	o := submitOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if _, err := json.Marshal(args); err != nil {
		return nil, fmt.Errorf("encoding args of %s: %w", name, err)
	}

	id := resolveIdentity(ctx, o.identity, args)

	msg := &Message{
		ID:         o.taskID,
		Name:       name,
		Args:       stripIdentity(args),
		Headers:    taskHeaders(ctx, id),
		State:      StateQueued,
		MaxRetries: s.cfg.MaxRetries,
		GroupID:    o.groupID,
		ETA:        s.now().Add(o.countdown),
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	if o.maxRetries != nil {
		msg.MaxRetries = *o.maxRetries
	}

	if err := s.broker.Enqueue(ctx, msg); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"task_id": msg.ID,
		"task":    name,
		"tenant":  id.String(),
	}).Debug("task submitted")

	return msg, nil
}

// SubmitGroup enqueues members and a join task that submits callback once
// every member is terminal. The join gives up after the configured number
// of attempts. Every task in the group runs as the same identity.
func (s *Submitter) SubmitGroup(ctx context.Context, members []Signature, callback Signature, opts ...SubmitOption) (*Group, error) {
	o := submitOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	id := resolveIdentity(ctx, o.identity, callback.Args)

	g := &Group{
		ID:             uuid.NewString(),
		OrganizationID: id.OrganizationID,
		Callback:       callback.Name,
		MemberIDs:      make([]string, len(members)),
		JoinTaskID:     uuid.NewString(),
		State:          GroupPending,
	}

	for i := range members {
		g.MemberIDs[i] = uuid.NewString()
	}

	if err := s.broker.CreateGroup(ctx, g); err != nil {
		return nil, err
	}

	for i, m := range members {
		_, err := s.Submit(ctx, m.Name, m.Args, WithIdentity(id), WithTaskID(g.MemberIDs[i]), withGroup(g.ID))
		if err != nil {
			s.abandonGroup(ctx, g, g.MemberIDs[:i])
			return nil, fmt.Errorf("submitting member %d of group %s: %w", i, g.ID, err)
		}
	}

	joinArgs := map[string]any{
		"group_id":      g.ID,
		"callback_args": stripIdentity(callback.Args),
	}

	_, err := s.Submit(ctx, JoinTaskName, joinArgs,
		WithIdentity(id),
		WithTaskID(g.JoinTaskID),
		WithMaxRetries(s.cfg.JoinMaxAttempts-1),
		WithCountdown(s.cfg.JoinInterval),
	)
	if err != nil {
		s.abandonGroup(ctx, g, g.MemberIDs)
		return nil, fmt.Errorf("submitting join of group %s: %w", g.ID, err)
	}

	s.log.WithFields(logrus.Fields{
		"group_id": g.ID,
		"members":  len(members),
		"callback": callback.Name,
	}).Debug("task group submitted")

	return g, nil
}

// abandonGroup marks a partly submitted group failed and revokes the members
// already enqueued, so neither the group nor its members are left waiting on
// a join that does not exist. The caller's context may be what failed the
// submission, so cleanup runs detached from its cancellation.
func (s *Submitter) abandonGroup(ctx context.Context, g *Group, enqueued []string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()

	log := s.log.WithField("group_id", g.ID)

	if err := s.broker.UpdateGroupState(ctx, g.ID, GroupFailed); err != nil {
		log.WithError(err).Error("marking abandoned group failed")
	}
	g.State = GroupFailed

	for _, id := range enqueued {
		if _, err := s.broker.Revoke(ctx, id); err != nil {
			log.WithError(err).WithField("task_id", id).Warn("revoking member of abandoned group")
		}
	}

	log.WithField("enqueued", len(enqueued)).Warn("task group submission failed, group abandoned")
}

// JoinInterval returns the delay between join attempts.
func (s *Submitter) JoinInterval() time.Duration {
	return s.cfg.JoinInterval
}
