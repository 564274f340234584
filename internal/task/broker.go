package task

import (
	"context"
	"encoding/json"
	"time"
)

// Broker persists task messages and groups. Claim hands each runnable
// message to exactly one caller.
type Broker interface {
	Enqueue(ctx context.Context, msg *Message) error
	// Claim returns the next message due at now, moved to running with its
	// attempt incremented, or nil when nothing is due.
	Claim(ctx context.Context, now time.Time) (*Message, error)
	Complete(ctx context.Context, id string, result json.RawMessage) error
	Retry(ctx context.Context, id string, delay time.Duration, errMsg string) error
	Fail(ctx context.Context, id string, errMsg string) error
	// Revoke moves a non-terminal task to revoked and returns the state it
	// had before. Revoking a terminal task changes nothing.
	Revoke(ctx context.Context, id string) (State, error)
	Get(ctx context.Context, id string) (*Message, error)
	QueueDepth(ctx context.Context) (int, error)

	CreateGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	UpdateGroupState(ctx context.Context, id string, state GroupState) error
	// StuckGroups lists pending groups created before the cutoff.
	StuckGroups(ctx context.Context, createdBefore time.Time) ([]*Group, error)
}
