// Package task runs tenant-aware background work.
//
// A task carries its caller's tenant identity in headers, never in its
// arguments. Submitting moves organization_id and user_id out of the
// arguments into the x-organization-id and x-user-id headers; executing
// restores the identity into a fresh tenant store for every attempt and
// clears it when the attempt ends, whatever the outcome.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// State is the lifecycle state of a task.
type State string

// Task states. Completed, Failed and Revoked are terminal.
const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateRevoked   State = "revoked"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateRevoked
}

// Header and argument keys.
const (
	HeaderOrganization = "x-organization-id"
	HeaderUser         = "x-user-id"
	HeaderRequestID    = "x-request-id"
	ArgOrganization    = "organization_id"
	ArgUser            = "user_id"
)

var (
	// ErrNotRunning is returned when finishing a task that is no longer running,
	// typically because it was revoked mid-flight.
	ErrNotRunning = errors.New("task is not running")

	// ErrUnknownTask is returned by the worker for a message with no registered handler.
	ErrUnknownTask = errors.New("no handler registered for task")
)

// Message is a queued task invocation.
type Message struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Args       map[string]any    `json:"args"`
	Headers    map[string]string `json:"headers"`
	State      State             `json:"state"`
	Attempt    int               `json:"attempt"`
	MaxRetries int               `json:"max_retries"`
	ETA        time.Time         `json:"eta"`
	GroupID    string            `json:"group_id,omitempty"`
	Result     json.RawMessage   `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Identity resolves the tenant identity the task runs as. Each field is
// read from the headers first and falls back to the arguments.
func (m *Message) Identity() tenant.Identity {
	return tenant.Identity{
		OrganizationID: m.lookup(HeaderOrganization, ArgOrganization),
		UserID:         m.lookup(HeaderUser, ArgUser),
	}
}

func (m *Message) lookup(header, arg string) string {
	if v := m.Headers[header]; v != "" {
		return v
	}

	if s, ok := m.Args[arg].(string); ok {
		return s
	}

	return ""
}

// LastAttempt reports whether a failure of the current attempt is terminal.
func (m *Message) LastAttempt() bool {
	return m.Attempt > m.MaxRetries
}

// OrganizationID is shorthand for Identity().OrganizationID.
func (m *Message) OrganizationID() string {
	return m.Identity().OrganizationID
}

// DecodeArgs converts the argument map into v through JSON.
func (m *Message) DecodeArgs(v any) error {
	raw, err := json.Marshal(m.Args)
	if err != nil {
		return fmt.Errorf("encoding args of %s: %w", m.Name, err)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding args of %s: %w", m.Name, err)
	}

	return nil
}

// clone returns a deep enough copy for brokers that hand out messages.
func (m *Message) clone() *Message {
	c := *m

	c.Args = make(map[string]any, len(m.Args))
	for k, v := range m.Args {
		c.Args[k] = v
	}

	c.Headers = make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		c.Headers[k] = v
	}

	if m.Result != nil {
		c.Result = append(json.RawMessage(nil), m.Result...)
	}

	return &c
}

// GroupState is the lifecycle state of a task group.
type GroupState string

// Group states.
const (
	GroupPending        GroupState = "pending"
	GroupCompleted      GroupState = "completed"
	GroupPartialFailure GroupState = "partial_failure"
	// GroupFailed marks a group whose submission did not finish. Its join
	// never runs and the callback is never submitted.
	GroupFailed GroupState = "failed"
)

// Group is a set of member tasks joined by one join task that submits the
// callback once every member is terminal.
type Group struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Callback       string     `json:"callback"`
	MemberIDs      []string   `json:"member_ids"`
	JoinTaskID     string     `json:"join_task_id"`
	State          GroupState `json:"state"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Signature names a task and its arguments without submitting it.
type Signature struct {
	Name string
	Args map[string]any
}
