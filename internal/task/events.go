package task

import (
	"encoding/json"
	"time"
)

// Task event types published to the organization's event stream.
const (
	EventStarted   = "task.started"
	EventRetrying  = "task.retrying"
	EventCompleted = "task.completed"
	EventFailed    = "task.failed"
	EventRevoked   = "task.revoked"
)

// Broadcaster delivers an event to the clients of one organization.
type Broadcaster interface {
	BroadcastEvent(eventType, organizationID string, data json.RawMessage)
}

// EventData is the payload of a task event.
type EventData struct {
	TaskID  string        `json:"task_id"`
	Name    string        `json:"name"`
	State   State         `json:"state"`
	Attempt int           `json:"attempt"`
	GroupID string        `json:"group_id,omitempty"`
	Error   string        `json:"error,omitempty"`
	Delay   time.Duration `json:"delay_ns,omitempty"`
}

func publish(b Broadcaster, eventType string, msg *Message, state State, errMsg string, delay time.Duration) {
	if b == nil {
		return
	}

	org := msg.OrganizationID()
	if org == "" {
		return
	}

	data, err := json.Marshal(EventData{
		TaskID:  msg.ID,
		Name:    msg.Name,
		State:   state,
		Attempt: msg.Attempt,
		GroupID: msg.GroupID,
		Error:   errMsg,
		Delay:   delay,
	})
	if err != nil {
		return
	}

	b.BroadcastEvent(eventType, org, data)
}
