package db

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

type recordingHub struct {
	mu     sync.Mutex
	events []eventEnvelope
}

func (h *recordingHub) BroadcastEvent(eventType, organizationID string, data json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventEnvelope{OrganizationID: organizationID, Type: eventType, Data: data})
}

func TestHandleNotification(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	tests := []struct {
		name    string
		payload string
		want    int
	}{
		{"valid", `{"organization_id":"org-1","type":"task.completed","data":{"id":"t1"}}`, 1},
		{"missing org", `{"type":"task.completed"}`, 0},
		{"missing type", `{"organization_id":"org-1"}`, 0},
		{"garbage", `not json`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := &recordingHub{}
			b := NewNotifyBridge(log, nil, hub)
			b.handleNotification(&pgconn.Notification{Channel: EventChannel, Payload: tt.payload})

			if len(hub.events) != tt.want {
				t.Fatalf("forwarded %d events, want %d", len(hub.events), tt.want)
			}
			if tt.want == 1 {
				ev := hub.events[0]
				if ev.OrganizationID != "org-1" || ev.Type != "task.completed" || string(ev.Data) != `{"id":"t1"}` {
					t.Errorf("unexpected event %+v", ev)
				}
			}
		})
	}
}
