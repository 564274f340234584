package ws

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

const (
	replayMaxEvents = 1000
	replayMaxAge    = time.Hour
	replayEvictTick = 10 * time.Minute
)

// Event is a task event as delivered to clients. IDs increase per
// organization; clients echo the last one they saw to resume.
type Event struct {
	Type           string          `json:"type"`
	ID             uint64          `json:"id"`
	OrganizationID string          `json:"-"`
	Data           json.RawMessage `json:"data"`
	Time           time.Time       `json:"time"`
}

// Control frame types.
const (
	frameSubscribe = "subscribe"
	frameReset     = "reset"
	frameShutdown  = "shutdown"
)

// controlFrame is the envelope for non-event messages in both directions.
type controlFrame struct {
	Type        string `json:"type"`
	LastEventID uint64 `json:"last_event_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func mustFrame(f controlFrame) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		panic(err)
	}

	return b
}

var (
	resetFrame = mustFrame(controlFrame{
		Type:   frameReset,
		Reason: "requested events no longer available, perform full refresh",
	})
	shutdownFrame = mustFrame(controlFrame{Type: frameShutdown, Reason: "server shutting down"})
)

// orgStream is one organization's sequence counter and recent events.
type orgStream struct {
	last   uint64
	events []Event
}

// replayLog numbers and retains recent events per organization so a
// reconnecting client can catch up without crossing into another tenant.
type replayLog struct {
	mu      sync.RWMutex
	streams map[string]*orgStream
	maxLen  int
	maxAge  time.Duration
}

func newReplayLog(maxLen int, maxAge time.Duration) *replayLog {
	return &replayLog{
		streams: make(map[string]*orgStream),
		maxLen:  maxLen,
		maxAge:  maxAge,
	}
}

// record assigns the next ID of organizationID to a new event and retains
// it. Numbering and retention share the lock, so retained events are
// always in ID order.
func (l *replayLog) record(organizationID, eventType string, data json.RawMessage, now time.Time) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[organizationID]
	if !ok {
		s = &orgStream{}
		l.streams[organizationID] = s
	}

	s.last++
	evt := Event{
		Type:           eventType,
		ID:             s.last,
		OrganizationID: organizationID,
		Data:           data,
		Time:           now,
	}

	s.trim(now.Add(-l.maxAge))
	s.events = append(s.events, evt)
	if over := len(s.events) - l.maxLen; over > 0 {
		s.events = s.events[over:]
	}

	return evt
}

// trim drops events older than cutoff.
func (s *orgStream) trim(cutoff time.Time) {
	i := sort.Search(len(s.events), func(i int) bool { return !s.events[i].Time.Before(cutoff) })
	s.events = s.events[i:]
}

// since returns organizationID's retained events newer than lastID. ok is
// false when events after lastID have already been discarded, in which
// case the caller must tell the client to refresh.
func (l *replayLog) since(organizationID string, lastID uint64) (events []Event, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := l.streams[organizationID]
	if s == nil {
		return nil, lastID == 0
	}

	// An ID from the future was issued by an earlier process.
	if lastID > s.last {
		return nil, false
	}

	if len(s.events) == 0 {
		return nil, lastID == 0 || lastID == s.last
	}

	if lastID > 0 && lastID+1 < s.events[0].ID {
		return nil, false
	}

	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].ID > lastID })

	return append([]Event(nil), s.events[i:]...), true
}

// evict releases events older than the retention window. Sequence
// counters are kept so IDs never repeat within a process.
func (l *replayLog) evict(now time.Time) {
	cutoff := now.Add(-l.maxAge)

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range l.streams {
		s.trim(cutoff)
		if len(s.events) == 0 {
			s.events = nil
		}
	}
}
