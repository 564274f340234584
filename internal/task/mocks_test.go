package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/dbpool"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// recordingBroker records the delays the worker asked for.
type recordingBroker struct {
	*MemoryBroker

	mu     sync.Mutex
	delays []time.Duration
}

func newRecordingBroker() *recordingBroker {
	return &recordingBroker{MemoryBroker: NewMemoryBroker()}
}

func (b *recordingBroker) Retry(ctx context.Context, id string, delay time.Duration, errMsg string) error {
	b.mu.Lock()
	b.delays = append(b.delays, delay)
	b.mu.Unlock()

	return b.MemoryBroker.Retry(ctx, id, delay, errMsg)
}

func (b *recordingBroker) recorded() []time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]time.Duration(nil), b.delays...)
}

// failingEnqueueBroker fails the nth Enqueue (1-based) and every one after.
type failingEnqueueBroker struct {
	*MemoryBroker

	mu     sync.Mutex
	calls  int
	failAt int
}

func (b *failingEnqueueBroker) Enqueue(ctx context.Context, msg *Message) error {
	b.mu.Lock()
	b.calls++
	fail := b.calls >= b.failAt
	b.mu.Unlock()

	if fail {
		return errEnqueueRejected
	}

	return b.MemoryBroker.Enqueue(ctx, msg)
}

var errEnqueueRejected = errors.New("queue unavailable")

type recordedEvent struct {
	Type string
	Org  string
	Data EventData
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeBroadcaster) BroadcastEvent(eventType, organizationID string, data json.RawMessage) {
	var d EventData
	_ = json.Unmarshal(data, &d)

	f.mu.Lock()
	f.events = append(f.events, recordedEvent{Type: eventType, Org: organizationID, Data: d})
	f.mu.Unlock()
}

func (f *fakeBroadcaster) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, e := range f.events {
		if e.Type == eventType {
			n++
		}
	}

	return n
}

// fakeTxRunner runs fn with a nil transaction and records the identity.
type fakeTxRunner struct {
	mu    sync.Mutex
	calls []tenant.Identity
	err   error
}

func (f *fakeTxRunner) WithTenant(ctx context.Context, id tenant.Identity, fn func(ctx context.Context, tx pgx.Tx) error, _ ...dbpool.ScopeOption) error {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	return fn(ctx, nil)
}

// drain runs due tasks until every task is terminal or the deadline passes.
func drain(ctx context.Context, w *Worker, b Broker, ids ...string) bool {
	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		ran, _ := w.RunOnce(ctx)
		if ran {
			continue
		}

		done := true
		for _, id := range ids {
			m, err := b.Get(ctx, id)
			if err != nil || !m.State.Terminal() {
				done = false
				break
			}
		}

		if done {
			return true
		}

		time.Sleep(time.Millisecond)
	}

	return false
}
