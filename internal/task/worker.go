package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/metrics"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// HandlerFunc runs one attempt of a task. The context carries a tenant
// store populated with the task's identity. The returned value is stored
// as the task result.
type HandlerFunc func(ctx context.Context, msg *Message) (any, error)

// Registry maps task names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds name to h, replacing any previous handler.
func (r *Registry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]

	return h, ok
}

// Names lists the registered task names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}

	return names
}

const (
	defaultConcurrency  = 4
	defaultPollInterval = 500 * time.Millisecond
	depthSampleInterval = 5 * time.Second
	finishTimeout       = 10 * time.Second
)

// Worker claims tasks from a broker and runs them, one per slot.
type Worker struct {
	broker       Broker
	registry     *Registry
	log          *logrus.Logger
	policy       RetryPolicy
	concurrency  int
	pollInterval time.Duration
	events       Broadcaster
	revocations  Revocations

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithConcurrency sets the number of slots.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithPollInterval sets how long an idle slot waits before claiming again.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithRetryPolicy sets the delay schedule for failed attempts. Its
// MaxRetries field is not used; each message carries its own bound.
func WithRetryPolicy(p RetryPolicy) WorkerOption {
	return func(w *Worker) { w.policy = p }
}

// WithBroadcaster publishes task state changes.
func WithBroadcaster(b Broadcaster) WorkerOption {
	return func(w *Worker) { w.events = b }
}

// WithRevocations cancels running attempts of revoked tasks.
func WithRevocations(r Revocations) WorkerOption {
	return func(w *Worker) { w.revocations = r }
}

// NewWorker creates a Worker.
func NewWorker(broker Broker, registry *Registry, log *logrus.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		broker:       broker,
		registry:     registry,
		log:          log,
		policy:       DefaultRetryPolicy(),
		concurrency:  defaultConcurrency,
		pollInterval: defaultPollInterval,
		running:      make(map[string]context.CancelFunc),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Run spawns the worker slots and blocks until ctx is cancelled and every
// slot has finished its current attempt.
func (w *Worker) Run(ctx context.Context) {
	if w.revocations != nil {
		unsubscribe := w.revocations.Subscribe(w.cancelRunning)
		defer unsubscribe()
	}

	var wg sync.WaitGroup

	w.log.WithField("concurrency", w.concurrency).Info("starting task workers")

	for i := range w.concurrency {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.runSlot(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.sampleQueueDepth(ctx)
	}()

	wg.Wait()
	w.log.Info("all task workers stopped")
}

func (w *Worker) runSlot(ctx context.Context, id int) {
	w.log.WithField("worker_id", id).Debug("task worker started")

	for {
		if ctx.Err() != nil {
			return
		}

		ran, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.WithError(err).WithField("worker_id", id).Warn("claiming task")
		}

		if ran {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *Worker) sampleQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(depthSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.broker.QueueDepth(ctx)
			if err != nil {
				continue
			}
			metrics.TaskQueueDepth.Set(float64(n))
		}
	}
}

// RunOnce claims and runs at most one due task. It reports whether a task
// was run.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	msg, err := w.broker.Claim(ctx, time.Now())
	if err != nil {
		return false, err
	}

	if msg == nil {
		return false, nil
	}

	w.execute(ctx, msg)

	return true, nil
}

func (w *Worker) cancelRunning(taskID string) {
	w.mu.Lock()
	cancel, ok := w.running[taskID]
	w.mu.Unlock()

	if ok {
		w.log.WithField("task_id", taskID).Info("cancelling revoked task")
		cancel()
	}
}

func (w *Worker) track(taskID string, cancel context.CancelFunc) func() {
	w.mu.Lock()
	w.running[taskID] = cancel
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.running, taskID)
		w.mu.Unlock()
		cancel()
	}
}

// execute runs one attempt under a fresh tenant store holding the task's
// identity. The store is cleared when the attempt ends, whatever the outcome.
func (w *Worker) execute(ctx context.Context, msg *Message) {
	log := w.log.WithFields(logrus.Fields{
		"task_id": msg.ID,
		"task":    msg.Name,
		"attempt": msg.Attempt,
	})
	if rid := msg.Headers[HeaderRequestID]; rid != "" {
		log = log.WithField("request_id", rid)
		ctx = tenant.WithRequestID(ctx, rid)
	}

	// Outcomes are recorded even while shutting down.
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer finishCancel()

	h, ok := w.registry.Lookup(msg.Name)
	if !ok {
		w.fail(finishCtx, log, msg, fmt.Errorf("%s: %w", msg.Name, ErrUnknownTask))
		return
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	untrack := w.track(msg.ID, cancel)
	defer untrack()

	attemptCtx, store := tenant.NewContext(attemptCtx)
	defer store.Clear()

	if err := store.Set(msg.Identity()); err != nil {
		w.fail(finishCtx, log, msg, Permanent(err))
		return
	}

	publish(w.events, EventStarted, msg, StateRunning, "", 0)

	start := time.Now()
	result, err := invoke(attemptCtx, h, msg)
	metrics.TaskDuration.WithLabelValues(msg.Name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		w.complete(finishCtx, log, msg, result)
	case attemptCtx.Err() != nil && ctx.Err() == nil:
		metrics.TasksTotal.WithLabelValues(msg.Name, "revoked").Inc()
		publish(w.events, EventRevoked, msg, StateRevoked, "", 0)
		log.Info("task revoked while running")
	default:
		w.handleFailure(finishCtx, log, msg, err)
	}
}

func invoke(ctx context.Context, h HandlerFunc, msg *Message) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
	}()

	return h(ctx, msg)
}

func (w *Worker) complete(ctx context.Context, log *logrus.Entry, msg *Message, result any) {
	var raw json.RawMessage

	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			w.fail(ctx, log, msg, Permanent(fmt.Errorf("encoding result: %w", err)))
			return
		}
		raw = b
	}

	if err := w.broker.Complete(ctx, msg.ID, raw); err != nil {
		if errors.Is(err, ErrNotRunning) {
			log.Info("task finished after it was revoked")
			return
		}
		log.WithError(err).Error("recording task completion")
		return
	}

	metrics.TasksTotal.WithLabelValues(msg.Name, "completed").Inc()
	publish(w.events, EventCompleted, msg, StateCompleted, "", 0)
	log.Debug("task completed")
}

func (w *Worker) handleFailure(ctx context.Context, log *logrus.Entry, msg *Message, err error) {
	if IsPermanent(err) || msg.LastAttempt() {
		w.fail(ctx, log, msg, err)
		return
	}

	delay := w.policy.Delay(msg.Attempt)

	var ra *RetryAfter
	if errors.As(err, &ra) {
		delay = ra.Delay
	}

	if rerr := w.broker.Retry(ctx, msg.ID, delay, err.Error()); rerr != nil {
		if !errors.Is(rerr, ErrNotRunning) {
			log.WithError(rerr).Error("scheduling task retry")
		}
		return
	}

	metrics.TaskRetries.WithLabelValues(msg.Name).Inc()
	metrics.TasksTotal.WithLabelValues(msg.Name, "retried").Inc()
	publish(w.events, EventRetrying, msg, StateRetrying, err.Error(), delay)

	log.WithError(err).WithField("delay", delay).Warn("task failed, retrying")
}

// fail records a terminal failure. The error stops here.
func (w *Worker) fail(ctx context.Context, log *logrus.Entry, msg *Message, cause error) {
	cause = unwrapPermanent(cause)

	execErr := &models.TaskExecutionError{
		TaskID:   msg.ID,
		TaskName: msg.Name,
		Attempts: msg.Attempt,
		Err:      cause,
	}

	if err := w.broker.Fail(ctx, msg.ID, execErr.Error()); err != nil {
		if !errors.Is(err, ErrNotRunning) {
			log.WithError(err).Error("recording task failure")
		}
		return
	}

	metrics.TasksTotal.WithLabelValues(msg.Name, "failed").Inc()
	publish(w.events, EventFailed, msg, StateFailed, execErr.Error(), 0)

	log.WithError(execErr).Error("task failed")
}
