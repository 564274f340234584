package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RevokeChannel is the Redis pub/sub channel carrying revoked task ids.
const RevokeChannel = "rhesis:task:revoke"

// Resubscribe delays after the revocation subscription is lost.
const (
	resubscribeInitial = 500 * time.Millisecond
	resubscribeMax     = 30 * time.Second
)

var errSubscriptionClosed = errors.New("revocation subscription closed")

// Revocations tells running attempts that their task was revoked.
type Revocations interface {
	// Publish announces that a task was revoked.
	Publish(ctx context.Context, taskID string) error
	// Subscribe registers fn to be called with every revoked task id. The
	// returned function removes the subscription.
	Subscribe(fn func(taskID string)) func()
}

// LocalRevocations fans revocations out within one process.
type LocalRevocations struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(string)
}

// NewLocalRevocations creates an empty LocalRevocations.
func NewLocalRevocations() *LocalRevocations {
	return &LocalRevocations{subs: make(map[int]func(string))}
}

// Publish calls every subscriber synchronously.
func (l *LocalRevocations) Publish(_ context.Context, taskID string) error {
	l.deliver(taskID)
	return nil
}

func (l *LocalRevocations) deliver(taskID string) {
	l.mu.RLock()
	subs := make([]func(string), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.RUnlock()

	for _, fn := range subs {
		fn(taskID)
	}
}

// Subscribe registers fn.
func (l *LocalRevocations) Subscribe(fn func(taskID string)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

// RedisRevocations carries revocations between worker processes over
// Redis pub/sub and delivers them to local subscribers.
type RedisRevocations struct {
	local  *LocalRevocations
	client *redis.Client
	log    *logrus.Logger

	retryInitial time.Duration
	retryMax     time.Duration
}

// NewRedisRevocations creates a RedisRevocations. Call Run to start
// receiving revocations published by other processes.
func NewRedisRevocations(client *redis.Client, log *logrus.Logger) *RedisRevocations {
	return &RedisRevocations{
		local:        NewLocalRevocations(),
		client:       client,
		log:          log,
		retryInitial: resubscribeInitial,
		retryMax:     resubscribeMax,
	}
}

// Publish sends taskID to every process listening on RevokeChannel,
// including this one.
func (r *RedisRevocations) Publish(ctx context.Context, taskID string) error {
	return r.client.Publish(ctx, RevokeChannel, taskID).Err()
}

// Subscribe registers fn for revocations received from Redis.
func (r *RedisRevocations) Subscribe(fn func(taskID string)) func() {
	return r.local.Subscribe(fn)
}

// Run listens on RevokeChannel until ctx is done and then returns ctx's
// error. A failed or lost subscription is re-established with capped
// exponential backoff; Redis being away never ends Run.
func (r *RedisRevocations) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retryInitial
	b.MaxInterval = r.retryMax

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		connected, err := r.listen(ctx)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}

		// A subscription that worked starts the next wait from scratch.
		if connected {
			b.Reset()
		}

		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.log.WithError(err).WithFields(logrus.Fields{
				"channel":  RevokeChannel,
				"retry_in": wait.String(),
			}).Warn("revocation subscription unavailable, resubscribing")
		}),
	)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	return err
}

// listen runs one subscription. connected reports whether Redis confirmed
// it before it ended.
func (r *RedisRevocations) listen(ctx context.Context) (connected bool, err error) {
	sub := r.client.Subscribe(ctx, RevokeChannel)
	defer sub.Close()

	// Wait for the confirmation so publishes that follow are not missed.
	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("subscribing to %s: %w", RevokeChannel, err)
	}

	r.log.WithField("channel", RevokeChannel).Info("listening for task revocations")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return true, errSubscriptionClosed
			}
			r.local.deliver(m.Payload)
		}
	}
}
