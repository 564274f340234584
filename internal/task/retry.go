package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retry defaults.
const (
	DefaultMaxRetries      = 3
	DefaultRetryInitial    = time.Second
	DefaultRetryMax        = time.Minute
	DefaultRetryMultiplier = 2.0
)

// RetryPolicy computes the delay before the next attempt of a failed task.
type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the backoff randomization factor; zero gives exact delays.
	Jitter     float64
	MaxRetries int
}

// DefaultRetryPolicy returns 1s doubling up to 60s with three retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:    DefaultRetryInitial,
		Max:        DefaultRetryMax,
		Multiplier: DefaultRetryMultiplier,
		Jitter:     0.1,
		MaxRetries: DefaultMaxRetries,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.Max,
	}
	b.Reset()

	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	for range attempt {
		d = b.NextBackOff()
	}

	return d
}

// RetryAfter asks the worker to run the task again after Delay regardless
// of the retry policy's schedule. It still counts against MaxRetries.
type RetryAfter struct {
	Delay time.Duration
	Err   error
}

func (e *RetryAfter) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.Delay, e.Err)
}

func (e *RetryAfter) Unwrap() error { return e.Err }

// Permanent marks err so the worker fails the task without retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
