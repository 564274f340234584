package middleware

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterRefillAndSweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 2, 2)
	now := time.Now()
	rl.now = func() time.Time { return now }

	for range 2 {
		if ok, _ := rl.take("k"); !ok {
			t.Fatal("burst not available")
		}
	}

	ok, wait := rl.take("k")
	if ok {
		t.Fatal("empty bucket allowed a request")
	}
	if wait != 500*time.Millisecond {
		t.Errorf("wait = %v, want 500ms", wait)
	}

	now = now.Add(500 * time.Millisecond)
	if ok, _ := rl.take("k"); !ok {
		t.Fatal("token not refilled")
	}

	now = now.Add(bucketIdleTimeout + time.Second)
	rl.sweep()
	if len(rl.buckets) != 0 {
		t.Errorf("idle bucket kept: %d", len(rl.buckets))
	}
}
