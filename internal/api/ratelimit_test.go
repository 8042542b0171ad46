package api

import (
	"testing"
	"time"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request within window should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("limits are per key")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("a") {
		t.Fatal("request after the window should pass")
	}
}
