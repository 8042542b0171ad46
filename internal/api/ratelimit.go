package api

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by caller.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a limiter allowing limit requests per window per key
// and starts the background eviction goroutine. Call Stop to end it.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Allow records a request for key and reports whether it is within the limit.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := r.prune(r.requests[key], now)
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *RateLimiter) prune(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	var fresh []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			fresh = append(fresh, t)
		}
	}
	return fresh
}

// evictLoop periodically removes expired keys so the map stays bounded.
func (r *RateLimiter) evictLoop() {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			now := r.now()
			for key, times := range r.requests {
				if fresh := r.prune(times, now); len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}
}
