package services

import (
	"sync"
	"time"
)

// DefaultRateWindow is the length of one rate window.
const DefaultRateWindow = time.Minute

// Clock abstracts time retrieval so the limiter is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// RateLimiter counts every request in a fixed window shared by all callers.
// There is no per-address bucket.
type RateLimiter struct {
	mu          sync.Mutex
	clock       Clock
	window      time.Duration
	limit       int
	windowStart time.Time
	count       int
}

// NewRateLimiter starts the first window at construction time.
func NewRateLimiter(limit int, window time.Duration, clock Clock) *RateLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		clock:       clock,
		window:      window,
		limit:       limit,
		windowStart: clock.Now(),
	}
}

// Admit records one request and reports whether it is within the limit.
// Rejected requests still count and never move the window.
func (rl *RateLimiter) Admit() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	if now.Sub(rl.windowStart) > rl.window {
		rl.windowStart = now
		rl.count = 0
	}
	rl.count++
	return rl.count <= rl.limit
}

// RetryAfter is the time left in the current window.
func (rl *RateLimiter) RetryAfter() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	left := rl.window - rl.clock.Now().Sub(rl.windowStart)
	if left < 0 {
		return 0
	}
	return left
}

// SetLimit changes the limit without touching the current window.
func (rl *RateLimiter) SetLimit(limit int) {
	rl.mu.Lock()
	rl.limit = limit
	rl.mu.Unlock()
}

// RateWindow is a point-in-time copy of the limiter state.
type RateWindow struct {
	WindowStart time.Time
	Count       int
	Limit       int
}

func (rl *RateLimiter) Snapshot() RateWindow {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return RateWindow{WindowStart: rl.windowStart, Count: rl.count, Limit: rl.limit}
}
