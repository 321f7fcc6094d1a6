package channels

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket guarding gateway API calls against platform
// throttling. It allows bursts up to the bucket capacity, then refills at a
// steady rate.
type RateLimiter struct {
	rate       float64
	capacity   int
	tokens     float64
	lastRefill time.Time

	mu sync.Mutex
}

// NewRateLimiter creates a limiter emitting rate tokens per second with the
// given burst capacity.
func NewRateLimiter(rate float64, capacity int) *RateLimiter {
	if rate <= 0 {
		rate = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &RateLimiter{
		rate:       rate,
		capacity:   capacity,
		tokens:     float64(capacity),
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if r.tryAcquire() {
			return nil
		}

		r.mu.Lock()
		wait := time.Duration((1.0 - r.tokens) / r.rate * float64(time.Second))
		r.mu.Unlock()
		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Allow reports whether a token was available without blocking.
func (r *RateLimiter) Allow() bool {
	return r.tryAcquire()
}

func (r *RateLimiter) tryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.rate
	if r.tokens > float64(r.capacity) {
		r.tokens = float64(r.capacity)
	}
	r.lastRefill = now

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}
