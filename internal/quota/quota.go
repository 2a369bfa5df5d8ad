// Package quota provides per-user token-bucket rate limiting for
// build-triggering requests.
package quota

import (
	"math"
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimiter implements per-user token buckets. A bucket refills
// continuously at rpm/60 tokens per second up to a burst of rpm.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[int]*bucket
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[int]*bucket)}
}

// Allow consumes one token for the user if available. rpm <= 0 means
// unlimited.
func (rl *RateLimiter) Allow(userID, rpm int) bool {
	if rpm <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.refillLocked(userID, rpm)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter returns the number of whole seconds until the user's bucket
// holds at least one token.
func (rl *RateLimiter) RetryAfter(userID, rpm int) int {
	if rpm <= 0 {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.refillLocked(userID, rpm)
	if b.tokens >= 1 {
		return 0
	}
	deficit := 1 - b.tokens
	seconds := deficit / (float64(rpm) / 60)
	return int(math.Ceil(seconds))
}

// Cleanup drops buckets idle for longer than maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, b := range rl.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(rl.buckets, id)
		}
	}
}

func (rl *RateLimiter) refillLocked(userID, rpm int) *bucket {
	now := time.Now()
	b, ok := rl.buckets[userID]
	if !ok {
		b = &bucket{tokens: float64(rpm), lastRefill: now}
		rl.buckets[userID] = b
		return b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = math.Min(float64(rpm), b.tokens+elapsed*float64(rpm)/60)
	b.lastRefill = now
	return b
}
