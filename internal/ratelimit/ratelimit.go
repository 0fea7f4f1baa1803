package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	rate       int // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

// NewTokenBucket creates a new token bucket with the given rate and capacity
func NewTokenBucket(rate, capacity int) *TokenBucket {
	now := time.Now()
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow checks if a connection can be admitted and consumes a token if available
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.lastUsed = now
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int(elapsed.Seconds() * float64(tb.rate))
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastUsed
}

// RateLimiter admits new connections against a global bucket and one
// bucket per client address. A rate of 0 disables that check.
type RateLimiter struct {
	mu                sync.Mutex
	globalConnLimiter *TokenBucket
	perClient         map[string]*TokenBucket
	connRate          int
	burstSize         int
}

// NewRateLimiter creates a new rate limiter with the given configuration
func NewRateLimiter(globalConnLimit, perClientConnLimit, burstSize int) *RateLimiter {
	if burstSize <= 0 {
		burstSize = 1
	}
	rl := &RateLimiter{
		perClient: make(map[string]*TokenBucket),
		connRate:  perClientConnLimit,
		burstSize: burstSize,
	}
	if globalConnLimit > 0 {
		rl.globalConnLimiter = NewTokenBucket(globalConnLimit, burstSize)
	}
	return rl
}

// AllowConnection checks if a connection is allowed for the given client
func (rl *RateLimiter) AllowConnection(client string) bool {
	if rl.connRate > 0 {
		rl.mu.Lock()
		bucket, exists := rl.perClient[client]
		if !exists {
			bucket = NewTokenBucket(rl.connRate, rl.burstSize)
			rl.perClient[client] = bucket
		}
		rl.mu.Unlock()

		if !bucket.Allow() {
			return false
		}
	}

	if rl.globalConnLimiter != nil && !rl.globalConnLimiter.Allow() {
		return false
	}
	return true
}

// CleanupIdle drops per-client buckets unused for longer than maxIdle and
// returns how many were removed.
func (rl *RateLimiter) CleanupIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for client, bucket := range rl.perClient {
		if bucket.idleSince().Before(cutoff) {
			delete(rl.perClient, client)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked client buckets.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.perClient)
}
