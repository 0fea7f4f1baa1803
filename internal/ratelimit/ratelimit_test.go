package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucket(t *testing.T) {
	bucket := NewTokenBucket(2, 5) // 2 tokens per second, capacity of 5

	// Initial tokens should be at capacity
	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("Expected initial connection %d to be allowed", i)
		}
	}

	if bucket.Allow() {
		t.Error("Expected connection to be denied when bucket is empty")
	}

	time.Sleep(1100 * time.Millisecond) // slightly more than 1 second

	if !bucket.Allow() {
		t.Error("Expected connection to be allowed after token refill")
	}
	if !bucket.Allow() {
		t.Error("Expected second connection to be allowed after token refill")
	}
	if bucket.Allow() {
		t.Error("Expected third connection to be denied")
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(0, 2, 3) // global disabled; 2 conn/s per client; burst 3

	client := "10.0.0.1"
	for i := 0; i < 3; i++ {
		if !rl.AllowConnection(client) {
			t.Errorf("Expected connection %d to be allowed for client %s", i, client)
		}
	}
	if rl.AllowConnection(client) {
		t.Error("Expected connection to be denied due to per-client limit")
	}

	if !rl.AllowConnection("10.0.0.2") {
		t.Error("Expected connection to be allowed for different client")
	}
	if rl.Clients() != 2 {
		t.Errorf("Expected 2 tracked clients, got %d", rl.Clients())
	}
}

func TestRateLimiterWithGlobalLimits(t *testing.T) {
	rl := NewRateLimiter(2, 0, 2) // global: 2 conn/s; per-client disabled; burst 2

	if !rl.AllowConnection("10.0.0.1") {
		t.Error("Expected first global connection to be allowed")
	}
	if !rl.AllowConnection("10.0.0.2") {
		t.Error("Expected second global connection to be allowed")
	}
	if rl.AllowConnection("10.0.0.1") {
		t.Error("Expected connection to be denied due to global limit")
	}
	if rl.Clients() != 0 {
		t.Errorf("Expected no per-client buckets when per-client limit disabled, got %d", rl.Clients())
	}
}

func TestRateLimiterPerClientDenialKeepsGlobalTokens(t *testing.T) {
	rl := NewRateLimiter(1, 1, 1)

	if !rl.AllowConnection("10.0.0.1") {
		t.Fatal("Expected first connection to be allowed")
	}
	// refused by its own bucket, so the global bucket is not touched
	if rl.AllowConnection("10.0.0.1") {
		t.Fatal("Expected repeat connection to be denied")
	}
	time.Sleep(1100 * time.Millisecond)
	if !rl.AllowConnection("10.0.0.2") {
		t.Error("Expected new client to be allowed after refill")
	}
}

func TestRateLimiterCleanupIdle(t *testing.T) {
	rl := NewRateLimiter(0, 1, 1)

	rl.AllowConnection("client1")
	rl.AllowConnection("client2")
	if rl.Clients() != 2 {
		t.Fatalf("Expected 2 client limiters, got %d", rl.Clients())
	}

	time.Sleep(50 * time.Millisecond)
	rl.AllowConnection("client1") // refresh client1

	if removed := rl.CleanupIdle(30 * time.Millisecond); removed != 1 {
		t.Errorf("Expected 1 limiter removed, got %d", removed)
	}
	if _, exists := rl.perClient["client1"]; !exists {
		t.Error("Expected client1 limiter to remain")
	}
	if _, exists := rl.perClient["client2"]; exists {
		t.Error("Expected client2 limiter to be cleaned up")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0, 5)

	for i := 0; i < 100; i++ {
		if !rl.AllowConnection("10.0.0.1") {
			t.Errorf("Expected connection %d to be allowed when limits disabled", i)
		}
	}
}
