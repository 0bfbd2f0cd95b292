package ratelimit

import (
	"testing"
	"time"
)

func TestNewLimiter(t *testing.T) {
	limiter := NewLimiter("test", 60, 3) // 60 per minute = 1 per second

	if limiter.Name() != "test" {
		t.Errorf("Expected name 'test', got '%s'", limiter.Name())
	}

	// First few requests should be allowed immediately (burst)
	for i := 0; i < 3; i++ {
		if !limiter.Allow() {
			t.Errorf("Request %d should have been allowed", i)
		}
	}
	if limiter.Allow() {
		t.Error("Request beyond the burst should have been rejected")
	}
	if d := limiter.RetryAfter(); d <= 0 || d > time.Second {
		t.Errorf("Expected retry within a second, got %v", d)
	}
}

func TestClientLimiter(t *testing.T) {
	cl := NewClientLimiter(60, 2, time.Minute)

	if !cl.Allow("10.0.0.1") || !cl.Allow("10.0.0.1") {
		t.Fatal("Burst requests should have been allowed")
	}
	if cl.Allow("10.0.0.1") {
		t.Error("Third request should have been rejected")
	}

	// Other clients have their own budget
	if !cl.Allow("10.0.0.2") {
		t.Error("A different client should have been allowed")
	}
	if cl.Len() != 2 {
		t.Errorf("Expected 2 clients, got %d", cl.Len())
	}
	if cl.Get("10.0.0.1") != cl.Get("10.0.0.1") {
		t.Error("Expected the same limiter for the same client")
	}
}

func TestClientLimiterPrune(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cl := NewClientLimiter(60, 1, time.Minute)
	cl.now = func() time.Time { return now }

	cl.Get("old")
	now = now.Add(2 * time.Minute)
	cl.Get("fresh")

	if removed := cl.Prune(); removed != 1 {
		t.Errorf("Expected 1 pruned client, got %d", removed)
	}
	if cl.Len() != 1 {
		t.Errorf("Expected 1 remaining client, got %d", cl.Len())
	}
}
