package httpapi

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowAndRefill(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.Now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatalf("expected burst of 2")
	}
	if rl.Allow("a") {
		t.Fatalf("expected third request to be limited")
	}
	if !rl.Allow("b") {
		t.Fatalf("expected independent bucket for b")
	}

	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Fatalf("expected refill after one second")
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(5, 5)
	rl.Now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(11 * time.Minute)
	rl.Allow("fresh")

	if n := rl.Sweep(); n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	rl.mu.Lock()
	_, ok := rl.entries["fresh"]
	rl.mu.Unlock()
	if !ok {
		t.Fatalf("expected fresh entry to survive")
	}
}
