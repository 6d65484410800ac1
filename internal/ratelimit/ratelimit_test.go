package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestUnlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("u1"); err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
	}
}

func TestBurstThenLimit(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})
	base := time.Unix(1000, 0)
	l.SetClock(func() time.Time { return base })

	for i := 0; i < 3; i++ {
		if err := l.Allow("u1"); err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
	}
	if err := l.Allow("u1"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Allow after burst = %v, want ErrRateLimited", err)
	}
}

func TestRefill(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})
	now := time.Unix(1000, 0)
	l.SetClock(func() time.Time { return now })

	if err := l.Allow("u1"); err != nil {
		t.Fatalf("first Allow: %v", err)
	}
	if err := l.Allow("u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second Allow = %v, want ErrRateLimited", err)
	}

	// One token per second at 60 rpm.
	now = now.Add(time.Second)
	if err := l.Allow("u1"); err != nil {
		t.Errorf("Allow after refill: %v", err)
	}
}

func TestCallersIsolated(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})
	base := time.Unix(1000, 0)
	l.SetClock(func() time.Time { return base })

	if err := l.Allow("u1"); err != nil {
		t.Fatalf("u1: %v", err)
	}
	if err := l.Allow("u2"); err != nil {
		t.Errorf("u2 must have its own bucket: %v", err)
	}
}

func TestStaleBucketsEvicted(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})
	now := time.Unix(1000, 0)
	l.SetClock(func() time.Time { return now })

	if err := l.Allow("u1"); err != nil {
		t.Fatalf("Allow: %v", err)
	}

	now = now.Add(staleAfter + sweepEvery + time.Second)
	if err := l.Allow("u2"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	l.mu.Lock()
	_, stillThere := l.buckets["u1"]
	l.mu.Unlock()
	if stillThere {
		t.Error("idle bucket survived the sweep")
	}
}
