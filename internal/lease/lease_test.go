package lease

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	got := Key("t1")
	want := "session:t1:lock"
	if got != want {
		t.Errorf("Key(t1) = %q, want %q", got, want)
	}
}

func TestMemoryAcquireOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, err := s.Acquire(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("first Acquire = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = s.Acquire(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second Acquire succeeded while lease held")
	}

	// Independent tenants do not contend.
	ok, err = s.Acquire(ctx, "t2")
	if err != nil || !ok {
		t.Errorf("Acquire(t2) = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestMemoryRefreshExtends(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	if ok, _ := s.Acquire(ctx, "t1"); !ok {
		t.Fatal("acquire failed")
	}

	// Just before expiry, refresh succeeds and pushes the expiry out.
	now = now.Add(TTL - time.Second)
	if err := s.Refresh(ctx, "t1"); err != nil {
		t.Fatalf("Refresh before expiry: %v", err)
	}

	// The old expiry has passed but the refreshed lease is still live.
	now = now.Add(2 * time.Second)
	if !s.Held("t1") {
		t.Error("lease not held after refresh")
	}
}

func TestMemoryRefreshAfterExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	if ok, _ := s.Acquire(ctx, "t1"); !ok {
		t.Fatal("acquire failed")
	}

	now = now.Add(TTL + time.Millisecond)
	err := s.Refresh(ctx, "t1")
	if !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("Refresh after expiry = %v, want ErrLeaseLost", err)
	}

	// Another holder can now acquire.
	if ok, _ := s.Acquire(ctx, "t1"); !ok {
		t.Error("Acquire after expiry failed")
	}
}

func TestMemoryRefreshAbsent(t *testing.T) {
	s := NewMemoryStore()
	err := s.Refresh(context.Background(), "missing")
	if !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("Refresh on absent key = %v, want ErrLeaseLost", err)
	}
}

func TestMemoryReleaseIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Release(ctx, "never-acquired"); err != nil {
		t.Fatalf("Release on absent key: %v", err)
	}

	if ok, _ := s.Acquire(ctx, "t1"); !ok {
		t.Fatal("acquire failed")
	}
	if err := s.Release(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Release(ctx, "t1"); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if s.Held("t1") {
		t.Error("lease still held after release")
	}
}
