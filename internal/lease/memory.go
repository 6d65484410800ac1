package lease

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. It honors TTL expiry and
// is suitable for single-node deployments and tests; it cannot provide
// cross-process exclusion.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]time.Time // key → expiry
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory lease store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases: make(map[string]time.Time),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Acquire(_ context.Context, tenantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(tenantID)
	if exp, ok := s.leases[key]; ok && s.now().Before(exp) {
		return false, nil
	}
	s.leases[key] = s.now().Add(TTL)
	return true, nil
}

func (s *MemoryStore) Refresh(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(tenantID)
	exp, ok := s.leases[key]
	if !ok || !s.now().Before(exp) {
		delete(s.leases, key)
		return ErrLeaseLost
	}
	s.leases[key] = s.now().Add(TTL)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, Key(tenantID))
	return nil
}

// Held reports whether a live lease exists for the tenant. Test helper.
func (s *MemoryStore) Held(tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.leases[Key(tenantID)]
	return ok && s.now().Before(exp)
}
