package cooldown

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation. It is safe for
// concurrent use; cooldowns are lost on process restart.
type MemoryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time

	// now is injectable for tests.
	now func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		expires: make(map[string]time.Time),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Active reports whether target is still cooling down, pruning expired
// entries as it goes.
func (m *MemoryStore) Active(_ context.Context, target string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.expires[target]
	if !ok {
		return false, nil
	}
	if m.now().After(expiry) {
		delete(m.expires, target)
		return false, nil
	}
	return true, nil
}

// Set places target on cooldown for ttl.
func (m *MemoryStore) Set(_ context.Context, target string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[target] = m.now().Add(ttl)
	return nil
}
