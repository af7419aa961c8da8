package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/pearauth/ports"
)

// MemoryStore keeps invalidated access tokens in process memory
type MemoryStore struct {
	invalidated map[string]time.Time
	mu          sync.Mutex
	now         func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() ports.Store {
	return &MemoryStore{
		invalidated: make(map[string]time.Time),
		now:         time.Now,
	}
}

// InvalidateToken records tokenID as rejected for the given duration.
// A later call never shortens an existing entry.
func (s *MemoryStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	until := now.Add(expiry)
	if current, ok := s.invalidated[tokenID]; ok && current.After(until) {
		return nil
	}
	s.invalidated[tokenID] = until

	return nil
}

// IsTokenInvalidated checks if a token is invalidated
func (s *MemoryStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.invalidated[tokenID]
	if !ok {
		return false, nil
	}
	if !s.now().Before(until) {
		delete(s.invalidated, tokenID)
		return false, nil
	}

	return true, nil
}

// sweep drops expired entries; callers hold mu
func (s *MemoryStore) sweep(now time.Time) {
	for id, until := range s.invalidated {
		if !now.Before(until) {
			delete(s.invalidated, id)
		}
	}
}
