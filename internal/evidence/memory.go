package evidence

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// primarily useful for testing and for single-process deployments that do
// not need durable persistence across restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string][]*Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: make(map[string][]*Entry)}
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[e.IncidentID]
	for _, existing := range chain {
		if existing.Sequence == e.Sequence {
			return ErrConflict
		}
	}
	s.chains[e.IncidentID] = append(chain, e)
	return nil
}

// MaxSequence implements Store.
func (s *MemoryStore) MaxSequence(_ context.Context, incidentID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := int64(-1)
	for _, e := range s.chains[incidentID] {
		if e.Sequence > max {
			max = e.Sequence
		}
	}
	return max, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, incidentID string, seq int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.chains[incidentID] {
		if e.Sequence == seq {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, incidentID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[incidentID]
	out := make([]*Entry, len(chain))
	copy(out, chain)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
