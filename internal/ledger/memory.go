package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string][]*Event
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: make(map[string][]*Event)}
}

// FindTip implements Store.
func (s *MemoryStore) FindTip(_ context.Context, projectID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[projectID]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1].clone(), nil
}

// Append implements Store. The tip comparison and the append happen under
// one write lock, so it doubles as an atomic conditional append.
func (s *MemoryStore) Append(_ context.Context, event *Event) (*Event, error) {
	if err := event.validate(); err != nil {
		return nil, persistence("append", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[event.ProjectID]
	var tip *Event
	if len(chain) > 0 {
		tip = chain[len(chain)-1]
	}
	if event.PreviousHash != expectedPrevious(tip) {
		return nil, fmt.Errorf("%w: project %s tip moved", ErrConcurrencyConflict, event.ProjectID)
	}

	stored := event.clone()
	stored.Seq = int64(len(chain)) + 1
	s.chains[event.ProjectID] = append(chain, stored)
	return stored.clone(), nil
}

// FindAll implements Store.
func (s *MemoryStore) FindAll(_ context.Context, projectID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[projectID]
	out := make([]*Event, 0, len(chain))
	for _, e := range chain {
		out = append(out, e.clone())
	}
	return out, nil
}

// Projects implements ProjectLister.
func (s *MemoryStore) Projects(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.chains))
	for id := range s.chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
