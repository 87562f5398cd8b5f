package memory

import (
	"context"
	"sync"

	"github.com/quotagate/quotagate/internal/quota"
)

// Store keeps per-identifier state in a plain map. It backs tests and
// single-process deployments where a restart may drop counters.
type Store struct {
	mu     sync.RWMutex
	states map[string]quota.State
}

func New() *Store {
	return &Store{states: make(map[string]quota.State)}
}

func (s *Store) Load(_ context.Context, id string) (*quota.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	if !ok {
		return nil, nil
	}
	cp := st
	return &cp, nil
}

func (s *Store) Save(_ context.Context, id string, st *quota.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = *st
	return nil
}

func (s *Store) Close() error { return nil }
