// Package inmem provides a mutex-guarded, process-local workflow.Store
// implementation for development and tests.
package inmem

import (
	"context"
	"sync"

	"github.com/runflow/engine/workflow"
)

// Store implements workflow.Store in memory.
type Store struct {
	mu     sync.Mutex
	states map[string]*workflow.State
}

// New returns an empty Store.
func New() *Store {
	return &Store{states: make(map[string]*workflow.State)}
}

// Load implements workflow.Store.
func (s *Store) Load(ctx context.Context, runID string) (*workflow.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[runID]
	if !ok {
		return nil, nil
	}
	return st.Clone(), nil
}

// Save implements workflow.Store.
func (s *Store) Save(ctx context.Context, state *workflow.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.RunID] = state.Clone()
	return nil
}

// ListIncomplete implements workflow.Store.
func (s *Store) ListIncomplete(ctx context.Context) ([]*workflow.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*workflow.State
	for _, st := range s.states {
		if st.Incomplete() {
			out = append(out, st.Clone())
		}
	}
	return out, nil
}
