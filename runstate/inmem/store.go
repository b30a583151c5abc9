// Package inmem is the local, single-process RunState store.
package inmem

import (
	"context"
	"sync"

	"github.com/runflow/engine/runstate"
)

// Store is an in-memory, mutex-guarded runstate.Store.
type Store struct {
	mu     sync.RWMutex
	states map[string]*runstate.RunState
}

// New constructs an empty in-memory Store.
func New() *Store {
	return &Store{states: make(map[string]*runstate.RunState)}
}

// Load returns the stored snapshot for runID, or nil if none exists yet.
func (s *Store) Load(ctx context.Context, runID string) (*runstate.RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[runID]
	if !ok {
		return nil, nil
	}
	return state.Clone(), nil
}

// Save atomically replaces the stored snapshot for state.RunID.
func (s *Store) Save(ctx context.Context, state *runstate.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.RunID] = state.Clone()
	return nil
}
