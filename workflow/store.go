package workflow

import "context"

// Store persists WorkflowState (4.C). Save must be atomic — readers never
// observe a partially written record. ListIncomplete is consulted on
// process start so orphaned workflows resume (4.H).
type Store interface {
	Load(ctx context.Context, runID string) (*State, error)
	Save(ctx context.Context, state *State) error
	ListIncomplete(ctx context.Context) ([]*State, error)
}
