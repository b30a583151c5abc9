package collaborator

import (
	"context"

	"github.com/runflow/engine/runstate"
)

// EchoPlanner always answers directly from the run's own message, with no
// tool calls and no approval gate. It is the Planner a deployment gets
// until it wires in a real one — actual planning logic is domain-specific
// and out of scope here (collaborator only declares the interface).
type EchoPlanner struct{}

// Plan implements Planner.
func (EchoPlanner) Plan(ctx context.Context, state *runstate.RunState) (Plan, error) {
	return Plan{Direct: true}, nil
}

// NullRetriever always reports no evidence, the valid "no evidence" outcome
// 4.E's verify adapter already handles by skipping citation requirements.
type NullRetriever struct{}

// Retrieve implements Retriever.
func (NullRetriever) Retrieve(ctx context.Context, state *runstate.RunState) ([]Chunk, error) {
	return nil, nil
}

// PermissiveGuardrail never blocks. A deployment running with real policy
// requirements replaces this with a Guardrail backed by its own
// classifier/ruleset.
type PermissiveGuardrail struct{}

// Check implements Guardrail.
func (PermissiveGuardrail) Check(ctx context.Context, text string) (GuardrailVerdict, error) {
	return GuardrailVerdict{}, nil
}
