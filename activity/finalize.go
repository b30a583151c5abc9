package activity

import (
	"context"

	"github.com/runflow/engine/eventlog"
	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/workflow"
)

// NewFinalize builds the finalize step adapter: the terminal node that
// appends run.completed. The engine itself marks the workflow completed
// once this step returns Ok, regardless of NextStep (workflow/engine/inmem).
func NewFinalize(deps Deps) workflow.Activity {
	return workflow.ActivityFunc(func(ctx context.Context, state *runstate.RunState) workflow.Result {
		emitNodeStarted(ctx, deps.Log, state.RunID, "finalize")
		emitStatusChanged(ctx, deps.Log, state.RunID, "complete")

		appendEvent(ctx, deps.Log, state.RunID, eventlog.TypeRunCompleted, map[string]any{
			"outcome":    outcomeFor(state),
			"cost_spent": state.CostSpent,
			"cost_limit": state.CostLimit,
			"degraded":   state.Degraded,
		})
		emitNodeCompleted(ctx, deps.Log, state.RunID, "finalize", "")
		return workflow.Ok(workflow.StepFinalize)
	})
}

func outcomeFor(state *runstate.RunState) string {
	if state.Outcome != "" {
		return state.Outcome
	}
	return "success"
}
