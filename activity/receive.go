package activity

import (
	"context"

	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/workflow"
)

// NewReceive builds the receive step adapter: the entry point that screens
// the incoming message through the guardrail before anything else runs.
func NewReceive(deps Deps) workflow.Activity {
	return workflow.ActivityFunc(func(ctx context.Context, state *runstate.RunState) workflow.Result {
		emitNodeStarted(ctx, deps.Log, state.RunID, "receive")
		emitStatusChanged(ctx, deps.Log, state.RunID, "received")

		if deps.Guardrail != nil {
			verdict, err := deps.Guardrail.Check(ctx, state.Message)
			if err != nil {
				emitNodeCompleted(ctx, deps.Log, state.RunID, "receive", err.Error())
				return classifyCollaboratorError(err)
			}
			if verdict.Blocked {
				emitGuardrailTriggered(ctx, deps.Log, state.RunID, verdict, true)
				emitNodeCompleted(ctx, deps.Log, state.RunID, "receive", ErrRefusal.Error())
				return workflow.Fatal(ErrRefusal)
			}
		}

		emitNodeCompleted(ctx, deps.Log, state.RunID, "receive", "")
		next, _ := workflow.Next(workflow.StepReceive)
		return workflow.Ok(next)
	})
}
