package activity

import (
	"context"
	"errors"

	"github.com/runflow/engine/collaborator"
	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/workflow"
)

// planDecision is the payload persisted to decision.made by the plan step
// and read back by respond to learn what the planner chose.
type planDecision struct {
	Direct         bool                        `json:"direct"`
	ToolCall       *collaborator.ToolCallIntent `json:"tool_call,omitempty"`
	NeedsApproval  bool                        `json:"needs_approval"`
	ApprovalReason string                      `json:"approval_reason,omitempty"`
}

// NewPlan builds the plan step adapter: asks the Planner what to do next
// and conditionally routes through maybe_approve for high-risk tool intent
// (4.D "Approval gate").
func NewPlan(deps Deps) workflow.Activity {
	return workflow.ActivityFunc(func(ctx context.Context, state *runstate.RunState) workflow.Result {
		emitNodeStarted(ctx, deps.Log, state.RunID, "plan")
		emitStatusChanged(ctx, deps.Log, state.RunID, "thinking")

		if deps.Planner == nil {
			err := errors.New("bad_plan: no planner configured")
			emitNodeCompleted(ctx, deps.Log, state.RunID, "plan", err.Error())
			return workflow.Fatal(err)
		}

		plan, err := deps.Planner.Plan(ctx, state)
		if err != nil {
			emitNodeCompleted(ctx, deps.Log, state.RunID, "plan", err.Error())
			return classifyCollaboratorError(err)
		}

		emitDecision(ctx, deps.Log, state.RunID, planDecision{
			Direct:         plan.Direct,
			ToolCall:       plan.ToolCall,
			NeedsApproval:  plan.NeedsApproval,
			ApprovalReason: plan.ApprovalReason,
		})
		emitNodeCompleted(ctx, deps.Log, state.RunID, "plan", "")

		if plan.NeedsApproval {
			return workflow.Ok(workflow.StepMaybeApprove)
		}
		next, _ := workflow.Next(workflow.StepPlan)
		return workflow.Ok(next)
	})
}
