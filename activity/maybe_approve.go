package activity

import (
	"context"

	"github.com/runflow/engine/eventlog"
	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/workflow"
)

// approvalDecision mirrors the payload POST /runs/{id}/approval appends as
// workflow.approval.recorded.
type approvalDecision struct {
	Decision string `json:"decision"`
}

// NewMaybeApprove builds the conditionally-inserted approval gate adapter
// (4.D "Approval gate"). The first invocation suspends; a second invocation
// (after workflow.approval.recorded wakes the engine) reads the decision
// back out of the event log, since Engine.Wake carries only the event type.
func NewMaybeApprove(deps Deps) workflow.Activity {
	return workflow.ActivityFunc(func(ctx context.Context, state *runstate.RunState) workflow.Result {
		emitNodeStarted(ctx, deps.Log, state.RunID, "maybe_approve")

		decision, found := latestApproval(ctx, deps.Log, state.RunID)
		if !found {
			emitStatusChanged(ctx, deps.Log, state.RunID, "waiting_for_approval")
			return workflow.WaitForApproval("high_risk_tool_intent")
		}

		emitNodeCompleted(ctx, deps.Log, state.RunID, "maybe_approve", "")
		if decision != "approved" {
			return workflow.Fatal(ErrRejectedByUser)
		}
		return workflow.Ok(workflow.StepRetrieve)
	})
}

func latestApproval(ctx context.Context, log eventlog.Log, runID string) (string, bool) {
	history, err := log.History(ctx, runID)
	if err != nil {
		return "", false
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Type != eventlog.TypeWorkflowApprovalRecorded {
			continue
		}
		var d approvalDecision
		if unmarshalInto(history[i].Data, &d) {
			return d.Decision, true
		}
	}
	return "", false
}
