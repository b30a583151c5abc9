package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/runflow/engine/collaborator/model"
	"github.com/runflow/engine/eventlog"
	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/tools"
	"github.com/runflow/engine/workflow"
)

// NewRespond builds the respond step adapter. It reads the decision the
// plan step recorded: a tool call submits a tool.requested and suspends
// (4.E), a direct answer calls the model and emits output.chunk.
func NewRespond(deps Deps) workflow.Activity {
	return workflow.ActivityFunc(func(ctx context.Context, state *runstate.RunState) workflow.Result {
		emitNodeStarted(ctx, deps.Log, state.RunID, "respond")
		emitStatusChanged(ctx, deps.Log, state.RunID, "responding")

		var decision planDecision
		if !latestDecision(state, &decision) {
			err := errors.New("bad_plan: no plan decision on record")
			emitNodeCompleted(ctx, deps.Log, state.RunID, "respond", err.Error())
			return workflow.Fatal(err)
		}

		if decision.ToolCall != nil {
			return respondWithToolCall(ctx, deps, state, decision)
		}
		return respondDirectly(ctx, deps, state)
	})
}

func respondWithToolCall(ctx context.Context, deps Deps, state *runstate.RunState, decision planDecision) workflow.Result {
	call := decision.ToolCall
	if call.Name == "" {
		err := errors.New("bad_plan: tool call missing name")
		emitNodeCompleted(ctx, deps.Log, state.RunID, "respond", err.Error())
		return workflow.Fatal(err)
	}

	// Deterministic per (run, decision) rather than per dispatch attempt:
	// plan runs once and is not re-invoked across a suspend/resume cycle, so
	// this stays stable across both the first invocation (which submits the
	// request) and the resumed one (which must recognize its own result
	// instead of resubmitting under a new id).
	requestID := tools.RequestID(state.RunID, "respond", len(state.Decisions)-1)

	if result, ok := toolResultFor(state, requestID); ok {
		return resumeFromToolResult(ctx, deps, state, result)
	}

	if deps.Registry != nil {
		if spec, ok := deps.Registry.Spec(call.Name); ok {
			appendEvent(ctx, deps.Log, state.RunID, eventlog.TypeToolDiscovered, map[string]any{
				"tool_name":        string(spec.Name),
				"server_id":        spec.ServerID,
				"permission_scope": spec.PermissionScope,
			})
		}
	}

	req := tools.Request{
		RunID:           state.RunID,
		RequestID:       requestID,
		ToolName:        call.Name,
		ServerID:        call.ServerID,
		PermissionScope: call.PermissionScope,
		Arguments:       call.Arguments,
		SubmittedAt:     time.Now().UTC(),
	}

	appendEvent(ctx, deps.Log, state.RunID, eventlog.TypeToolRequested, map[string]any{
		"request_id":       req.RequestID,
		"tool_name":        string(req.ToolName),
		"server_id":        req.ServerID,
		"permission_scope": req.PermissionScope,
		"arguments":        req.Arguments,
	})

	if deps.ToolSubmitter != nil {
		if err := deps.ToolSubmitter.Submit(ctx, req); err != nil {
			emitNodeCompleted(ctx, deps.Log, state.RunID, "respond", err.Error())
			return classifyCollaboratorError(err)
		}
	}

	emitNodeCompleted(ctx, deps.Log, state.RunID, "respond", "")
	return workflow.WaitForEvents("awaiting_tool_result",
		string(eventlog.TypeToolCompleted),
		string(eventlog.TypeToolFailed),
		string(eventlog.TypeToolDenied),
		string(eventlog.TypeToolServerErr),
	)
}

// toolResultFor returns the recorded outcome of requestID, if the tool
// pipeline has already produced one.
func toolResultFor(state *runstate.RunState, requestID string) (runstate.ToolResultRecord, bool) {
	for _, r := range state.ToolResults {
		if r.RequestID == requestID {
			return r, true
		}
	}
	return runstate.ToolResultRecord{}, false
}

// resumeFromToolResult consumes a previously recorded tool outcome instead
// of resubmitting, per 4.D "on resume, re-invoke the same step with updated
// RunState": the resumed invocation must progress past respond, not repeat
// the tool call.
func resumeFromToolResult(ctx context.Context, deps Deps, state *runstate.RunState, result runstate.ToolResultRecord) workflow.Result {
	switch result.Status {
	case "completed":
		appendEvent(ctx, deps.Log, state.RunID, eventlog.TypeOutputChunk, map[string]any{"text": string(result.Output)})
		emitNodeCompleted(ctx, deps.Log, state.RunID, "respond", "")
		next, _ := workflow.Next(workflow.StepRespond)
		return workflow.Ok(next)
	case "denied":
		err := fmt.Errorf("%w: %s", ErrPermissionDenied, state.ToolDeniedReason)
		emitNodeCompleted(ctx, deps.Log, state.RunID, "respond", err.Error())
		return workflow.Fatal(err)
	default:
		err := fmt.Errorf("%s", result.Error)
		emitNodeCompleted(ctx, deps.Log, state.RunID, "respond", err.Error())
		return workflow.Fatal(err)
	}
}

func respondDirectly(ctx context.Context, deps Deps, state *runstate.RunState) workflow.Result {
	if deps.Model == nil {
		err := errors.New("bad_plan: no model configured for direct response")
		emitNodeCompleted(ctx, deps.Log, state.RunID, "respond", err.Error())
		return workflow.Fatal(err)
	}
	if deps.CostLimit > 0 && state.CostSpent >= deps.CostLimit {
		appendEvent(ctx, deps.Log, state.RunID, eventlog.TypeRateLimitExceeded, map[string]any{"scope": "model_budget"})
		emitNodeCompleted(ctx, deps.Log, state.RunID, "respond", ErrBudgetExhausted.Error())
		return workflow.Fatal(ErrBudgetExhausted)
	}

	req := model.Request{
		Model: deps.ModelName,
		Messages: []model.Message{
			{Role: "user", Content: state.Message},
		},
	}
	resp, err := deps.Model.Complete(ctx, req)
	if err != nil {
		emitNodeCompleted(ctx, deps.Log, state.RunID, "respond", err.Error())
		return classifyCollaboratorError(err)
	}

	appendEvent(ctx, deps.Log, state.RunID, eventlog.TypeOutputChunk, map[string]any{"text": resp.Text})
	emitNodeCompleted(ctx, deps.Log, state.RunID, "respond", "")

	next, _ := workflow.Next(workflow.StepRespond)
	return workflow.Ok(next)
}

