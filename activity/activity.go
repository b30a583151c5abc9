// Package activity implements the per-step adapters the workflow engine
// drives (spec.md §4.E): one Activity per pipeline step, each a pure
// function of RunState plus the collaborators wired in at startup.
//
// Grounded on the teacher's runtime/agent node implementations: thin
// adapters that emit their own lifecycle events and translate collaborator
// failures into the engine's closed Result variant set.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/runflow/engine/collaborator"
	"github.com/runflow/engine/collaborator/model"
	"github.com/runflow/engine/eventlog"
	"github.com/runflow/engine/permission"
	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/tools"
	"github.com/runflow/engine/workflow"
)

// Deps bundles the collaborators and infrastructure every adapter needs.
// Not every adapter uses every field; a nil collaborator degrades
// gracefully where spec.md allows it (e.g. a nil Guardrail never refuses).
type Deps struct {
	Log eventlog.Log

	Planner       collaborator.Planner
	Retriever     collaborator.Retriever
	Guardrail     collaborator.Guardrail
	Model         model.Client
	ToolSubmitter collaborator.ToolSubmitter
	Gate          permission.Gate
	// Registry resolves tool descriptors so respond can emit tool.discovered
	// before dispatching a tool call. Nil skips discovery (the executor
	// still resolves the descriptor itself downstream).
	Registry tools.Registry

	ModelName   string
	Environment string
	// CostLimit is the per-run model budget (RUN_MODEL_BUDGET); zero disables
	// the check.
	CostLimit float64
}

// Errors surfaced via workflow.Fatal; their message is the error_kind
// taxonomy of spec.md §7.
var (
	ErrRefusal           = errors.New("refusal")
	ErrBadPlan           = errors.New("bad_plan")
	ErrPermissionDenied  = errors.New("permission_denied")
	ErrBudgetExhausted   = errors.New("budget_exhausted")
	ErrMissingCitations  = errors.New("missing_citations")
	ErrInvalidCitation   = errors.New("invalid_citation")
	ErrRejectedByUser    = errors.New("rejected_by_user")
	ErrNetworkFailure    = errors.New("network_failure")
)

// Build registers all seven step adapters against deps.
func Build(deps Deps) workflow.Registry {
	return workflow.NewRegistry(map[workflow.Step]workflow.Activity{
		workflow.StepReceive:      NewReceive(deps),
		workflow.StepPlan:         NewPlan(deps),
		workflow.StepRetrieve:     NewRetrieve(deps),
		workflow.StepRespond:      NewRespond(deps),
		workflow.StepVerify:       NewVerify(deps),
		workflow.StepMaybeApprove: NewMaybeApprove(deps),
		workflow.StepFinalize:     NewFinalize(deps),
	})
}

func emitNodeStarted(ctx context.Context, log eventlog.Log, runID string, name string) {
	appendEvent(ctx, log, runID, eventlog.TypeNodeStarted, map[string]any{"name": name})
}

func emitNodeCompleted(ctx context.Context, log eventlog.Log, runID string, name string, errMsg string) {
	payload := map[string]any{"name": name}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	appendEvent(ctx, log, runID, eventlog.TypeNodeCompleted, payload)
}

func emitStatusChanged(ctx context.Context, log eventlog.Log, runID string, phase string) {
	appendEvent(ctx, log, runID, eventlog.TypeStatusChanged, map[string]any{"phase": phase})
}

func emitDecision(ctx context.Context, log eventlog.Log, runID string, data any) {
	appendEvent(ctx, log, runID, eventlog.TypeDecisionMade, data)
}

func emitGuardrailTriggered(ctx context.Context, log eventlog.Log, runID string, v collaborator.GuardrailVerdict, blocking bool) {
	appendEvent(ctx, log, runID, eventlog.TypeGuardrailTriggered, map[string]any{
		"status":      "blocked",
		"reason":      v.Reason,
		"layer":       v.Layer,
		"threat_type": v.ThreatType,
		"blocking":    blocking,
	})
}

func appendEvent(ctx context.Context, log eventlog.Log, runID string, typ eventlog.Type, data any) eventlog.Event {
	raw, err := json.Marshal(data)
	if err != nil {
		return eventlog.Event{}
	}
	ev, err := log.Append(ctx, runID, typ, json.RawMessage(raw))
	if err != nil {
		return eventlog.Event{}
	}
	return ev
}

// latestDecision unmarshals the most recent decision.made payload into v.
// Returns false if no decision has been recorded yet.
func latestDecision(state *runstate.RunState, v any) bool {
	if len(state.Decisions) == 0 {
		return false
	}
	last := state.Decisions[len(state.Decisions)-1]
	return json.Unmarshal(last.Data, v) == nil
}

// classifyCollaboratorError maps a generic collaborator error into the
// engine's closed Result variant set per spec.md §4.E's bulleted rules.
// Adapters that can identify a more specific kind (schema/permission,
// budget) should branch before falling back to this.
func classifyCollaboratorError(err error) workflow.Result {
	if err == nil {
		return workflow.Result{}
	}
	if errors.Is(err, model.ErrRateLimited) {
		return workflow.Transient(fmt.Errorf("%w: %v", ErrNetworkFailure, err))
	}
	return workflow.Transient(fmt.Errorf("%w: %v", ErrNetworkFailure, err))
}

func nowMS() int64 { return time.Now().UnixMilli() }

func unmarshalInto(data json.RawMessage, v any) bool {
	if len(data) == 0 {
		return false
	}
	return json.Unmarshal(data, v) == nil
}
