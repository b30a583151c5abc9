package workflow

import (
	"context"
	"encoding/json"

	"github.com/runflow/engine/eventlog"
)

// Emitter appends the workflow.* lifecycle events an Engine implementation
// is responsible for, independent of which backend (inmem, temporal) drives
// the loop. Activities emit their own node.*/status.changed events directly
// against the log; the engine only ever emits the workflow.* ones.
type Emitter struct {
	Log eventlog.Store
}

func (e Emitter) append(ctx context.Context, runID string, typ eventlog.Type, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = json.RawMessage("{}")
	}
	// Engine-emitted lifecycle events are best-effort bookkeeping on top of
	// the activity's own events; a failure here must not abort the run.
	_, _ = e.Log.Append(ctx, runID, typ, raw)
}

// StepStarted records that step's attempt-th attempt has begun.
func (e Emitter) StepStarted(ctx context.Context, runID string, step Step, attempt int) {
	e.append(ctx, runID, eventlog.TypeWorkflowStepStarted, map[string]any{
		"step":    step,
		"attempt": attempt,
	})
}

// StepCompleted records the outcome of a step attempt. errMsg is empty on
// success.
func (e Emitter) StepCompleted(ctx context.Context, runID string, step Step, attempt int, errMsg string) {
	e.append(ctx, runID, eventlog.TypeWorkflowStepCompleted, map[string]any{
		"step":    step,
		"attempt": attempt,
		"error":   errMsg,
	})
}

// Retrying records that step will be retried after delayMS milliseconds.
func (e Emitter) Retrying(ctx context.Context, runID string, step Step, attempt int, delayMS int64, errMsg string) {
	e.append(ctx, runID, eventlog.TypeWorkflowRetrying, map[string]any{
		"step":     step,
		"attempt":  attempt,
		"delay_ms": delayMS,
		"error":    errMsg,
	})
}

// WaitingForEvent records that the run has suspended at step pending one of
// eventTypes.
func (e Emitter) WaitingForEvent(ctx context.Context, runID string, step Step, eventTypes []string, reason string) {
	e.append(ctx, runID, eventlog.TypeWorkflowWaitingForEvent, map[string]any{
		"step":        step,
		"event_types": eventTypes,
		"reason":      reason,
	})
}

// WaitingForApproval records that the run has suspended at step pending a
// human decision.
func (e Emitter) WaitingForApproval(ctx context.Context, runID string, step Step, reason string) {
	e.append(ctx, runID, eventlog.TypeWorkflowWaitingForApproval, map[string]any{
		"step":   step,
		"reason": reason,
	})
}

// Completed records that the workflow reached finalize successfully.
func (e Emitter) Completed(ctx context.Context, runID string) {
	e.append(ctx, runID, eventlog.TypeWorkflowCompleted, map[string]any{})
}

// Failed records that the workflow terminated without reaching finalize.
func (e Emitter) Failed(ctx context.Context, runID string, step Step, errMsg string) {
	e.append(ctx, runID, eventlog.TypeWorkflowFailed, map[string]any{
		"step":  step,
		"error": errMsg,
	})
}
