package temporal

import (
	"context"
	"encoding/json"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/runflow/engine/eventlog"
	"github.com/runflow/engine/runstate"
	wf "github.com/runflow/engine/workflow"
)

// stepActivityDeps closes over the dependencies runStepActivity needs: the
// same registry/log/runStates triple the in-memory engine's processRun
// dispatches against, just invoked once per Temporal activity task instead
// of once per loop iteration of a goroutine.
type stepActivityDeps struct {
	log       eventlog.Log
	runStates runstate.Store
	registry  wf.Registry
}

// run is registered as the runStepActivity Temporal activity. It executes
// step's wf.Activity against runID's current projection and translates the
// result into a stepOutcome runWorkflow can interpret deterministically.
//
// A non-nil error return is retried by Temporal per the step's RetryPolicy
// (ResultTransient, or an unexpected store failure); ResultFatal is instead
// surfaced as a successful activity result carrying Kind=fatal, so the
// workflow — not Temporal's retry machinery — decides to stop.
func (d stepActivityDeps) run(ctx context.Context, runID string, step wf.Step) (stepOutcome, error) {
	emit := wf.Emitter{Log: d.log}
	act, ok := d.registry.Activity(step)
	if !ok {
		return stepOutcome{Kind: wf.ResultFatal, ErrMsg: fmt.Sprintf("no activity registered for step %q", step)}, nil
	}

	attempt := int(activity.GetInfo(ctx).Attempt)
	emit.StepStarted(ctx, runID, step, attempt)

	rs, err := d.runStates.Load(ctx, runID)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("load run state: %w", err)
	}
	if rs == nil {
		rs = runstate.New(runID)
	}

	result := act.Run(ctx, rs)

	switch result.Kind {
	case wf.ResultOk:
		emit.StepCompleted(ctx, runID, step, attempt, "")
		if step == wf.StepFinalize {
			emit.Completed(ctx, runID)
			if !d.alreadySatisfied(ctx, runID, []string{string(eventlog.TypeRunCompleted), string(eventlog.TypeRunFailed)}) {
				_, _ = d.log.Append(ctx, runID, eventlog.TypeRunCompleted, json.RawMessage(`{}`))
			}
		}
		return stepOutcome{Kind: wf.ResultOk, NextStep: result.NextStep}, nil

	case wf.ResultFatal:
		errMsg := errString(result.Err)
		emit.StepCompleted(ctx, runID, step, attempt, errMsg)
		emit.Failed(ctx, runID, step, errMsg)
		if !d.alreadySatisfied(ctx, runID, []string{string(eventlog.TypeRunCompleted), string(eventlog.TypeRunFailed)}) {
			data, _ := json.Marshal(map[string]string{"error": errMsg})
			_, _ = d.log.Append(ctx, runID, eventlog.TypeRunFailed, data)
		}
		return stepOutcome{Kind: wf.ResultFatal, ErrMsg: errMsg}, nil

	case wf.ResultTransient:
		errMsg := errString(result.Err)
		emit.StepCompleted(ctx, runID, step, attempt, errMsg)
		return stepOutcome{}, fmt.Errorf("%s", errMsg)

	case wf.ResultWaitForEvents:
		if d.alreadySatisfied(ctx, runID, result.WaitEventTypes) {
			return stepOutcome{Kind: wf.ResultOk, NextStep: step}, nil
		}
		emit.WaitingForEvent(ctx, runID, step, result.WaitEventTypes, result.WaitReason)
		return stepOutcome{Kind: wf.ResultWaitForEvents, WaitEventTypes: result.WaitEventTypes, WaitReason: result.WaitReason}, nil

	case wf.ResultWaitForApproval:
		emit.WaitingForApproval(ctx, runID, step, result.ApprovalReason)
		return stepOutcome{Kind: wf.ResultWaitForApproval, ApprovalReason: result.ApprovalReason}, nil

	default:
		return stepOutcome{Kind: wf.ResultFatal, ErrMsg: fmt.Sprintf("unknown result kind %q", result.Kind)}, nil
	}
}

// alreadySatisfied mirrors the in-memory engine's race handling: an awaited
// event that landed before the wait was recorded must not strand the run.
func (d stepActivityDeps) alreadySatisfied(ctx context.Context, runID string, waitTypes []string) bool {
	history, err := d.log.History(ctx, runID)
	if err != nil {
		return false
	}
	want := make(map[string]bool, len(waitTypes))
	for _, t := range waitTypes {
		want[t] = true
	}
	for _, ev := range history {
		if want[string(ev.Type)] {
			return true
		}
	}
	return false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
