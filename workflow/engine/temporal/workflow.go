package temporal

import (
	"fmt"
	"time"

	temporalactivity "go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	wf "github.com/runflow/engine/workflow"
)

// stepOutcome is runStepActivity's wire-safe translation of wf.Result: a
// plain struct Temporal's default data converter can marshal across the
// activity boundary, since wf.Result.Err is an `error` and cannot cross
// that boundary directly.
type stepOutcome struct {
	Kind           wf.ResultKind
	NextStep       wf.Step
	ErrMsg         string
	WaitEventTypes []string
	WaitReason     string
	ApprovalReason string
}

func workflowRegisterOptions() workflow.RegisterOptions {
	return workflow.RegisterOptions{Name: runWorkflowName}
}

func activityRegisterOptions() temporalactivity.RegisterOptions {
	return temporalactivity.RegisterOptions{Name: runStepActivityName}
}

// newRunWorkflow builds the deterministic loop driving runID through the
// fixed pipeline, closing over the per-step retry/backoff policy table.
func newRunWorkflow(policies map[wf.Step]wf.StepPolicy) func(ctx workflow.Context, runID string) error {
	return func(ctx workflow.Context, runID string) error {
		wakeCh := workflow.GetSignalChannel(ctx, wakeSignalName)
		step := wf.StepReceive

		for {
			policy := policies[step]
			ao := workflow.ActivityOptions{
				StartToCloseTimeout: stepTimeout(policy),
				RetryPolicy:         retryPolicy(policy),
			}
			actCtx := workflow.WithActivityOptions(ctx, ao)

			var outcome stepOutcome
			err := workflow.ExecuteActivity(actCtx, runStepActivityName, runID, step).Get(actCtx, &outcome)
			if err != nil {
				return err
			}

			switch outcome.Kind {
			case wf.ResultOk:
				if step == wf.StepFinalize {
					return nil
				}
				step = outcome.NextStep

			case wf.ResultFatal:
				return temporal.NewNonRetryableApplicationError(outcome.ErrMsg, "fatal", nil)

			case wf.ResultWaitForEvents:
				waitForSignal(ctx, wakeCh, outcome.WaitEventTypes)
				// same step is re-invoked with the refreshed projection.

			case wf.ResultWaitForApproval:
				waitForSignal(ctx, wakeCh, []string{"workflow.approval.recorded"})

			default:
				return fmt.Errorf("temporal engine: unknown outcome kind %q", outcome.Kind)
			}
		}
	}
}

// waitForSignal blocks until a wake signal carrying one of want arrives,
// ignoring any that do not match — a run may be woken speculatively for an
// event that turns out not to be the one it is suspended on.
func waitForSignal(ctx workflow.Context, ch workflow.ReceiveChannel, want []string) {
	set := make(map[string]bool, len(want))
	for _, w := range want {
		set[w] = true
	}
	for {
		var eventType string
		ch.Receive(ctx, &eventType)
		if set[eventType] {
			return
		}
	}
}

func stepTimeout(policy wf.StepPolicy) time.Duration {
	return 5 * time.Minute
}

func retryPolicy(policy wf.StepPolicy) *temporal.RetryPolicy {
	maxAttempts := int32(policy.MaxAttempts)
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	initial := policy.BackoffBase
	if initial <= 0 {
		initial = time.Second
	}
	maxInterval := policy.BackoffCap
	if maxInterval <= 0 {
		maxInterval = 30 * time.Second
	}
	return &temporal.RetryPolicy{
		InitialInterval:    initial,
		BackoffCoefficient: 2.0,
		MaximumInterval:    maxInterval,
		MaximumAttempts:    maxAttempts,
	}
}
