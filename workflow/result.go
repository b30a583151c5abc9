package workflow

// ResultKind discriminates the closed variant set an activity adapter may
// return (4.D "Activity results").
type ResultKind string

const (
	ResultOk              ResultKind = "ok"
	ResultFatal           ResultKind = "fatal"
	ResultTransient       ResultKind = "transient"
	ResultWaitForEvents   ResultKind = "wait_for_events"
	ResultWaitForApproval ResultKind = "wait_for_approval"
)

// Result is the outcome an activity adapter hands back to the engine after
// executing current_step. Exactly one constructor below should be used to
// build a Result; the engine switches on Kind.
type Result struct {
	Kind ResultKind

	// NextStep is set for ResultOk.
	NextStep Step

	// Err is set for ResultFatal and ResultTransient.
	Err error

	// WaitEventTypes and WaitReason are set for ResultWaitForEvents.
	WaitEventTypes []string
	WaitReason     string

	// ApprovalReason is set for ResultWaitForApproval.
	ApprovalReason string
}

// Ok advances the workflow to next after the current step completes
// successfully.
func Ok(next Step) Result { return Result{Kind: ResultOk, NextStep: next} }

// Fatal terminates the run with err. The engine emits
// workflow.step.completed{error} + workflow.failed + run.failed.
func Fatal(err error) Result { return Result{Kind: ResultFatal, Err: err} }

// Transient signals a retryable failure. The engine treats it as Fatal once
// the step's max attempts are exhausted.
func Transient(err error) Result { return Result{Kind: ResultTransient, Err: err} }

// WaitForEvents suspends the run until any one of types arrives for this
// run_id. On resume the same step is re-invoked with the refreshed
// RunState.
func WaitForEvents(reason string, types ...string) Result {
	return Result{Kind: ResultWaitForEvents, WaitEventTypes: types, WaitReason: reason}
}

// WaitForApproval suspends the run pending a human decision.
func WaitForApproval(reason string) Result {
	return Result{Kind: ResultWaitForApproval, ApprovalReason: reason}
}
