// Package workflow implements the durable per-run step state (4.C) and the
// step-wise scheduling engine (4.D) that drives a run forward through the
// fixed pipeline: receive, plan, retrieve, respond, verify, maybe_approve,
// finalize.
//
// Grounded on the teacher's engine package (Engine/WorkflowContext
// abstraction, dual Temporal/in-memory backends) generalized from a
// user-defined workflow DSL down to this one fixed step list, and on
// runtime/workflow_loop.go's deadline/interrupt loop idiom.
package workflow

import "time"

// Status is the lifecycle state of a run's workflow execution.
type Status string

const (
	StatusRunning           Status = "running"
	StatusWaitingForEvent   Status = "waiting_for_event"
	StatusWaitingForApprove Status = "waiting_for_approval"
	StatusRetrying          Status = "retrying"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
)

// Step is one stop in the fixed pipeline. MaybeApprove is conditionally
// inserted by the plan activity's result, not scheduled unconditionally.
type Step string

const (
	StepReceive      Step = "receive"
	StepPlan         Step = "plan"
	StepRetrieve     Step = "retrieve"
	StepRespond      Step = "respond"
	StepVerify       Step = "verify"
	StepMaybeApprove Step = "maybe_approve"
	StepFinalize     Step = "finalize"
)

// Order is the fixed step sequence absent any approval detour.
var Order = []Step{StepReceive, StepPlan, StepRetrieve, StepRespond, StepVerify, StepFinalize}

// Next returns the step that follows cur in the fixed order, or ("", false)
// if cur is terminal (finalize).
func Next(cur Step) (Step, bool) {
	for i, s := range Order {
		if s == cur && i+1 < len(Order) {
			return Order[i+1], true
		}
	}
	return "", false
}

// State is the durable per-run workflow record (spec.md §3 WorkflowState).
type State struct {
	RunID              string          `json:"run_id" bson:"run_id"`
	CurrentStep        Step            `json:"current_step" bson:"current_step"`
	Status             Status          `json:"status" bson:"status"`
	Attempts           map[Step]int    `json:"attempts" bson:"attempts"`
	PendingEventTypes  map[string]bool `json:"pending_event_types,omitempty" bson:"pending_event_types,omitempty"`
	WaitingReason      string          `json:"waiting_reason,omitempty" bson:"waiting_reason,omitempty"`
	HumanDecision      string          `json:"human_decision,omitempty" bson:"human_decision,omitempty"`
	LastError          string          `json:"last_error,omitempty" bson:"last_error,omitempty"`
	RetryDeadline      time.Time       `json:"retry_deadline,omitempty" bson:"retry_deadline,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at" bson:"updated_at"`
}

// New returns a fresh workflow state for runID, starting at the receive
// step with zero attempts recorded, per 4.D "Lifecycle per run".
func New(runID string) *State {
	return &State{
		RunID:       runID,
		CurrentStep: StepReceive,
		Status:      StatusRunning,
		Attempts:    map[Step]int{StepReceive: 0},
		UpdatedAt:   time.Now().UTC(),
	}
}

// Incomplete reports whether the run still has work pending — i.e. it has
// not reached a terminal status. Used by Store.ListIncomplete.
func (s *State) Incomplete() bool {
	return s.Status != StatusCompleted && s.Status != StatusFailed
}

// Clone returns a deep-enough copy safe to hand to callers without sharing
// mutable maps with the stored original.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Attempts = make(map[Step]int, len(s.Attempts))
	for k, v := range s.Attempts {
		c.Attempts[k] = v
	}
	if s.PendingEventTypes != nil {
		c.PendingEventTypes = make(map[string]bool, len(s.PendingEventTypes))
		for k, v := range s.PendingEventTypes {
			c.PendingEventTypes[k] = v
		}
	}
	return &c
}
