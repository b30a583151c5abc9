package workflow

import (
	"math"
	"time"
)

// StepPolicy configures retry and suspension behavior for a single step
// (spec.md §3 Step: max_attempts, backoff(attempt)→duration, wait_event_types).
type StepPolicy struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	WaitEventTypes []string
}

// Backoff returns the exponential delay before retrying attempt, capped at
// BackoffCap (4.D: "backoff = base * 2^(attempt-1) (capped)").
func (p StepPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BackoffBase) * math.Pow(2, float64(attempt-1)))
	if p.BackoffCap > 0 && d > p.BackoffCap {
		return p.BackoffCap
	}
	return d
}

// DefaultPolicies returns the conservative per-step policy table decided in
// DESIGN.md's Open Question resolution: receive and finalize never retry
// (finalize must terminate the run, not loop); plan/retrieve/respond get
// three attempts; verify gets two.
func DefaultPolicies() map[Step]StepPolicy {
	return map[Step]StepPolicy{
		StepReceive: {MaxAttempts: 1},
		StepPlan: {
			MaxAttempts: 3,
			BackoffBase: 500 * time.Millisecond,
			BackoffCap:  30 * time.Second,
		},
		StepRetrieve: {
			MaxAttempts: 3,
			BackoffBase: 500 * time.Millisecond,
			BackoffCap:  30 * time.Second,
		},
		StepRespond: {
			MaxAttempts: 3,
			BackoffBase: 500 * time.Millisecond,
			BackoffCap:  30 * time.Second,
			WaitEventTypes: []string{
				"tool.completed", "tool.failed", "tool.denied", "tool.server.error",
			},
		},
		StepVerify: {
			MaxAttempts: 2,
			BackoffBase: 500 * time.Millisecond,
			BackoffCap:  10 * time.Second,
		},
		StepMaybeApprove: {
			MaxAttempts:    1,
			WaitEventTypes: []string{"workflow.approval.recorded"},
		},
		StepFinalize: {MaxAttempts: 1},
	}
}
