// Package coordinator implements run admission and lifecycle (spec.md
// §4.H): check the global and per-tenant concurrency caps, append
// run.started (projecting it synchronously when a Projector is set), and
// hand the run to the workflow engine. Admission does not check the
// per-run model budget; the respond activity checks it before calling the
// model. It also drives resume-on-startup by re-enqueuing every incomplete run.
//
// Grounded on the teacher's runtime/agent/runtime.Runtime: a central
// registry coordinating the workflow engine, policy caps, and event
// streaming, narrowed from the teacher's agent/toolset/model registry down
// to the single admission+lifecycle responsibility spec.md assigns the
// Coordinator.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/runflow/engine/eventlog"
	"github.com/runflow/engine/ratelimit"
	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/workflow"
)

// ErrCapacityExceeded is returned by Start when admission is refused by a
// concurrency cap.
var ErrCapacityExceeded = errors.New("coordinator: capacity exceeded")

// StartRequest carries the inputs to POST /runs (spec.md §6).
type StartRequest struct {
	RunID    string // optional; generated if empty
	Message  string
	Context  string
	Mode     string
	Identity runstate.Identity
}

// Options configures a Coordinator.
type Options struct {
	Engine    workflow.Engine
	Log       eventlog.Log
	Projector *runstate.Projector // optional; when set, Start projects run.started synchronously

	// WorkflowRuns is optional; when set, ResumeIncomplete also re-attaches
	// the tool-event wake bridge (below) to every incomplete run it lists,
	// so a run left waiting_for_event across a process restart still gets
	// woken once its tool result arrives.
	WorkflowRuns workflow.Store

	GlobalConcurrency int // 0 disables the cap
	TenantConcurrency int // 0 disables the cap
}

// Coordinator admits and tracks runs per spec.md §4.H.
type Coordinator struct {
	engine       workflow.Engine
	log          eventlog.Log
	projector    *runstate.Projector
	workflowRuns workflow.Store

	global  *ratelimit.Counter
	tenants *ratelimit.TenantCounters
}

// New builds a Coordinator from opts.
func New(opts Options) *Coordinator {
	return &Coordinator{
		engine:       opts.Engine,
		log:          opts.Log,
		projector:    opts.Projector,
		workflowRuns: opts.WorkflowRuns,
		global:       ratelimit.NewCounter(opts.GlobalConcurrency),
		tenants:      ratelimit.NewTenantCounters(opts.TenantConcurrency),
	}
}

// Start admits req, persists the initial state, and enqueues the run onto
// the engine. On refusal it emits rate.limit.exceeded and returns
// ErrCapacityExceeded without starting the engine (§4.H "If refused, emit
// rate.limit.exceeded and return a failure without starting the engine").
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (string, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	if !c.global.TryAcquire() {
		c.emitRateLimited(ctx, runID, "global")
		return "", ErrCapacityExceeded
	}
	tenant := c.tenants.For(req.Identity.TenantID)
	if !tenant.TryAcquire() {
		c.global.Release()
		c.emitRateLimited(ctx, runID, "tenant")
		return "", ErrCapacityExceeded
	}

	ev, err := c.log.Append(ctx, runID, eventlog.TypeRunStarted, marshalRunStarted(req))
	if err != nil {
		c.global.Release()
		tenant.Release()
		return "", fmt.Errorf("coordinator: append run.started: %w", err)
	}
	if c.projector != nil {
		if _, err := c.projector.Apply(ctx, ev); err != nil {
			c.global.Release()
			tenant.Release()
			return "", fmt.Errorf("coordinator: project run.started: %w", err)
		}
	}

	if err := c.engine.Submit(ctx, runID); err != nil {
		c.global.Release()
		tenant.Release()
		return "", fmt.Errorf("coordinator: submit: %w", err)
	}

	go c.watchRun(runID, func() {
		c.global.Release()
		tenant.Release()
	})
	return runID, nil
}

// Cancel requests cancellation of runID: appends run.failed{reason=
// cancelled} and tells the engine to discard any awaited resume (§4.D
// "Cancellation").
func (c *Coordinator) Cancel(ctx context.Context, runID string) error {
	if _, err := c.log.Append(ctx, runID, eventlog.TypeRunFailed, marshalCancelled()); err != nil {
		return fmt.Errorf("coordinator: append run.failed: %w", err)
	}
	return c.engine.Cancel(ctx, runID)
}

// ResumeIncomplete re-enqueues every run the workflow store reports as
// incomplete, then re-attaches the tool-event wake bridge to each so a run
// left waiting_for_event survives a process restart (§4.H).
func (c *Coordinator) ResumeIncomplete(ctx context.Context) error {
	if err := c.engine.Resume(ctx); err != nil {
		return err
	}
	if c.workflowRuns == nil {
		return nil
	}
	states, err := c.workflowRuns.ListIncomplete(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: list incomplete runs: %w", err)
	}
	for _, s := range states {
		go c.watchRun(s.RunID, nil)
	}
	return nil
}

// toolWakeTypes are the tool-terminal event types that can unblock a run
// suspended in respond's WaitForEvents (§4.D, §4.F "ordering invariant").
var toolWakeTypes = map[eventlog.Type]bool{
	eventlog.TypeToolCompleted: true,
	eventlog.TypeToolFailed:    true,
	eventlog.TypeToolDenied:    true,
	eventlog.TypeToolServerErr: true,
}

// watchRun subscribes to runID's event stream for the run's lifetime. It
// calls Engine.Wake whenever a tool-terminal event arrives — §4.D's "the
// engine subscribes (or is already subscribed) and resumes when any one
// awaited type arrives for this run" — mirroring what httpapi's approval
// handler does explicitly for workflow.approval.recorded. Wake is a no-op
// if the run isn't actually waiting on that event type, so calling it
// unconditionally for every tool-terminal event is safe. release, if not
// nil, frees the admission slots Start acquired once a terminal run event
// is observed, so long-lived subscriptions do not leak concurrency budget.
func (c *Coordinator) watchRun(runID string, release func()) {
	if release != nil {
		defer release()
	}

	ctx := context.Background()
	sub, err := c.log.Subscribe(ctx, runID, 0)
	if err != nil {
		return
	}
	defer sub.Close()
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if toolWakeTypes[ev.Type] {
			_ = c.engine.Wake(ctx, runID, string(ev.Type))
			continue
		}
		if ev.Type == eventlog.TypeRunCompleted || ev.Type == eventlog.TypeRunFailed {
			return
		}
	}
}

func (c *Coordinator) emitRateLimited(ctx context.Context, runID, scope string) {
	_, _ = c.log.Append(ctx, runID, eventlog.TypeRateLimitExceeded, marshalScope(scope))
}
