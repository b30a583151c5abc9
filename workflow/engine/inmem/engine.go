// Package inmem provides a synchronous, in-process Engine implementation
// for local development and tests. It serializes activity execution per
// run_id while allowing distinct runs to progress concurrently, bounded by
// a fixed worker pool, per the scheduling model described on workflow.Engine.
//
// Grounded on runtime/agent/engine/inmem/engine.go's in-memory backend and
// runtime/workflow_loop.go's deadline/interrupt loop idiom, generalized from
// the teacher's user-defined-workflow model to the fixed 7-step pipeline.
package inmem

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/runflow/engine/eventlog"
	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/workflow"
)

// Engine is an in-memory workflow.Engine. It holds no durability beyond
// whatever Store and Log implementations it is constructed with; process
// restarts rely on those being durable stores if recovery matters.
type Engine struct {
	log       eventlog.Log
	states    workflow.Store
	runStates runstate.Store
	registry  workflow.Registry
	policies  map[workflow.Step]workflow.StepPolicy
	emit      workflow.Emitter

	workers int
	jobs    chan string

	mu     sync.Mutex
	active map[string]bool
	timers map[string]*time.Timer
	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Options configures a new Engine.
type Options struct {
	Log       eventlog.Log
	States    workflow.Store
	RunStates runstate.Store
	Registry  workflow.Registry
	Policies  map[workflow.Step]workflow.StepPolicy // defaults to workflow.DefaultPolicies()
	Workers   int                                   // defaults to 8
}

// New builds an Engine ready to Submit runs.
func New(opts Options) *Engine {
	policies := opts.Policies
	if policies == nil {
		policies = workflow.DefaultPolicies()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 8
	}
	e := &Engine{
		log:       opts.Log,
		states:    opts.States,
		runStates: opts.RunStates,
		registry:  opts.Registry,
		policies:  policies,
		emit:      workflow.Emitter{Log: opts.Log},
		workers:   workers,
		jobs:      make(chan string, 1024),
		active:    make(map[string]bool),
		timers:    make(map[string]*time.Timer),
		stopCh:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case runID := <-e.jobs:
			e.processRun(context.Background(), runID)
		case <-e.stopCh:
			return
		}
	}
}

// trigger enqueues runID for processing unless it is already queued or
// being processed, in which case the pending work will pick up the latest
// state on its next pass.
func (e *Engine) trigger(runID string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.active[runID] {
		e.mu.Unlock()
		return
	}
	e.active[runID] = true
	e.mu.Unlock()

	select {
	case e.jobs <- runID:
	default:
		// Queue briefly full; retry in a goroutine so trigger never blocks
		// its caller (which may be inside another run's processing).
		go func() { e.jobs <- runID }()
	}
}

func (e *Engine) release(runID string) {
	e.mu.Lock()
	delete(e.active, runID)
	e.mu.Unlock()
}

// Submit implements workflow.Engine.
func (e *Engine) Submit(ctx context.Context, runID string) error {
	state, err := e.states.Load(ctx, runID)
	if err != nil {
		return err
	}
	if state == nil {
		state = workflow.New(runID)
		if err := e.states.Save(ctx, state); err != nil {
			return err
		}
	}
	e.trigger(runID)
	return nil
}

// Wake implements workflow.Engine.
func (e *Engine) Wake(ctx context.Context, runID string, eventType string) error {
	state, err := e.states.Load(ctx, runID)
	if err != nil || state == nil {
		return err
	}
	switch state.Status {
	case workflow.StatusWaitingForEvent:
		if !state.PendingEventTypes[eventType] {
			return nil
		}
		state.Status = workflow.StatusRunning
		state.PendingEventTypes = nil
		state.WaitingReason = ""
	case workflow.StatusWaitingForApprove:
		if eventType != string(eventlog.TypeWorkflowApprovalRecorded) {
			return nil
		}
		state.Status = workflow.StatusRunning
	default:
		return nil
	}
	state.UpdatedAt = time.Now().UTC()
	if err := e.states.Save(ctx, state); err != nil {
		return err
	}
	e.trigger(runID)
	return nil
}

// Cancel implements workflow.Engine.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	state, err := e.states.Load(ctx, runID)
	if err != nil || state == nil {
		return err
	}
	e.mu.Lock()
	if t, ok := e.timers[runID]; ok {
		t.Stop()
		delete(e.timers, runID)
	}
	e.mu.Unlock()

	state.Status = workflow.StatusFailed
	state.LastError = "cancelled"
	state.PendingEventTypes = nil
	state.UpdatedAt = time.Now().UTC()
	if err := e.states.Save(ctx, state); err != nil {
		return err
	}
	e.emit.Failed(ctx, runID, state.CurrentStep, "cancelled")
	return nil
}

// Resume implements workflow.Engine, re-enqueuing every run a Store reports
// as incomplete. Called once at process start (4.H).
func (e *Engine) Resume(ctx context.Context) error {
	states, err := e.states.ListIncomplete(ctx)
	if err != nil {
		return err
	}
	for _, s := range states {
		e.trigger(s.RunID)
	}
	return nil
}

// Close implements workflow.Engine.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, t := range e.timers {
		t.Stop()
	}
	e.mu.Unlock()
	close(e.stopCh)
	e.wg.Wait()
	return nil
}

// processRun drives runID forward synchronously through as many steps as it
// can before hitting a wait, a scheduled retry, or a terminal outcome.
func (e *Engine) processRun(ctx context.Context, runID string) {
	defer e.release(runID)

	for {
		state, err := e.states.Load(ctx, runID)
		if err != nil || state == nil {
			return
		}
		if !state.Incomplete() {
			return
		}
		switch state.Status {
		case workflow.StatusWaitingForEvent, workflow.StatusWaitingForApprove:
			return
		case workflow.StatusRetrying:
			if time.Now().Before(state.RetryDeadline) {
				e.scheduleRetry(runID, state.RetryDeadline)
				return
			}
			state.Status = workflow.StatusRunning
		}

		step := state.CurrentStep
		policy := e.policies[step]
		activity, ok := e.registry.Activity(step)
		if !ok {
			e.fail(ctx, state, fmt.Errorf("workflow: no activity registered for step %q", step))
			return
		}

		attempt := state.Attempts[step] + 1
		state.Attempts[step] = attempt
		state.UpdatedAt = time.Now().UTC()
		if err := e.states.Save(ctx, state); err != nil {
			return
		}
		e.emit.StepStarted(ctx, runID, step, attempt)

		rs, err := e.runStates.Load(ctx, runID)
		if err != nil {
			e.fail(ctx, state, err)
			return
		}
		if rs == nil {
			rs = runstate.New(runID)
		}

		result := activity.Run(ctx, rs)

		switch result.Kind {
		case workflow.ResultOk:
			e.emit.StepCompleted(ctx, runID, step, attempt, "")
			if step == workflow.StepFinalize {
				state.Status = workflow.StatusCompleted
				state.UpdatedAt = time.Now().UTC()
				if err := e.states.Save(ctx, state); err != nil {
					return
				}
				e.emit.Completed(ctx, runID)
				if !e.alreadySatisfied(ctx, runID, []string{string(eventlog.TypeRunCompleted), string(eventlog.TypeRunFailed)}) {
					_, _ = e.log.Append(ctx, runID, eventlog.TypeRunCompleted, json.RawMessage(`{}`))
				}
				return
			}
			state.CurrentStep = result.NextStep
			if _, seen := state.Attempts[result.NextStep]; !seen {
				state.Attempts[result.NextStep] = 0
			}
			state.UpdatedAt = time.Now().UTC()
			if err := e.states.Save(ctx, state); err != nil {
				return
			}
			continue

		case workflow.ResultTransient:
			if attempt >= maxAttempts(policy) {
				e.emit.StepCompleted(ctx, runID, step, attempt, result.Err.Error())
				e.fail(ctx, state, result.Err)
				return
			}
			delay := policy.Backoff(attempt)
			state.Status = workflow.StatusRetrying
			state.RetryDeadline = time.Now().Add(delay)
			state.LastError = result.Err.Error()
			state.UpdatedAt = time.Now().UTC()
			if err := e.states.Save(ctx, state); err != nil {
				return
			}
			e.emit.Retrying(ctx, runID, step, attempt, delay.Milliseconds(), result.Err.Error())
			e.scheduleRetry(runID, state.RetryDeadline)
			return

		case workflow.ResultFatal:
			errMsg := ""
			if result.Err != nil {
				errMsg = result.Err.Error()
			}
			e.emit.StepCompleted(ctx, runID, step, attempt, errMsg)
			e.fail(ctx, state, result.Err)
			return

		case workflow.ResultWaitForEvents:
			if satisfied := e.alreadySatisfied(ctx, runID, result.WaitEventTypes); satisfied {
				// The awaited event was appended before the wait was set up
				// (e.g. a fast tool result racing the respond activity).
				// Proceed without ever entering a waiting status.
				continue
			}
			state.Status = workflow.StatusWaitingForEvent
			state.PendingEventTypes = toSet(result.WaitEventTypes)
			state.WaitingReason = result.WaitReason
			state.UpdatedAt = time.Now().UTC()
			if err := e.states.Save(ctx, state); err != nil {
				return
			}
			e.emit.WaitingForEvent(ctx, runID, step, result.WaitEventTypes, result.WaitReason)
			return

		case workflow.ResultWaitForApproval:
			state.Status = workflow.StatusWaitingForApprove
			state.WaitingReason = result.ApprovalReason
			state.UpdatedAt = time.Now().UTC()
			if err := e.states.Save(ctx, state); err != nil {
				return
			}
			e.emit.WaitingForApproval(ctx, runID, step, result.ApprovalReason)
			return

		default:
			e.fail(ctx, state, fmt.Errorf("workflow: unknown result kind %q", result.Kind))
			return
		}
	}
}

// alreadySatisfied scans history for any event of the awaited types, so a
// result that races ahead of the wait being recorded is not lost. Among
// candidates it is indifferent to which arrived first — the caller only
// needs to know one of them already happened.
func (e *Engine) alreadySatisfied(ctx context.Context, runID string, waitTypes []string) bool {
	history, err := e.log.History(ctx, runID)
	if err != nil {
		return false
	}
	want := toSet(waitTypes)
	for _, ev := range history {
		if want[string(ev.Type)] {
			return true
		}
	}
	return false
}

func (e *Engine) fail(ctx context.Context, state *workflow.State, err error) {
	state.Status = workflow.StatusFailed
	if err != nil {
		state.LastError = err.Error()
	}
	state.UpdatedAt = time.Now().UTC()
	if saveErr := e.states.Save(ctx, state); saveErr != nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	e.emit.Failed(ctx, state.RunID, state.CurrentStep, msg)
	if !e.alreadySatisfied(ctx, state.RunID, []string{string(eventlog.TypeRunCompleted), string(eventlog.TypeRunFailed)}) {
		data, _ := json.Marshal(map[string]string{"error": msg})
		_, _ = e.log.Append(ctx, state.RunID, eventlog.TypeRunFailed, data)
	}
}

func (e *Engine) scheduleRetry(runID string, deadline time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if t, ok := e.timers[runID]; ok {
		t.Stop()
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	e.timers[runID] = time.AfterFunc(d, func() {
		e.mu.Lock()
		delete(e.timers, runID)
		e.mu.Unlock()
		e.trigger(runID)
	})
}

func maxAttempts(p workflow.StepPolicy) int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}
