package workflow

import "context"

// Engine drives runs forward through the fixed step pipeline (4.D). Two
// implementations ship: workflow/engine/inmem for development/testing
// (synchronous, in-process, no durability beyond the injected Store) and
// workflow/engine/temporal for production (backed by Temporal, durable
// across process restarts without relying on in-memory goroutine state).
//
// Parallel across runs, serial per run: Submit/Wake schedule a run onto a
// worker; the engine guarantees at most one activity executes per run_id at
// a time, independent of how many runs are in flight concurrently.
type Engine interface {
	// Submit schedules runID for execution, creating its WorkflowState if
	// none exists. It returns once the run has been handed to a worker; it
	// does not block for run completion.
	Submit(ctx context.Context, runID string) error

	// Wake notifies the engine that an event potentially unblocks a
	// suspended run (waiting_for_event or waiting_for_approval). The engine
	// re-reads WorkflowState and decides whether to resume.
	Wake(ctx context.Context, runID string, eventType string) error

	// Cancel writes the cancellation per 4.D "Cancellation": callers are
	// expected to have already appended run.failed{reason="cancelled"};
	// Cancel discards any awaited resume and marks the workflow failed.
	Cancel(ctx context.Context, runID string) error

	// Resume re-enqueues every run a workflow Store reports as incomplete.
	// Called once at process start (4.H).
	Resume(ctx context.Context) error

	// Close releases engine resources (worker pool, connections).
	Close(ctx context.Context) error
}
