// Package temporal implements workflow.Engine on top of Temporal
// (https://temporal.io), the durable backend named in SPEC_FULL.md's
// "Dual transport abstraction": the same fixed seven-step pipeline the
// in-memory engine drives, now surviving process restarts because Temporal
// persists workflow history itself rather than relying on an in-process
// goroutine and a Store record.
//
// # Shape
//
// A single Temporal workflow type (runWorkflow) and a single activity type
// (runStepActivity) are registered once. runWorkflow is the deterministic
// loop: execute the activity for the current step, interpret its outcome,
// and either advance, fail, or block on a signal. runStepActivity does the
// actual, non-deterministic work — it is exactly workflow.Activity.Run
// dispatched through the injected workflow.Registry, the same call the
// in-memory engine's processRun makes.
//
// # Why resume is nearly a no-op here
//
// The in-memory engine's Resume walks a workflow.Store for incomplete runs
// and re-triggers each because its execution state lives only in that
// process's memory. Temporal's server already tracks every open workflow
// execution durably; once a worker reconnects to the task queue, Temporal
// itself redelivers pending activity and signal tasks. This engine's Resume
// exists to make the two backends interchangeable behind the same
// interface, not because Temporal needs help finding its own work.
//
// Grounded on the teacher's runtime/agent/engine/temporal package: the
// client/worker construction, OTEL interceptor wiring, and worker
// auto-start controller are carried over near verbatim (that plumbing is
// generic to any Temporal-backed engine); the teacher's generic
// multi-workflow/multi-activity registry is replaced with the one fixed
// workflow+activity pair this pipeline needs.
package temporal
