package toolexec

import (
	"context"

	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/tools"
)

// Submitter adapts an Executor to collaborator.ToolSubmitter for the
// in-process deployment: Submit loads the run's Identity, hands req to
// Execute on its own goroutine, and returns immediately, since the respond
// activity calls Submit synchronously before suspending on the tool's
// terminal event (4.E).
type Submitter struct {
	Executor    *Executor
	RunStates   runstate.Store
	Environment string
}

// Submit implements collaborator.ToolSubmitter.
func (s Submitter) Submit(ctx context.Context, req tools.Request) error {
	var identity runstate.Identity
	if rs, err := s.RunStates.Load(ctx, req.RunID); err == nil && rs != nil {
		identity = rs.Identity
	}
	go s.Executor.Execute(context.WithoutCancel(ctx), req, identity, s.Environment)
	return nil
}
