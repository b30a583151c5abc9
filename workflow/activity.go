package workflow

import (
	"context"

	"github.com/runflow/engine/runstate"
)

// Activity is the adapter contract for a single pipeline step (4.E). Each
// implementation is a pure function of the run's current projection plus
// whatever collaborators it closed over at construction time; the engine
// calls it once per scheduling round and interprets the returned Result.
type Activity interface {
	// Run executes the activity for step against the run's current
	// RunState. Implementations must emit their own node.started/
	// node.completed/status.changed events through the injected event log
	// before returning.
	Run(ctx context.Context, state *runstate.RunState) Result
}

// ActivityFunc adapts a plain function to the Activity interface.
type ActivityFunc func(ctx context.Context, state *runstate.RunState) Result

// Run implements Activity.
func (f ActivityFunc) Run(ctx context.Context, state *runstate.RunState) Result { return f(ctx, state) }

// Registry resolves the Activity implementation for a given step.
type Registry interface {
	Activity(step Step) (Activity, bool)
}

type staticRegistry map[Step]Activity

// NewRegistry builds a Registry from a fixed step→activity table.
func NewRegistry(activities map[Step]Activity) Registry {
	r := make(staticRegistry, len(activities))
	for k, v := range activities {
		r[k] = v
	}
	return r
}

func (r staticRegistry) Activity(step Step) (Activity, bool) {
	a, ok := r[step]
	return a, ok
}
