package temporal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	logmem "github.com/runflow/engine/eventlog/inmem"
	"github.com/runflow/engine/runstate"
	rsmem "github.com/runflow/engine/runstate/inmem"
	wf "github.com/runflow/engine/workflow"
)

func TestRunStepActivityAdvancesOnOk(t *testing.T) {
	log := logmem.New()
	deps := stepActivityDeps{
		log:       log,
		runStates: rsmem.New(),
		registry: wf.NewRegistry(map[wf.Step]wf.Activity{
			wf.StepReceive: wf.ActivityFunc(func(ctx context.Context, rs *runstate.RunState) wf.Result {
				return wf.Ok(wf.StepPlan)
			}),
		}),
	}

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(deps.run)
	raw, err := env.ExecuteActivity(deps.run, "run-1", wf.StepReceive)
	require.NoError(t, err)

	var outcome stepOutcome
	require.NoError(t, raw.Get(&outcome))
	assert.Equal(t, wf.ResultOk, outcome.Kind)
	assert.Equal(t, wf.StepPlan, outcome.NextStep)

	history, err := log.History(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, "workflow.step.started", string(history[0].Type))
}

func TestRunStepActivityFatalDoesNotErrorTheActivity(t *testing.T) {
	log := logmem.New()
	deps := stepActivityDeps{
		log:       log,
		runStates: rsmem.New(),
		registry: wf.NewRegistry(map[wf.Step]wf.Activity{
			wf.StepPlan: wf.ActivityFunc(func(ctx context.Context, rs *runstate.RunState) wf.Result {
				return wf.Fatal(assertError("bad_plan"))
			}),
		}),
	}

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(deps.run)
	raw, err := env.ExecuteActivity(deps.run, "run-2", wf.StepPlan)
	require.NoError(t, err)

	var outcome stepOutcome
	require.NoError(t, raw.Get(&outcome))
	assert.Equal(t, wf.ResultFatal, outcome.Kind)
	assert.Equal(t, "bad_plan", outcome.ErrMsg)
}

func TestRunStepActivityTransientReturnsRetryableError(t *testing.T) {
	log := logmem.New()
	deps := stepActivityDeps{
		log:       log,
		runStates: rsmem.New(),
		registry: wf.NewRegistry(map[wf.Step]wf.Activity{
			wf.StepRetrieve: wf.ActivityFunc(func(ctx context.Context, rs *runstate.RunState) wf.Result {
				return wf.Transient(assertError("network_failure"))
			}),
		}),
	}

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(deps.run)
	_, err := env.ExecuteActivity(deps.run, "run-3", wf.StepRetrieve)
	assert.Error(t, err)
}

func TestRunStepActivitySkipsWaitWhenAlreadySatisfied(t *testing.T) {
	log := logmem.New()
	_, err := log.Append(context.Background(), "run-4", "tool.completed", nil)
	require.NoError(t, err)

	deps := stepActivityDeps{
		log:       log,
		runStates: rsmem.New(),
		registry: wf.NewRegistry(map[wf.Step]wf.Activity{
			wf.StepRespond: wf.ActivityFunc(func(ctx context.Context, rs *runstate.RunState) wf.Result {
				return wf.WaitForEvents("awaiting_tool_result", "tool.completed", "tool.failed")
			}),
		}),
	}

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(deps.run)
	raw, err := env.ExecuteActivity(deps.run, "run-4", wf.StepRespond)
	require.NoError(t, err)

	var outcome stepOutcome
	require.NoError(t, raw.Get(&outcome))
	assert.Equal(t, wf.ResultOk, outcome.Kind)
	assert.Equal(t, wf.StepRespond, outcome.NextStep)
}

func assertError(msg string) error { return &simpleError{msg} }

type simpleError struct{ msg string }

func (e *simpleError) Error() string { return e.msg }
