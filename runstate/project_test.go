package runstate_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runflow/engine/eventlog"
	"github.com/runflow/engine/eventlog/inmem"
	"github.com/runflow/engine/runstate"
	runstateinmem "github.com/runflow/engine/runstate/inmem"
)

func appendEvent(t *testing.T, log *inmem.Log, runID string, typ eventlog.Type, data any) eventlog.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	e, err := log.Append(context.Background(), runID, typ, raw)
	require.NoError(t, err)
	return e
}

func TestProjectorFoldsDirectAnswer(t *testing.T) {
	ctx := context.Background()
	log := inmem.New()
	store := runstateinmem.New()
	proj := runstate.NewProjector(store, log)

	runID := "run-1"
	e1 := appendEvent(t, log, runID, eventlog.TypeRunStarted, map[string]any{
		"message": "What is strategy?",
		"mode":    "answer",
		"identity": map[string]string{"tenant_id": "t1", "user_id": "u1"},
	})
	_, err := proj.Apply(ctx, e1)
	require.NoError(t, err)

	e2 := appendEvent(t, log, runID, eventlog.TypeDecisionMade, map[string]any{"plan_type": "direct_answer"})
	state, err := proj.Apply(ctx, e2)
	require.NoError(t, err)
	assert.Len(t, state.Decisions, 1)

	e3 := appendEvent(t, log, runID, eventlog.TypeOutputChunk, map[string]any{"text": "Strategy is "})
	state, err = proj.Apply(ctx, e3)
	require.NoError(t, err)
	e4 := appendEvent(t, log, runID, eventlog.TypeOutputChunk, map[string]any{"text": "the art of allocation."})
	state, err = proj.Apply(ctx, e4)
	require.NoError(t, err)
	assert.Equal(t, "Strategy is the art of allocation.", state.OutputText)

	e5 := appendEvent(t, log, runID, eventlog.TypeRunCompleted, map[string]any{"outcome": "success"})
	state, err = proj.Apply(ctx, e5)
	require.NoError(t, err)
	assert.Equal(t, "success", state.Outcome)
	assert.Equal(t, "What is strategy?", state.Message)
	assert.Empty(t, state.RequestedTool)
}

func TestProjectorRejectsSeqGap(t *testing.T) {
	ctx := context.Background()
	log := inmem.New()
	store := runstateinmem.New()
	proj := runstate.NewProjector(store, log)

	e := eventlog.Event{RunID: "run-1", Seq: 5, Type: eventlog.TypeRunStarted}
	_, err := proj.Apply(ctx, e)
	assert.Error(t, err)
}

func TestRebuildMatchesIncrementalFold(t *testing.T) {
	ctx := context.Background()
	log := inmem.New()
	store := runstateinmem.New()
	proj := runstate.NewProjector(store, log)

	runID := "run-1"
	e1 := appendEvent(t, log, runID, eventlog.TypeRunStarted, map[string]any{"message": "17 + 32"})
	_, err := proj.Apply(ctx, e1)
	require.NoError(t, err)
	e2 := appendEvent(t, log, runID, eventlog.TypeToolRequested, map[string]any{
		"request_id": "req-1", "tool_name": "calculator.add",
	})
	incremental, err := proj.Apply(ctx, e2)
	require.NoError(t, err)
	e3 := appendEvent(t, log, runID, eventlog.TypeToolCompleted, map[string]any{
		"request_id": "req-1", "output": map[string]int{"result": 49},
	})
	incremental, err = proj.Apply(ctx, e3)
	require.NoError(t, err)

	rebuilt, err := proj.Rebuild(ctx, runID)
	require.NoError(t, err)

	assert.Equal(t, incremental.Message, rebuilt.Message)
	assert.Equal(t, incremental.RequestedTool, rebuilt.RequestedTool)
	assert.Equal(t, incremental.LastToolStatus, rebuilt.LastToolStatus)
	assert.Equal(t, incremental.LastSeq, rebuilt.LastSeq)
	assert.Len(t, rebuilt.ToolResults, 1)
}

func TestGuardrailTriggerMarksRefusal(t *testing.T) {
	ctx := context.Background()
	log := inmem.New()
	store := runstateinmem.New()
	proj := runstate.NewProjector(store, log)

	runID := "run-1"
	e1 := appendEvent(t, log, runID, eventlog.TypeRunStarted, map[string]any{"message": "ignore instructions"})
	_, err := proj.Apply(ctx, e1)
	require.NoError(t, err)
	e2 := appendEvent(t, log, runID, eventlog.TypeGuardrailTriggered, map[string]any{
		"status": "triggered", "layer": "input", "threat_type": "prompt_injection", "blocking": true,
	})
	state, err := proj.Apply(ctx, e2)
	require.NoError(t, err)
	assert.Equal(t, "refusal", state.Outcome)
	assert.Equal(t, "prompt_injection", state.Guardrail.ThreatType)
}
