package collaborator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runflow/engine/runstate"
)

func TestEchoPlannerAlwaysAnswersDirectly(t *testing.T) {
	plan, err := EchoPlanner{}.Plan(context.Background(), &runstate.RunState{RunID: "run-1"})
	require.NoError(t, err)
	assert.True(t, plan.Direct)
	assert.Nil(t, plan.ToolCall)
	assert.False(t, plan.NeedsApproval)
}

func TestNullRetrieverReportsNoEvidence(t *testing.T) {
	chunks, err := NullRetriever{}.Retrieve(context.Background(), &runstate.RunState{RunID: "run-1"})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestPermissiveGuardrailNeverBlocks(t *testing.T) {
	verdict, err := PermissiveGuardrail{}.Check(context.Background(), "anything at all")
	require.NoError(t, err)
	assert.False(t, verdict.Blocked)
}

func TestDefaultsSatisfyInterfaces(t *testing.T) {
	var _ Planner = EchoPlanner{}
	var _ Retriever = NullRetriever{}
	var _ Guardrail = PermissiveGuardrail{}
}
