package activity

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runflow/engine/collaborator"
	"github.com/runflow/engine/collaborator/model"
	"github.com/runflow/engine/eventlog"
	logmem "github.com/runflow/engine/eventlog/inmem"
	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/tools"
)

// fold replays every event appended so far for runID into a fresh RunState,
// standing in for the projector a real deployment runs as a bus subscriber.
func fold(t *testing.T, log eventlog.Log, runID string) *runstate.RunState {
	t.Helper()
	history, err := log.History(context.Background(), runID)
	require.NoError(t, err)
	state := runstate.New(runID)
	for _, e := range history {
		runstate.Fold(state, e)
		state.LastSeq = e.Seq
	}
	return state
}

type stubPlanner struct {
	plan collaborator.Plan
	err  error
}

func (s stubPlanner) Plan(ctx context.Context, state *runstate.RunState) (collaborator.Plan, error) {
	return s.plan, s.err
}

type stubRetriever struct {
	chunks []collaborator.Chunk
	err    error
}

func (s stubRetriever) Retrieve(ctx context.Context, state *runstate.RunState) ([]collaborator.Chunk, error) {
	return s.chunks, s.err
}

type stubGuardrail struct {
	verdict collaborator.GuardrailVerdict
	err     error
}

func (s stubGuardrail) Check(ctx context.Context, text string) (collaborator.GuardrailVerdict, error) {
	return s.verdict, s.err
}

type stubModel struct {
	resp model.Response
	err  error
}

func (s stubModel) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	return s.resp, s.err
}

func (s stubModel) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func TestDirectResponseHappyPath(t *testing.T) {
	log := logmem.New()
	runID := "run-1"
	log.Append(context.Background(), runID, eventlog.TypeRunStarted, mustJSON(t, map[string]any{"message": "what is 2+2?"}))

	deps := Deps{
		Log:     log,
		Planner: stubPlanner{plan: collaborator.Plan{Direct: true}},
		Model:   stubModel{resp: model.Response{Text: "4"}},
	}

	state := fold(t, log, runID)
	res := NewReceive(deps).Run(context.Background(), state)
	require.Equal(t, "ok", string(res.Kind))
	log.Append(context.Background(), runID, eventlog.TypeNodeCompleted, mustJSON(t, map[string]any{}))

	state = fold(t, log, runID)
	res = NewPlan(deps).Run(context.Background(), state)
	require.Equal(t, "ok", string(res.Kind))

	state = fold(t, log, runID)
	res = NewRetrieve(deps).Run(context.Background(), state)
	require.Equal(t, "ok", string(res.Kind))

	state = fold(t, log, runID)
	res = NewRespond(deps).Run(context.Background(), state)
	require.Equal(t, "ok", string(res.Kind))

	state = fold(t, log, runID)
	assert.Equal(t, "4", state.OutputText)

	res = NewVerify(deps).Run(context.Background(), state)
	require.Equal(t, "ok", string(res.Kind))

	state = fold(t, log, runID)
	res = NewFinalize(deps).Run(context.Background(), state)
	require.Equal(t, "ok", string(res.Kind))

	state = fold(t, log, runID)
	assert.Equal(t, "success", state.Outcome)
}

func TestReceiveBlockedByGuardrail(t *testing.T) {
	log := logmem.New()
	runID := "run-2"
	deps := Deps{
		Log:       log,
		Guardrail: stubGuardrail{verdict: collaborator.GuardrailVerdict{Blocked: true, Reason: "bad input"}},
	}
	state := runstate.New(runID)
	res := NewReceive(deps).Run(context.Background(), state)
	assert.Equal(t, "fatal", string(res.Kind))
	assert.ErrorIs(t, res.Err, ErrRefusal)
}

func TestRespondSubmitsToolCallAndWaits(t *testing.T) {
	log := logmem.New()
	runID := "run-3"
	submitted := make(chan tools.Request, 1)
	deps := Deps{
		Log: log,
		ToolSubmitter: submitterFunc(func(ctx context.Context, req tools.Request) error {
			submitted <- req
			return nil
		}),
	}

	state := runstate.New(runID)
	state.Decisions = []runstate.Decision{{
		Seq: 1,
		Data: mustJSON(t, planDecision{
			ToolCall: &collaborator.ToolCallIntent{
				Name:            "github.search_issues",
				ServerID:        "github",
				PermissionScope: "github.read",
				Arguments:       json.RawMessage(`{"q":"bug"}`),
			},
		}),
	}}

	res := NewRespond(deps).Run(context.Background(), state)
	require.Equal(t, "wait_for_events", string(res.Kind))
	require.Contains(t, res.WaitEventTypes, string(eventlog.TypeToolCompleted))

	select {
	case req := <-submitted:
		assert.Equal(t, tools.Ident("github.search_issues"), req.ToolName)
	default:
		t.Fatal("expected tool submission")
	}
}

func TestRespondEmitsToolDiscoveredBeforeRequesting(t *testing.T) {
	log := logmem.New()
	runID := "run-discover"
	registry := tools.NewRegistry(&tools.Spec{
		Name:            "calculator",
		ServerID:        "calc",
		PermissionScope: "calculator.use",
	})
	deps := Deps{
		Log:      log,
		Registry: registry,
		ToolSubmitter: submitterFunc(func(ctx context.Context, req tools.Request) error {
			return nil
		}),
	}

	state := runstate.New(runID)
	state.Decisions = []runstate.Decision{{
		Seq: 1,
		Data: mustJSON(t, planDecision{
			ToolCall: &collaborator.ToolCallIntent{Name: "calculator", ServerID: "calc", PermissionScope: "calculator.use"},
		}),
	}}

	res := NewRespond(deps).Run(context.Background(), state)
	require.Equal(t, "wait_for_events", string(res.Kind))

	history, err := log.History(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, eventlog.TypeToolDiscovered, history[2].Type)
	assert.Equal(t, eventlog.TypeToolRequested, history[3].Type)
}

func TestRespondResumesFromRecordedToolResultInsteadOfResubmitting(t *testing.T) {
	log := logmem.New()
	runID := "run-resume"
	submitCount := 0
	deps := Deps{
		Log: log,
		ToolSubmitter: submitterFunc(func(ctx context.Context, req tools.Request) error {
			submitCount++
			return nil
		}),
	}

	decision := planDecision{
		ToolCall: &collaborator.ToolCallIntent{
			Name:            "calculator",
			ServerID:        "calc",
			PermissionScope: "calculator.use",
			Arguments:       json.RawMessage(`{"op":"add","a":17,"b":32}`),
		},
	}
	log.Append(context.Background(), runID, eventlog.TypeDecisionMade, mustJSON(t, decision))
	state := fold(t, log, runID)

	first := NewRespond(deps).Run(context.Background(), state)
	require.Equal(t, "wait_for_events", string(first.Kind))
	assert.Equal(t, 1, submitCount)

	history, err := log.History(context.Background(), runID)
	require.NoError(t, err)
	var requestID string
	for _, ev := range history {
		if ev.Type == eventlog.TypeToolRequested {
			var d struct {
				RequestID string `json:"request_id"`
			}
			require.NoError(t, json.Unmarshal(ev.Data, &d))
			requestID = d.RequestID
		}
	}
	require.NotEmpty(t, requestID)

	log.Append(context.Background(), runID, eventlog.TypeToolCompleted, mustJSON(t, map[string]any{
		"request_id": requestID,
		"output":     map[string]any{"result": 49},
	}))

	state = fold(t, log, runID)
	second := NewRespond(deps).Run(context.Background(), state)
	require.Equal(t, "ok", string(second.Kind))
	assert.Equal(t, 1, submitCount, "resumed invocation must not resubmit the tool call")

	state = fold(t, log, runID)
	assert.Contains(t, state.OutputText, "49")
}

func TestVerifyRequiresCitationWhenEvidenceExists(t *testing.T) {
	log := logmem.New()
	deps := Deps{Log: log}
	state := runstate.New("run-4")
	state.SanitizedChunkIDs = []string{"chunk-1"}
	state.OutputText = "the answer is 4, no citation here"

	res := NewVerify(deps).Run(context.Background(), state)
	assert.Equal(t, "fatal", string(res.Kind))
	assert.ErrorIs(t, res.Err, ErrMissingCitations)
}

func TestVerifyPassesWithValidCitation(t *testing.T) {
	log := logmem.New()
	deps := Deps{Log: log}
	state := runstate.New("run-5")
	state.SanitizedChunkIDs = []string{"chunk-1"}
	state.OutputText = "the answer is 4 [[chunk-1]]"

	res := NewVerify(deps).Run(context.Background(), state)
	assert.Equal(t, "ok", string(res.Kind))
}

func TestMaybeApproveWaitsThenResumesOnApproval(t *testing.T) {
	log := logmem.New()
	runID := "run-6"
	deps := Deps{Log: log}
	state := runstate.New(runID)

	res := NewMaybeApprove(deps).Run(context.Background(), state)
	assert.Equal(t, "wait_for_approval", string(res.Kind))

	log.Append(context.Background(), runID, eventlog.TypeWorkflowApprovalRecorded, mustJSON(t, approvalDecision{Decision: "approved"}))
	res = NewMaybeApprove(deps).Run(context.Background(), state)
	assert.Equal(t, "ok", string(res.Kind))
}

func TestMaybeApproveRejectedIsFatal(t *testing.T) {
	log := logmem.New()
	runID := "run-7"
	deps := Deps{Log: log}
	state := runstate.New(runID)

	log.Append(context.Background(), runID, eventlog.TypeWorkflowApprovalRecorded, mustJSON(t, approvalDecision{Decision: "rejected"}))
	res := NewMaybeApprove(deps).Run(context.Background(), state)
	assert.Equal(t, "fatal", string(res.Kind))
	assert.ErrorIs(t, res.Err, ErrRejectedByUser)
}

type submitterFunc func(ctx context.Context, req tools.Request) error

func (f submitterFunc) Submit(ctx context.Context, req tools.Request) error { return f(ctx, req) }

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
