package activity

import (
	"context"

	"github.com/runflow/engine/eventlog"
	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/workflow"
)

// NewRetrieve builds the retrieve step adapter. A no-evidence result is a
// valid outcome (4.E): the run proceeds with empty RetrievedChunks, and
// verify treats that as a signal to skip its citation checks.
func NewRetrieve(deps Deps) workflow.Activity {
	return workflow.ActivityFunc(func(ctx context.Context, state *runstate.RunState) workflow.Result {
		emitNodeStarted(ctx, deps.Log, state.RunID, "retrieve")
		appendEvent(ctx, deps.Log, state.RunID, eventlog.TypeRetrievalStarted, map[string]any{"query": state.Message})

		if deps.Retriever == nil {
			appendEvent(ctx, deps.Log, state.RunID, eventlog.TypeRetrievalCompleted, map[string]any{"chunk_ids": []string{}, "sanitized_chunk_ids": []string{}})
			emitNodeCompleted(ctx, deps.Log, state.RunID, "retrieve", "")
			next, _ := workflow.Next(workflow.StepRetrieve)
			return workflow.Ok(next)
		}

		chunks, err := deps.Retriever.Retrieve(ctx, state)
		if err != nil {
			emitNodeCompleted(ctx, deps.Log, state.RunID, "retrieve", err.Error())
			return classifyCollaboratorError(err)
		}

		ids := make([]string, 0, len(chunks))
		for _, c := range chunks {
			ids = append(ids, c.ID)
		}
		appendEvent(ctx, deps.Log, state.RunID, eventlog.TypeRetrievalCompleted, map[string]any{
			"chunk_ids":           ids,
			"sanitized_chunk_ids": ids,
		})
		emitNodeCompleted(ctx, deps.Log, state.RunID, "retrieve", "")

		next, _ := workflow.Next(workflow.StepRetrieve)
		return workflow.Ok(next)
	})
}
