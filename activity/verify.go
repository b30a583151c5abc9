package activity

import (
	"context"
	"strings"

	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/workflow"
)

// NewVerify builds the verify step adapter. When retrieval produced
// evidence, the final output must cite at least one of the retrieved chunk
// IDs and must not cite an unknown one (4.E, error kinds missing_citations /
// invalid_citation in §7).
func NewVerify(deps Deps) workflow.Activity {
	return workflow.ActivityFunc(func(ctx context.Context, state *runstate.RunState) workflow.Result {
		emitNodeStarted(ctx, deps.Log, state.RunID, "verify")

		if deps.Guardrail != nil && state.OutputText != "" {
			verdict, err := deps.Guardrail.Check(ctx, state.OutputText)
			if err != nil {
				emitNodeCompleted(ctx, deps.Log, state.RunID, "verify", err.Error())
				return classifyCollaboratorError(err)
			}
			if verdict.Blocked {
				emitGuardrailTriggered(ctx, deps.Log, state.RunID, verdict, true)
				emitNodeCompleted(ctx, deps.Log, state.RunID, "verify", ErrRefusal.Error())
				return workflow.Fatal(ErrRefusal)
			}
		}

		if len(state.SanitizedChunkIDs) > 0 {
			cited := citedChunkIDs(state.OutputText)
			if len(cited) == 0 {
				emitNodeCompleted(ctx, deps.Log, state.RunID, "verify", ErrMissingCitations.Error())
				return workflow.Fatal(ErrMissingCitations)
			}
			known := make(map[string]bool, len(state.SanitizedChunkIDs))
			for _, id := range state.SanitizedChunkIDs {
				known[id] = true
			}
			for _, id := range cited {
				if !known[id] {
					emitNodeCompleted(ctx, deps.Log, state.RunID, "verify", ErrInvalidCitation.Error())
					return workflow.Fatal(ErrInvalidCitation)
				}
			}
		}

		emitNodeCompleted(ctx, deps.Log, state.RunID, "verify", "")
		next, _ := workflow.Next(workflow.StepVerify)
		return workflow.Ok(next)
	})
}

// citedChunkIDs extracts chunk IDs referenced as [[chunk_id]] in text.
func citedChunkIDs(text string) []string {
	var ids []string
	for {
		start := strings.Index(text, "[[")
		if start == -1 {
			break
		}
		end := strings.Index(text[start:], "]]")
		if end == -1 {
			break
		}
		ids = append(ids, text[start+2:start+end])
		text = text[start+end+2:]
	}
	return ids
}
