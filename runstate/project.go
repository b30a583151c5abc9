package runstate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/runflow/engine/eventlog"
)

// Store persists the latest RunState for a run. Implementations must make
// writes atomic: readers must never observe a partially written record.
type Store interface {
	Load(ctx context.Context, runID string) (*RunState, error)
	Save(ctx context.Context, state *RunState) error
}

// Projector consumes events after persistence and folds them into a run's
// snapshot, write-through persisting on every change so reads stay O(1)
// (4.B). On crash recovery a missing or stale snapshot is rebuilt by
// replaying the event log from eventlog.Store.History.
type Projector struct {
	store Store
	log   eventlog.Store
}

// NewProjector builds a Projector backed by store for snapshot persistence
// and log for crash-recovery replay.
func NewProjector(store Store, log eventlog.Store) *Projector {
	return &Projector{store: store, log: log}
}

// Apply folds a single event into the run's current snapshot and persists
// the result. Events must be applied in strictly increasing seq order; Apply
// rejects an event whose Seq does not immediately follow the snapshot's
// LastSeq so callers notice a dropped or reordered delivery rather than
// silently diverging from the log.
func (p *Projector) Apply(ctx context.Context, e eventlog.Event) (*RunState, error) {
	state, err := p.store.Load(ctx, e.RunID)
	if err != nil {
		return nil, fmt.Errorf("runstate: load %s: %w", e.RunID, err)
	}
	if state == nil {
		state = New(e.RunID)
	}
	if e.Seq != state.LastSeq+1 {
		return nil, fmt.Errorf("runstate: run %s expected seq %d, got %d", e.RunID, state.LastSeq+1, e.Seq)
	}

	Fold(state, e)
	state.LastSeq = e.Seq
	state.UpdatedAt = e.Timestamp

	if err := p.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("runstate: save %s: %w", e.RunID, err)
	}
	return state, nil
}

// Rebuild replays the full event history for runID from log and folds it
// into a fresh snapshot, persisting the result. Used on crash recovery when
// the cached snapshot is missing or suspected stale.
func (p *Projector) Rebuild(ctx context.Context, runID string) (*RunState, error) {
	history, err := p.log.History(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("runstate: replay %s: %w", runID, err)
	}
	state := New(runID)
	for _, e := range history {
		if e.Seq != state.LastSeq+1 {
			return nil, fmt.Errorf("runstate: run %s history has a gap at seq %d", runID, state.LastSeq+1)
		}
		Fold(state, e)
		state.LastSeq = e.Seq
		state.UpdatedAt = e.Timestamp
	}
	if err := p.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("runstate: save rebuilt %s: %w", runID, err)
	}
	return state, nil
}

// Fold applies a single event to state in place per the fixed projection
// table in 4.B. It never fails: unknown event types and malformed data are
// ignored so a forward-compatible event type does not crash the projector.
func Fold(state *RunState, e eventlog.Event) {
	switch e.Type {
	case eventlog.TypeRunStarted:
		var d struct {
			Message  string   `json:"message"`
			Context  string   `json:"context"`
			Mode     string   `json:"mode"`
			Identity Identity `json:"identity"`
		}
		if unmarshal(e.Data, &d) {
			state.Message = d.Message
			state.Context = d.Context
			state.Mode = d.Mode
			state.Identity = d.Identity
		}

	case eventlog.TypeNodeStarted:
		var d struct {
			Name string `json:"name"`
		}
		if unmarshal(e.Data, &d) {
			state.Phase = d.Name
		}

	case eventlog.TypeStatusChanged:
		var d struct {
			Phase string `json:"phase"`
		}
		if unmarshal(e.Data, &d) && d.Phase != "" {
			state.Phase = d.Phase
		}

	case eventlog.TypeDecisionMade:
		state.Decisions = append(state.Decisions, Decision{Seq: e.Seq, Data: e.Data})

	case eventlog.TypeRetrievalCompleted:
		var d struct {
			ChunkIDs          []string `json:"chunk_ids"`
			SanitizedChunkIDs []string `json:"sanitized_chunk_ids"`
		}
		if unmarshal(e.Data, &d) {
			state.RetrievedChunks = d.ChunkIDs
			state.SanitizedChunkIDs = d.SanitizedChunkIDs
		}

	case eventlog.TypeToolRequested:
		var d struct {
			RequestID       string          `json:"request_id"`
			ToolName        string          `json:"tool_name"`
			ServerID        string          `json:"server_id"`
			PermissionScope string          `json:"permission_scope"`
			Arguments       json.RawMessage `json:"arguments"`
		}
		if unmarshal(e.Data, &d) {
			state.RequestedTool = d.ToolName
			state.LastToolStatus = "requested"
			state.ToolRequests = append(state.ToolRequests, ToolRequestRecord{
				RequestID:       d.RequestID,
				ToolName:        d.ToolName,
				ServerID:        d.ServerID,
				PermissionScope: d.PermissionScope,
				Arguments:       d.Arguments,
				SubmittedAt:     e.Timestamp,
			})
		}

	case eventlog.TypeToolCompleted, eventlog.TypeToolFailed, eventlog.TypeToolDenied, eventlog.TypeToolServerErr:
		var d struct {
			RequestID  string          `json:"request_id"`
			Output     json.RawMessage `json:"output,omitempty"`
			Error      string          `json:"error,omitempty"`
			Reason     string          `json:"reason,omitempty"`
			DurationMS int64           `json:"duration_ms"`
		}
		if unmarshal(e.Data, &d) {
			status := toolResultStatus(e.Type)
			state.LastToolStatus = status
			state.ToolResults = append(state.ToolResults, ToolResultRecord{
				RequestID:  d.RequestID,
				Status:     status,
				Output:     d.Output,
				Error:      d.Error,
				DurationMS: d.DurationMS,
			})
			if e.Type == eventlog.TypeToolDenied {
				state.ToolDeniedReason = d.Reason
			}
		}

	case eventlog.TypeGuardrailTriggered:
		var d struct {
			Status     string `json:"status"`
			Reason     string `json:"reason"`
			Layer      string `json:"layer"`
			ThreatType string `json:"threat_type"`
			Blocking   bool   `json:"blocking"`
		}
		if unmarshal(e.Data, &d) {
			state.Guardrail = Guardrail{Status: d.Status, Reason: d.Reason, Layer: d.Layer, ThreatType: d.ThreatType}
			if d.Blocking {
				state.Outcome = "refusal"
			}
		}

	case eventlog.TypeOutputChunk:
		var d struct {
			Text string `json:"text"`
		}
		if unmarshal(e.Data, &d) {
			state.OutputText += d.Text
		}

	case eventlog.TypeRunCompleted, eventlog.TypeRunFailed:
		var d struct {
			Outcome            string  `json:"outcome"`
			VerificationReason string  `json:"verification_reason"`
			CostSpent          float64 `json:"cost_spent"`
			CostLimit          float64 `json:"cost_limit"`
			Degraded           bool    `json:"degraded"`
		}
		if unmarshal(e.Data, &d) {
			if d.Outcome != "" {
				state.Outcome = d.Outcome
			} else if state.Outcome == "" {
				if e.Type == eventlog.TypeRunFailed {
					state.Outcome = "failed"
				} else {
					state.Outcome = "success"
				}
			}
			state.VerificationReason = d.VerificationReason
			state.CostSpent = d.CostSpent
			state.CostLimit = d.CostLimit
			state.Degraded = d.Degraded
		}

	case eventlog.TypeDegradedModeEnter:
		state.Degraded = true
	}
}

func toolResultStatus(t eventlog.Type) string {
	switch t {
	case eventlog.TypeToolCompleted:
		return "completed"
	case eventlog.TypeToolFailed:
		return "failed"
	case eventlog.TypeToolDenied:
		return "denied"
	case eventlog.TypeToolServerErr:
		return "server_error"
	default:
		return ""
	}
}

func unmarshal(data json.RawMessage, v any) bool {
	if len(data) == 0 {
		return false
	}
	return json.Unmarshal(data, v) == nil
}
