// Package runstate materializes the mutable RunState projection from the
// event log: a read-optimized snapshot that callers query in O(1), rebuilt
// deterministically from event history whenever the cache is missing or
// stale.
//
// Grounded on the teacher's run.Snapshot/run.Store pair, generalized from a
// handful of observed fields into the full fold table of 4.B.
package runstate

import (
	"encoding/json"
	"time"
)

type (
	// Identity carries the tenant/user pair a run was started on behalf of.
	Identity struct {
		TenantID string `json:"tenant_id" bson:"tenant_id"`
		UserID   string `json:"user_id" bson:"user_id"`
	}

	// Decision records a single planner/verifier decision surfaced by
	// decision.made events.
	Decision struct {
		Seq  int64           `json:"seq" bson:"seq"`
		Data json.RawMessage `json:"data" bson:"data"`
	}

	// ToolRequestRecord mirrors a tool.requested event into the projection.
	ToolRequestRecord struct {
		RequestID       string          `json:"request_id" bson:"request_id"`
		ToolName        string          `json:"tool_name" bson:"tool_name"`
		ServerID        string          `json:"server_id" bson:"server_id"`
		PermissionScope string          `json:"permission_scope" bson:"permission_scope"`
		Arguments       json.RawMessage `json:"arguments" bson:"arguments"`
		SubmittedAt     time.Time       `json:"submitted_at" bson:"submitted_at"`
	}

	// ToolResultRecord mirrors a tool.completed/failed/denied/server.error
	// event into the projection.
	ToolResultRecord struct {
		RequestID  string          `json:"request_id" bson:"request_id"`
		Status     string          `json:"status" bson:"status"`
		Output     json.RawMessage `json:"output,omitempty" bson:"output,omitempty"`
		Error      string          `json:"error,omitempty" bson:"error,omitempty"`
		DurationMS int64           `json:"duration_ms" bson:"duration_ms"`
	}

	// Guardrail captures the latest guardrail.triggered fields.
	Guardrail struct {
		Status     string `json:"status" bson:"status"`
		Reason     string `json:"reason" bson:"reason"`
		Layer      string `json:"layer" bson:"layer"`
		ThreatType string `json:"threat_type" bson:"threat_type"`
	}

	// RunState is the materialized projection of a run, derivable
	// deterministically from the event log prefix (spec.md §3). The stored
	// JSON is a cache, never the source of truth.
	RunState struct {
		RunID    string   `json:"run_id" bson:"run_id"`
		Message  string   `json:"message" bson:"message"`
		Context  string   `json:"context" bson:"context"`
		Mode     string   `json:"mode" bson:"mode"`
		Identity Identity `json:"identity" bson:"identity"`

		Phase string `json:"phase" bson:"phase"`

		Decisions []Decision `json:"decisions" bson:"decisions"`

		ToolRequests     []ToolRequestRecord `json:"tool_requests" bson:"tool_requests"`
		ToolResults      []ToolResultRecord  `json:"tool_results" bson:"tool_results"`
		RequestedTool    string              `json:"requested_tool,omitempty" bson:"requested_tool,omitempty"`
		LastToolStatus   string              `json:"last_tool_status,omitempty" bson:"last_tool_status,omitempty"`
		ToolDeniedReason string              `json:"tool_denied_reason,omitempty" bson:"tool_denied_reason,omitempty"`

		RetrievedChunks   []string `json:"retrieved_chunks,omitempty" bson:"retrieved_chunks,omitempty"`
		SanitizedChunkIDs []string `json:"sanitized_chunk_ids,omitempty" bson:"sanitized_chunk_ids,omitempty"`

		Guardrail Guardrail `json:"guardrail" bson:"guardrail"`

		OutputText string `json:"output_text" bson:"output_text"`

		Outcome            string `json:"outcome,omitempty" bson:"outcome,omitempty"`
		VerificationReason string `json:"verification_reason,omitempty" bson:"verification_reason,omitempty"`

		CostSpent float64 `json:"cost_spent" bson:"cost_spent"`
		CostLimit float64 `json:"cost_limit" bson:"cost_limit"`
		Degraded  bool    `json:"degraded" bson:"degraded"`

		// LastSeq is the seq of the last event folded into this snapshot. Not
		// part of the public data model but needed for incremental folding
		// and consistent-prefix verification.
		LastSeq int64 `json:"last_seq" bson:"last_seq"`

		UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
	}
)

// New returns an empty RunState for runID, ready to have events folded in
// from seq 1.
func New(runID string) *RunState {
	return &RunState{RunID: runID}
}

// Clone returns a deep-enough copy of s suitable for safe concurrent reads
// while the projector continues folding events on another goroutine.
func (s *RunState) Clone() *RunState {
	if s == nil {
		return nil
	}
	c := *s
	c.Decisions = append([]Decision(nil), s.Decisions...)
	c.ToolRequests = append([]ToolRequestRecord(nil), s.ToolRequests...)
	c.ToolResults = append([]ToolResultRecord(nil), s.ToolResults...)
	c.RetrievedChunks = append([]string(nil), s.RetrievedChunks...)
	c.SanitizedChunkIDs = append([]string(nil), s.SanitizedChunkIDs...)
	return &c
}
