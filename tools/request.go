package tools

import (
	"encoding/json"
	"time"
)

type (
	// Request is a single tool invocation, submitted by the respond activity
	// adapter when the planner selects a tool (spec.md §3 ToolRequest).
	Request struct {
		RunID           string
		RequestID       string
		ToolName        Ident
		ServerID        string
		PermissionScope string
		Arguments       json.RawMessage
		SubmittedAt     time.Time
	}

	// ResultStatus enumerates the closed set of terminal tool outcomes
	// (spec.md §3 ToolResult).
	ResultStatus string

	// Result is the terminal outcome of a Request.
	Result struct {
		RequestID  string
		Status     ResultStatus
		Output     json.RawMessage
		Error      string
		ErrorKind  string
		RetryHint  *RetryHint
		DurationMS int64
	}

	// RetryHint describes why a tool call failed and how to repair it
	// (SPEC_FULL.md "Supplemented features" — retry hints on tool failure).
	// toolexec does not set it, and tool.failed events carry no retry hint.
	RetryHint struct {
		Reason        string
		MissingFields []string
		Message       string
	}
)

const (
	ResultStatusCompleted   ResultStatus = "completed"
	ResultStatusFailed      ResultStatus = "failed"
	ResultStatusDenied      ResultStatus = "denied"
	ResultStatusServerError ResultStatus = "server_error"
)
