// Package collaborator declares the interfaces the activity adapters call
// out to (4.E "Each is a pure function of RunState plus injected
// collaborators: planner, retriever, model streamer, guardrail, tool
// submitter"). Concrete model adapters live in collaborator/model/*;
// planner/retriever/guardrail implementations are domain-specific and
// injected by cmd/runengine at startup.
package collaborator

import (
	"context"
	"encoding/json"

	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/tools"
)

type (
	// Planner decides what the respond step should do next: answer directly,
	// call a tool, or require human approval before proceeding.
	Planner interface {
		Plan(ctx context.Context, state *runstate.RunState) (Plan, error)
	}

	// Plan is the planner's decision for the current turn. Exactly one of
	// ToolCall or Direct should be meaningful; ApprovalReason is set
	// independently when the planned action needs a human sign-off first.
	Plan struct {
		Direct         bool
		ToolCall       *ToolCallIntent
		NeedsApproval  bool
		ApprovalReason string
	}

	// ToolCallIntent is the tool invocation the planner selected.
	ToolCallIntent struct {
		Name            tools.Ident
		ServerID        string
		PermissionScope string
		Arguments       json.RawMessage
	}

	// Retriever fetches evidence chunks relevant to the run's message. An
	// empty result is a valid "no evidence" outcome (4.E: "on no-evidence it
	// proceeds, setting a flag the respond adapter uses to avoid fabricating
	// citations").
	Retriever interface {
		Retrieve(ctx context.Context, state *runstate.RunState) ([]Chunk, error)
	}

	// Chunk is one retrieved piece of evidence.
	Chunk struct {
		ID   string
		Text string
	}

	// Guardrail screens text (user input or model output) for policy
	// violations before it is acted on or surfaced.
	Guardrail interface {
		Check(ctx context.Context, text string) (GuardrailVerdict, error)
	}

	// GuardrailVerdict is the outcome of a Guardrail.Check call.
	GuardrailVerdict struct {
		Blocked    bool
		Reason     string
		Layer      string
		ThreatType string
	}

	// ToolSubmitter dispatches a tool request produced by the respond
	// activity. Concrete implementations wrap toolexec (in-process) or
	// toolqueue (distributed) behind this one call.
	ToolSubmitter interface {
		Submit(ctx context.Context, req tools.Request) error
	}
)
