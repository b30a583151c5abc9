// Package model provides a provider-agnostic abstraction over chat
// completion APIs (Anthropic, OpenAI, Bedrock) so the respond activity
// adapter invokes models without coupling to a specific SDK.
// Implementations translate these normalized types into provider-specific
// request/response shapes.
//
// Grounded on the teacher's runtime/agent/model package, trimmed to the
// fields the respond adapter actually needs.
package model

import (
	"context"
	"errors"

	"github.com/runflow/engine/tools"
)

type (
	// Client is the contract the respond activity uses to invoke a model.
	Client interface {
		// Complete sends a request and returns the full response.
		Complete(ctx context.Context, req Request) (Response, error)
		// Stream sends a request and returns a Streamer yielding incremental
		// chunks. Providers that do not support streaming return
		// ErrStreamingUnsupported; callers fall back to Complete.
		Stream(ctx context.Context, req Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Recv returns chunks until
	// io.EOF.
	Streamer interface {
		Recv() (Chunk, error)
		Close() error
	}

	// Request captures the normalized parameters for a model invocation.
	Request struct {
		Model       string
		Messages    []Message
		Temperature float64
		MaxTokens   int
		Tools       []ToolDefinition
	}

	// Message is one turn of chat history.
	Message struct {
		Role    string // "system", "user", "assistant", "tool"
		Content string
	}

	// ToolDefinition describes a tool schema offered to the model for
	// function calling.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema any
	}

	// ToolCall is a tool invocation requested by the model. Payload is
	// typically a map[string]any conforming to the matching
	// ToolDefinition.InputSchema.
	ToolCall struct {
		Name    tools.Ident
		Payload any
	}

	// Response wraps the generated content and any requested tool calls.
	Response struct {
		Text       string
		ToolCalls  []ToolCall
		Usage      TokenUsage
		StopReason string
	}

	// Chunk is one streaming event. Type is one of "text", "tool_call",
	// "usage", "stop".
	Chunk struct {
		Type       string
		Text       string
		ToolCall   *ToolCall
		UsageDelta *TokenUsage
		StopReason string
	}

	// TokenUsage records prompt/completion token counts when the provider
	// reports them.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}
)

// ErrStreamingUnsupported indicates the provider adapter does not implement
// streaming for the requested model.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting; the respond activity classifies this as Transient (4.E).
var ErrRateLimited = errors.New("model: rate limited")
