// Package openai implements collaborator/model.Client on top of the OpenAI
// Chat Completions API via github.com/openai/openai-go, mirroring the
// teacher's narrow ChatClient adapter pattern in features/model/openai.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/runflow/engine/collaborator/model"
	"github.com/runflow/engine/tools"
)

// ChatClient captures the subset of the OpenAI SDK used by this adapter.
// Satisfied by &openaisdk.Client{}.Chat.Completions.
type ChatClient interface {
	New(ctx context.Context, body openaisdk.ChatCompletionNewParams, opts ...option.RequestOption) (*openaisdk.ChatCompletion, error)
}

// Client implements model.Client against OpenAI Chat Completions.
type Client struct {
	chat  ChatClient
	model string
}

// New builds a Client from an OpenAI chat completions client.
func New(chat ChatClient, defaultModel string) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, model: defaultModel}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openaisdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, defaultModel)
}

// Complete renders a chat completion via the configured client.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if len(req.Messages) == 0 {
		return model.Response{}, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openaisdk.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openaisdk.AssistantMessage(m.Content))
		default:
			messages = append(messages, openaisdk.UserMessage(m.Content))
		}
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openaisdk.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		toolParams := make([]openaisdk.ChatCompletionToolParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema, err := json.Marshal(t.InputSchema)
			if err != nil {
				return model.Response{}, fmt.Errorf("openai: marshal tool %s schema: %w", t.Name, err)
			}
			var params map[string]any
			if err := json.Unmarshal(schema, &params); err != nil {
				return model.Response{}, fmt.Errorf("openai: decode tool %s schema: %w", t.Name, err)
			}
			toolParams = append(toolParams, openaisdk.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openaisdk.String(t.Description),
					Parameters:  shared.FunctionParameters(params),
				},
			})
		}
		params.Tools = toolParams
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("openai chat completions: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream is not implemented by this adapter; the respond activity falls
// back to Complete.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func translateResponse(resp *openaisdk.ChatCompletion) model.Response {
	var text, stop string
	var toolCalls []model.ToolCall
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		text = choice.Message.Content
		stop = string(choice.FinishReason)
		for _, call := range choice.Message.ToolCalls {
			toolCalls = append(toolCalls, model.ToolCall{
				Name:    tools.Ident(call.Function.Name),
				Payload: parseToolArguments(call.Function.Arguments),
			})
		}
	}
	return model.Response{
		Text:      text,
		ToolCalls: toolCalls,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		StopReason: stop,
	}
}

func parseToolArguments(raw string) any {
	if raw == "" {
		return nil
	}
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return map[string]any{"raw": raw}
	}
	return payload
}
