// Package anthropic implements collaborator/model.Client on top of the
// Anthropic Claude Messages API. Grounded on the teacher's
// features/model/anthropic adapter: a narrow MessagesClient interface over
// github.com/anthropics/anthropic-sdk-go so tests can substitute a fake.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/runflow/engine/collaborator/model"
	"github.com/runflow/engine/tools"
)

// MessagesClient captures the subset of the Anthropic SDK used by this
// adapter. Satisfied by &sdk.Client{}.Messages.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements model.Client against Anthropic Claude Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int64
}

// Options configures the adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int64
}

// New builds a Client from an Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Complete issues a non-streaming Messages.New request.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg)
}

// Stream is not implemented by this adapter; the respond activity falls
// back to Complete.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func (c *Client) prepareRequest(req model.Request) (sdk.MessageNewParams, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	var system string
	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "assistant":
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema, err := json.Marshal(t.InputSchema)
			if err != nil {
				return sdk.MessageNewParams{}, fmt.Errorf("anthropic: marshal tool %s schema: %w", t.Name, err)
			}
			var inputSchema sdk.ToolInputSchemaParam
			if err := json.Unmarshal(schema, &inputSchema); err != nil {
				return sdk.MessageNewParams{}, fmt.Errorf("anthropic: decode tool %s schema: %w", t.Name, err)
			}
			tools = append(tools, sdk.ToolUnionParam{
				OfTool: &sdk.ToolParam{
					Name:        t.Name,
					Description: sdk.String(t.Description),
					InputSchema: inputSchema,
				},
			})
		}
		params.Tools = tools
	}
	return params, nil
}

func translateResponse(msg *sdk.Message) (model.Response, error) {
	var text string
	var toolCalls []model.ToolCall
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			text += b.Text
		case sdk.ToolUseBlock:
			var payload any
			if err := json.Unmarshal(b.Input, &payload); err != nil {
				payload = map[string]any{"raw": string(b.Input)}
			}
			toolCalls = append(toolCalls, model.ToolCall{Name: tools.Ident(b.Name), Payload: payload})
		}
	}
	return model.Response{
		Text:      text,
		ToolCalls: toolCalls,
		Usage: model.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		StopReason: string(msg.StopReason),
	}, nil
}
