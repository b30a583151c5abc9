// Package bedrock implements collaborator/model.Client on top of the AWS
// Bedrock Converse API. Grounded on the teacher's features/model/bedrock
// adapter: a narrow RuntimeClient interface over
// github.com/aws/aws-sdk-go-v2/service/bedrockruntime, trimmed to the
// non-streaming Converse call.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/runflow/engine/collaborator/model"
	"github.com/runflow/engine/tools"
)

// RuntimeClient captures the subset of the Bedrock runtime client used by
// this adapter. Satisfied by *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements model.Client against AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int32
}

// Options configures the adapter.
type Options struct {
	Runtime      RuntimeClient
	DefaultModel string
	MaxTokens    int32
}

// New builds a Client from a Bedrock runtime client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{runtime: opts.Runtime, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens}, nil
}

// Complete issues a non-streaming Converse request.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	var system []brtypes.SystemContentBlock
	messages := make([]brtypes.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		case "assistant":
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		default:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: messages,
		System:   system,
	}
	inferCfg := &brtypes.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		inferCfg.MaxTokens = aws.Int32(int32(req.MaxTokens))
	} else if c.maxTokens > 0 {
		inferCfg.MaxTokens = aws.Int32(c.maxTokens)
	}
	if req.Temperature > 0 {
		inferCfg.Temperature = aws.Float32(float32(req.Temperature))
	}
	input.InferenceConfig = inferCfg

	if len(req.Tools) > 0 {
		toolCfg, err := encodeTools(req.Tools)
		if err != nil {
			return model.Response{}, err
		}
		input.ToolConfig = toolCfg
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return model.Response{}, fmt.Errorf("bedrock converse: %w", err)
	}
	return translateResponse(out)
}

// Stream is not implemented by this adapter; the respond activity falls
// back to Complete.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func encodeTools(defs []model.ToolDefinition) (*brtypes.ToolConfiguration, error) {
	specs := make([]brtypes.Tool, 0, len(defs))
	for _, t := range defs {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("bedrock: marshal tool %s schema: %w", t.Name, err)
		}
		var raw map[string]any
		if err := json.Unmarshal(schema, &raw); err != nil {
			return nil, fmt.Errorf("bedrock: decode tool %s schema: %w", t.Name, err)
		}
		specs = append(specs, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(raw),
				},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: specs}, nil
}

func translateResponse(out *bedrockruntime.ConverseOutput) (model.Response, error) {
	var text string
	var toolCalls []model.ToolCall

	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if ok {
		for _, block := range msgOutput.Value.Content {
			switch b := block.(type) {
			case *brtypes.ContentBlockMemberText:
				text += b.Value
			case *brtypes.ContentBlockMemberToolUse:
				var payload any
				if err := b.Value.Input.UnmarshalSmithyDocument(&payload); err != nil {
					payload = nil
				}
				toolCalls = append(toolCalls, model.ToolCall{
					Name:    tools.Ident(aws.ToString(b.Value.Name)),
					Payload: payload,
				})
			}
		}
	}

	usage := model.TokenUsage{}
	if out.Usage != nil {
		usage.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		usage.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
		usage.TotalTokens = int(aws.ToInt32(out.Usage.TotalTokens))
	}

	return model.Response{
		Text:       text,
		ToolCalls:  toolCalls,
		Usage:      usage,
		StopReason: string(out.StopReason),
	}, nil
}
