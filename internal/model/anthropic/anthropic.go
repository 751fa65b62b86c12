// Package anthropic adapts Anthropic's Claude API to the model.ChatModel
// contract, adapted from the teacher's graph/model/anthropic package.
package anthropic

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/zerobranding/orchestrator/internal/model"
	"github.com/zerobranding/orchestrator/internal/orcherr"
)

// ChatModel implements model.ChatModel against Anthropic's Messages API.
type ChatModel struct {
	apiKey    string
	modelName string
}

// NewChatModel returns a ChatModel for the given API key and model name
// ("" defaults to Claude Sonnet).
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	return &ChatModel{apiKey: apiKey, modelName: modelName}
}

func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	if m.apiKey == "" {
		return model.ChatOut{}, orcherr.New(orcherr.Configuration, "anthropic_api_key_missing", "anthropic API key is required")
	}

	systemPrompt, conversation := extractSystemPrompt(messages)

	client := anthropicsdk.NewClient(option.WithAPIKey(m.apiKey))
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(m.modelName),
		Messages:  convertMessages(conversation),
		MaxTokens: 4096,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, orcherr.Wrap(orcherr.Provider, "anthropic_request_failed", fmt.Sprintf("anthropic request failed for model %s", m.modelName), err)
	}
	return convertResponse(resp), nil
}

func extractSystemPrompt(messages []model.Message) (string, []model.Message) {
	var system string
	var rest []model.Message
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}

func convertMessages(messages []model.Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case model.RoleAssistant:
			out[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content))
		default:
			out[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, tool := range tools {
		var properties any
		var required []string
		if tool.Parameters != nil {
			if props, ok := tool.Parameters["properties"]; ok {
				properties = props
			}
			switch req := tool.Parameters["required"].(type) {
			case []string:
				required = req
			case []interface{}:
				for _, v := range req {
					if s, ok := v.(string); ok {
						required = append(required, s)
					}
				}
			}
		}
		out[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        tool.Name,
				Description: anthropicsdk.String(tool.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{Properties: properties, Required: required},
			},
		}
	}
	return out
}

func convertResponse(resp *anthropicsdk.Message) model.ChatOut {
	var out model.ChatOut
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: toArguments(b.Input),
			})
		}
	}
	return out
}

func toArguments(input interface{}) map[string]interface{} {
	if input == nil {
		return nil
	}
	if m, ok := input.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"_raw": input}
}
