// Package openai adapts OpenAI's Chat Completions API to the
// model.ChatModel contract, in the same shape as internal/model/anthropic.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	intmodel "github.com/zerobranding/orchestrator/internal/model"
	"github.com/zerobranding/orchestrator/internal/orcherr"
)

// ChatModel implements model.ChatModel against OpenAI's Chat Completions API.
type ChatModel struct {
	apiKey    string
	modelName string
}

// NewChatModel returns a ChatModel for the given API key and model name
// ("" defaults to gpt-4o).
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &ChatModel{apiKey: apiKey, modelName: modelName}
}

func (m *ChatModel) Chat(ctx context.Context, messages []intmodel.Message, tools []intmodel.ToolSpec) (intmodel.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return intmodel.ChatOut{}, err
	}
	if m.apiKey == "" {
		return intmodel.ChatOut{}, orcherr.New(orcherr.Configuration, "openai_api_key_missing", "openai API key is required")
	}

	client := openai.NewClient(option.WithAPIKey(m.apiKey))
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return intmodel.ChatOut{}, orcherr.Wrap(orcherr.Provider, "openai_request_failed", fmt.Sprintf("openai request failed for model %s", m.modelName), err)
	}
	return convertResponse(resp), nil
}

func convertMessages(messages []intmodel.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case intmodel.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case intmodel.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		case intmodel.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func convertTools(tools []intmodel.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, tool := range tools {
		out[i] = openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(tool.Parameters),
			},
		}
	}
	return out
}

func convertResponse(resp *openai.ChatCompletion) intmodel.ChatOut {
	var out intmodel.ChatOut
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Text = choice.Message.Content
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, intmodel.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: decodeArguments(call.Function.Arguments),
		})
	}
	return out
}

// decodeArguments parses the raw JSON-encoded argument string the API
// returns for a tool call. Malformed payloads surface as a single "_raw"
// entry rather than dropping the call's arguments entirely.
func decodeArguments(raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]interface{}{"_raw": raw}
	}
	return args
}
