// Package google adapts Google's Generative AI (Gemini) API to the
// model.ChatModel contract, in the same shape as internal/model/anthropic
// and internal/model/openai.
package google

import (
	"context"
	"fmt"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	intmodel "github.com/zerobranding/orchestrator/internal/model"
	"github.com/zerobranding/orchestrator/internal/orcherr"
)

// ChatModel implements model.ChatModel against Gemini's GenerateContent API.
type ChatModel struct {
	apiKey    string
	modelName string
}

// NewChatModel returns a ChatModel for the given API key and model name
// ("" defaults to gemini-1.5-pro).
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}
	return &ChatModel{apiKey: apiKey, modelName: modelName}
}

func (m *ChatModel) Chat(ctx context.Context, messages []intmodel.Message, tools []intmodel.ToolSpec) (intmodel.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return intmodel.ChatOut{}, err
	}
	if m.apiKey == "" {
		return intmodel.ChatOut{}, orcherr.New(orcherr.Configuration, "google_api_key_missing", "google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(m.apiKey))
	if err != nil {
		return intmodel.ChatOut{}, orcherr.Wrap(orcherr.Provider, "google_client_init_failed", "failed to initialize generative-ai client", err)
	}
	defer client.Close()

	model := client.GenerativeModel(m.modelName)
	systemPrompt, conversation := extractSystemPrompt(messages)
	if systemPrompt != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	}
	if len(tools) > 0 {
		model.Tools = convertTools(tools)
	}

	session := model.StartChat()
	session.History = convertHistory(conversation[:max(0, len(conversation)-1)])

	var last string
	if len(conversation) > 0 {
		last = conversation[len(conversation)-1].Content
	}

	resp, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return intmodel.ChatOut{}, orcherr.Wrap(orcherr.Provider, "google_request_failed", fmt.Sprintf("google request failed for model %s", m.modelName), err)
	}
	return convertResponse(resp), nil
}

func extractSystemPrompt(messages []intmodel.Message) (string, []intmodel.Message) {
	var system string
	var rest []intmodel.Message
	for _, msg := range messages {
		if msg.Role == intmodel.RoleSystem {
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

func convertHistory(messages []intmodel.Message) []*genai.Content {
	out := make([]*genai.Content, len(messages))
	for i, msg := range messages {
		role := "user"
		if msg.Role == intmodel.RoleAssistant {
			role = "model"
		}
		out[i] = &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		}
	}
	return out
}

func convertTools(tools []intmodel.ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Parameters),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertSchema(parameters map[string]interface{}) *genai.Schema {
	if parameters == nil {
		return nil
	}
	schema := &genai.Schema{Type: genai.TypeObject}
	if props, ok := parameters["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name := range props {
			schema.Properties[name] = &genai.Schema{Type: genai.TypeString}
		}
	}
	switch req := parameters["required"].(type) {
	case []string:
		schema.Required = req
	case []interface{}:
		for _, v := range req {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func convertResponse(resp *genai.GenerateContentResponse) intmodel.ChatOut {
	var out intmodel.ChatOut
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, intmodel.ToolCall{
				Name:      p.Name,
				Arguments: p.Args,
			})
		}
	}
	return out
}
