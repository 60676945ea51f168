// Package google adapts the Gemini API to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dshills/meetgraph/graph/model"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "gemini-1.5-flash"

// ChatModel implements model.ChatModel for Gemini.
//
// System messages become the model's system instruction. A reply blocked by
// the safety filters is reported as *SafetyFilterError.
type ChatModel struct {
	modelName string
	jsonMode  bool
	client    googleClient
}

type googleClient interface {
	generateContent(ctx context.Context, req request) (model.ChatOut, error)
}

type request struct {
	model    string
	jsonMode bool
	system   string
	messages []model.Message
	tools    []model.ToolSpec
}

// Option configures a ChatModel.
type Option func(*ChatModel)

// WithJSONMode asks Gemini for an application/json reply.
func WithJSONMode() Option {
	return func(m *ChatModel) { m.jsonMode = true }
}

// NewChatModel creates a Gemini ChatModel. An empty modelName selects
// DefaultModel.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	m := &ChatModel{
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	var system string
	var conversation []model.Message
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		conversation = append(conversation, msg)
	}

	out, err := m.client.generateContent(ctx, request{
		model:    m.modelName,
		jsonMode: m.jsonMode,
		system:   system,
		messages: conversation,
		tools:    tools,
	})
	if err != nil {
		return model.ChatOut{}, err
	}
	if out.Model == "" {
		out.Model = m.modelName
	}
	return out, nil
}

type defaultClient struct {
	apiKey string
}

func (c *defaultClient) generateContent(ctx context.Context, req request) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, &model.APIError{Provider: "google", StatusCode: 401, Message: "API key is required"}
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("create gemini client: %w", err)
	}
	defer func() { _ = client.Close() }()

	gm := client.GenerativeModel(req.model)
	if req.system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.system)}}
	}
	if req.jsonMode {
		gm.ResponseMIMEType = "application/json"
	}
	if len(req.tools) > 0 {
		gm.Tools = convertTools(req.tools)
	}

	history, last := convertMessages(req.messages)
	if last == nil {
		return model.ChatOut{}, errors.New("google: at least one user message is required")
	}
	session := gm.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	return convertResponse(resp), nil
}

// convertMessages splits the conversation into chat history and the final
// turn that is sent.
func convertMessages(messages []model.Message) ([]*genai.Content, *genai.Content) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	if len(contents) == 0 {
		return nil, nil
	}
	return contents[:len(contents)-1], contents[len(contents)-1]
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchema converts a JSON Schema object into genai.Schema, recursing
// into properties and array items.
func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	typ, _ := schema["type"].(string)
	if typ == "" {
		typ = "object"
	}
	result := &genai.Schema{Type: convertType(typ)}
	if desc, ok := schema["description"].(string); ok {
		result.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		result.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			if propMap, ok := val.(map[string]interface{}); ok {
				result.Properties[key] = convertSchema(propMap)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		result.Items = convertSchema(items)
	}
	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []interface{}:
		for _, v := range required {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func convertType(typ string) genai.Type {
	switch typ {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	out := model.ChatOut{}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
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
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	return out
}

// translateError maps safety blocks to *SafetyFilterError and HTTP
// failures to *model.APIError.
func translateError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return safetyError(blocked)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		out := &model.APIError{
			Provider:   "google",
			StatusCode: gerr.Code,
			Message:    gerr.Message,
			Err:        err,
		}
		if gerr.Header != nil {
			out.RetryAfter = model.ParseRetryAfter(gerr.Header.Get("Retry-After"), time.Now())
		}
		return out
	}
	return err
}

func safetyError(blocked *genai.BlockedError) *SafetyFilterError {
	out := &SafetyFilterError{reason: "SAFETY"}
	if blocked.PromptFeedback != nil {
		out.reason = blocked.PromptFeedback.BlockReason.String()
		for _, r := range blocked.PromptFeedback.SafetyRatings {
			if r.Blocked {
				out.category = r.Category.String()
			}
		}
	}
	if blocked.Candidate != nil {
		out.reason = blocked.Candidate.FinishReason.String()
		for _, r := range blocked.Candidate.SafetyRatings {
			if r.Blocked {
				out.category = r.Category.String()
			}
		}
	}
	return out
}

// SafetyFilterError reports a prompt or reply blocked by Gemini's safety
// filters. Retrying the same request will not help.
type SafetyFilterError struct {
	reason   string
	category string
}

func (e *SafetyFilterError) Error() string {
	if e.category == "" {
		return "content blocked by safety filter: " + e.reason
	}
	return "content blocked by safety filter: " + e.category
}

// Category returns the harm category that triggered the block, if known.
func (e *SafetyFilterError) Category() string {
	return e.category
}

// Reason returns the block or finish reason reported by the API.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}
