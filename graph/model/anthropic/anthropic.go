// Package anthropic adapts Anthropic's Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	json "github.com/goccy/go-json"

	"github.com/dshills/meetgraph/graph/model"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "claude-sonnet-4-20250514"

const defaultMaxTokens = 4096

// ChatModel implements model.ChatModel for Claude.
//
// System messages are lifted into the request's system prompt since the
// Messages API does not accept them in the conversation. The SDK's own
// retries are disabled; the workflow engine retries failed stages.
//
// Example:
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), "")
//	out, err := m.Chat(ctx, messages, nil)
type ChatModel struct {
	modelName string
	maxTokens int64
	client    messagesClient
}

// messagesClient is the slice of the SDK the adapter uses; tests replace it.
type messagesClient interface {
	createMessage(ctx context.Context, req request) (model.ChatOut, error)
}

type request struct {
	model     string
	maxTokens int64
	system    string
	messages  []model.Message
	tools     []model.ToolSpec
}

type config struct {
	maxTokens int64
	sdkOpts   []option.RequestOption
}

// Option configures a ChatModel.
type Option func(*config)

// WithMaxTokens caps the reply length. The default is 4096.
func WithMaxTokens(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithBaseURL points the client at a different API endpoint, such as a
// proxy or a test server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.sdkOpts = append(c.sdkOpts, option.WithBaseURL(url))
	}
}

// NewChatModel creates a Claude ChatModel. An empty modelName selects
// DefaultModel.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	cfg := config{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(&cfg)
	}

	sdkOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, cfg.sdkOpts...)
	client := sdk.NewClient(sdkOpts...)

	return &ChatModel{
		modelName: modelName,
		maxTokens: cfg.maxTokens,
		client:    &sdkClient{client: &client},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	system, conversation := extractSystemPrompt(messages)
	if len(conversation) == 0 {
		return model.ChatOut{}, errors.New("anthropic: at least one user message is required")
	}

	out, err := m.client.createMessage(ctx, request{
		model:     m.modelName,
		maxTokens: m.maxTokens,
		system:    system,
		messages:  conversation,
		tools:     tools,
	})
	if err != nil {
		return model.ChatOut{}, err
	}
	if out.Model == "" {
		out.Model = m.modelName
	}
	return out, nil
}

// extractSystemPrompt separates system messages from the conversation,
// joining several with blank lines.
func extractSystemPrompt(messages []model.Message) (string, []model.Message) {
	var systemPrompt string
	var conversation []model.Message

	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
			continue
		}
		conversation = append(conversation, msg)
	}
	return systemPrompt, conversation
}

type sdkClient struct {
	client *sdk.Client
}

func (c *sdkClient) createMessage(ctx context.Context, req request) (model.ChatOut, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.model),
		MaxTokens: req.maxTokens,
		Messages:  toMessageParams(req.messages),
	}
	if req.system != "" {
		params.System = []sdk.TextBlockParam{{Text: req.system}}
	}
	if len(req.tools) > 0 {
		params.Tools = toToolParams(req.tools)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	return fromMessage(msg), nil
}

func toMessageParams(messages []model.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := sdk.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(block))
		} else {
			out = append(out, sdk.NewUserMessage(block))
		}
	}
	return out
}

func toToolParams(tools []model.ToolSpec) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := sdk.ToolInputSchemaParam{Properties: t.Schema["properties"]}
		if required, ok := t.Schema["required"].([]string); ok {
			schema.Required = required
		}
		out = append(out, sdk.ToolUnionParam{OfTool: &sdk.ToolParam{
			Name:        t.Name,
			Description: sdk.String(t.Description),
			InputSchema: schema,
		}})
	}
	return out
}

func fromMessage(msg *sdk.Message) model.ChatOut {
	out := model.ChatOut{
		Model: string(msg.Model),
		Usage: model.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			var input map[string]interface{}
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &input)
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: block.Name, Input: input})
		}
	}
	return out
}

// translateError maps SDK status errors to *model.APIError so callers can
// classify them without importing the SDK.
func translateError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	out := &model.APIError{
		Provider:   "anthropic",
		StatusCode: apiErr.StatusCode,
		Message:    http.StatusText(apiErr.StatusCode),
		Err:        err,
	}
	if apiErr.Response != nil {
		out.RetryAfter = model.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"), time.Now())
	}
	return out
}
