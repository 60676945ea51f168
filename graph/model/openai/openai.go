// Package openai adapts OpenAI's Chat Completions API to model.ChatModel.
package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/meetgraph/graph/model"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "gpt-4o"

// ChatModel implements model.ChatModel for OpenAI chat models.
//
// With WithJSONMode the API is asked for a JSON object reply, which the
// meeting stages rely on. The SDK's own retries are disabled; the workflow
// engine retries failed stages.
//
// Example:
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini", openai.WithJSONMode())
//	out, err := m.Chat(ctx, messages, nil)
type ChatModel struct {
	modelName string
	jsonMode  bool
	client    completionsClient
}

type completionsClient interface {
	createChatCompletion(ctx context.Context, req request) (model.ChatOut, error)
}

type request struct {
	model    string
	jsonMode bool
	messages []model.Message
	tools    []model.ToolSpec
}

type config struct {
	jsonMode bool
	sdkOpts  []option.RequestOption
}

// Option configures a ChatModel.
type Option func(*config)

// WithJSONMode requests replies that are a single JSON object.
func WithJSONMode() Option {
	return func(c *config) { c.jsonMode = true }
}

// WithBaseURL points the client at a different endpoint, such as an
// OpenAI-compatible gateway or a test server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.sdkOpts = append(c.sdkOpts, option.WithBaseURL(url))
	}
}

// NewChatModel creates an OpenAI ChatModel. An empty modelName selects
// DefaultModel.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	var cfg config
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
		jsonMode:  cfg.jsonMode,
		client:    &sdkClient{client: &client},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}
	if len(messages) == 0 {
		return model.ChatOut{}, errors.New("openai: at least one message is required")
	}

	out, err := m.client.createChatCompletion(ctx, request{
		model:    m.modelName,
		jsonMode: m.jsonMode,
		messages: messages,
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

type sdkClient struct {
	client *sdk.Client
}

func (c *sdkClient) createChatCompletion(ctx context.Context, req request) (model.ChatOut, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.model),
		Messages: toMessageParams(req.messages),
	}
	if req.jsonMode {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: sdk.Ptr(shared.NewResponseFormatJSONObjectParam()),
		}
	}
	if len(req.tools) > 0 {
		params.Tools = toToolParams(req.tools)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	return fromCompletion(completion)
}

func toMessageParams(messages []model.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, sdk.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, sdk.AssistantMessage(msg.Content))
		default:
			out = append(out, sdk.UserMessage(msg.Content))
		}
	}
	return out
}

func toToolParams(tools []model.ToolSpec) []sdk.ChatCompletionToolParam {
	out := make([]sdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, sdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Schema),
			},
		})
	}
	return out
}

func fromCompletion(c *sdk.ChatCompletion) (model.ChatOut, error) {
	if len(c.Choices) == 0 {
		return model.ChatOut{}, &model.APIError{
			Provider:   "openai",
			StatusCode: http.StatusBadGateway,
			Message:    "response contained no choices",
		}
	}
	msg := c.Choices[0].Message
	out := model.ChatOut{
		Text:  msg.Content,
		Model: c.Model,
		Usage: model.Usage{
			InputTokens:  int(c.Usage.PromptTokens),
			OutputTokens: int(c.Usage.CompletionTokens),
		},
	}
	for _, call := range msg.ToolCalls {
		var input map[string]interface{}
		if call.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(call.Function.Arguments), &input)
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: call.Function.Name, Input: input})
	}
	return out, nil
}

func translateError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	out := &model.APIError{
		Provider:   "openai",
		StatusCode: apiErr.StatusCode,
		Message:    http.StatusText(apiErr.StatusCode),
		Err:        err,
	}
	if apiErr.Response != nil {
		out.RetryAfter = model.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"), time.Now())
	}
	return out
}
