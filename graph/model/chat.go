// Package model defines the language model contract used by stages and
// provides provider adapters in its subpackages.
package model

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ChatModel is a chat-style language model.
//
// Implementations convert Messages to the provider's wire format, call the
// provider and map the reply back to ChatOut. They must honour ctx and must
// not retry on their own: the workflow engine owns retry policy, so a failed
// call is reported once, as an *APIError when the provider answered with an
// HTTP status.
//
// Example:
//
//	m := anthropic.NewChatModel(apiKey, "")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "You summarise meetings."},
//	    {Role: model.RoleUser, Content: transcript},
//	}, nil)
type ChatModel interface {
	// Chat sends messages and returns the reply. tools may be nil.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn of a conversation.
type Message struct {
	// Role is one of the Role* constants.
	Role string

	Content string
}

// Standard conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the model may call. Schema is a JSON Schema
// object describing the tool input.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is a model reply.
type ChatOut struct {
	// Text is the generated text. It may be empty when the model only
	// requested tool calls.
	Text string

	ToolCalls []ToolCall

	// Model is the model that produced the reply, as reported by the
	// provider.
	Model string

	// Usage reports the tokens billed for the call. Zero when the provider
	// does not report usage.
	Usage Usage
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}

// Usage is the token count of one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// APIError is a provider failure that carries an HTTP status.
//
// Callers classify it by StatusCode: 401/403 are credential problems, 429
// is rate limiting (RetryAfter holds the server hint when given), 5xx are
// transient provider faults.
type APIError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= 500
}

// ParseRetryAfter reads a Retry-After header value given in seconds or as
// an HTTP date. It returns zero when the value is absent or unparseable.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
