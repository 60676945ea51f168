package meeting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/dshills/meetgraph/graph"
	"github.com/dshills/meetgraph/graph/model"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractJSON finds the JSON object in a model reply. A fenced block wins;
// otherwise the text from the first '{' to the last '}' is used. It returns
// "" when the reply holds no object.
func extractJSON(text string) string {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// decodeReply unmarshals the JSON object in text into out. A reply without
// a parseable object is a recoverable Validation error, so the stage asks
// the model again.
func decodeReply(text string, out any) error {
	raw := extractJSON(text)
	if raw == "" {
		return graph.ResponseError("model reply contains no JSON object", nil)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return graph.ResponseError("malformed JSON in model reply", err)
	}
	return nil
}

// complete sends one system and user message pair to the model, records the
// token usage and returns the reply along with the job's updated usage total.
func (p *Pipeline) complete(ctx context.Context, state graph.State, system, prompt string) (string, LLMUsage, error) {
	out, err := p.LLM.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: system},
		{Role: model.RoleUser, Content: prompt},
	}, nil)
	if err != nil {
		return "", LLMUsage{}, classifyLLMError(ctx, err)
	}

	name := out.Model
	if name == "" {
		name = p.ModelName
	}
	graph.RecordUsage(ctx, name, out.Usage.InputTokens, out.Usage.OutputTokens)

	usage := llmUsage(state)
	usage.Calls++
	usage.InputTokens += out.Usage.InputTokens
	usage.OutputTokens += out.Usage.OutputTokens
	return out.Text, usage, nil
}

// classifyLLMError maps a ChatModel failure onto the error taxonomy.
func classifyLLMError(ctx context.Context, err error) error {
	var se *graph.StageError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return graph.TimeoutError("language model call timed out", err)
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return err
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return graph.Classify(err)
	}
	switch code := apiErr.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return graph.AuthError("language model rejected credentials", err)
	case code == http.StatusTooManyRequests:
		return graph.RateLimitError("language model rate limited", apiErr.RetryAfter, err)
	case apiErr.Temporary():
		return graph.ExternalAPIError(fmt.Sprintf("language model unavailable (status %d)", code), err)
	default:
		return graph.ValidationError(fmt.Sprintf("language model rejected request (status %d)", code), err)
	}
}
