package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// WebhookTool delivers an action as a JSON POST to a fixed endpoint.
//
// The request body is the input without the reserved idempotency key, which
// travels in the Idempotency-Key header instead. A JSON response body is
// decoded into the result; any other body is returned under "body". Non-2xx
// responses yield *StatusError.
type WebhookTool struct {
	name     string
	endpoint string
	token    string
	client   *http.Client
}

// WebhookOption configures a WebhookTool.
type WebhookOption func(*WebhookTool)

// WithBearerToken authenticates requests with an Authorization header.
func WithBearerToken(token string) WebhookOption {
	return func(w *WebhookTool) { w.token = token }
}

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookTool) {
		if c != nil {
			w.client = c
		}
	}
}

// NewWebhookTool creates a tool named name that posts to endpoint.
func NewWebhookTool(name, endpoint string, opts ...WebhookOption) *WebhookTool {
	w := &WebhookTool{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name implements Tool.
func (w *WebhookTool) Name() string {
	return w.name
}

// Call implements Tool.
func (w *WebhookTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	payload := make(map[string]interface{}, len(input))
	var key string
	for k, v := range input {
		if k == InputIdempotencyKey {
			key, _ = v.(string)
			continue
		}
		payload[k] = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", w.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", w.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", w.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", w.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Tool:       w.name,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	result := map[string]interface{}{}
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			result = map[string]interface{}{"body": string(respBody)}
		}
	}
	result["status_code"] = resp.StatusCode
	return result, nil
}

// StatusError is a non-2xx reply from a tool endpoint.
type StatusError struct {
	Tool       string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Tool, e.StatusCode)
}

// Temporary reports whether the same call may succeed later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= 500
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
