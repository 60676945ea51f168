package tool

import (
	"context"
	"sync"
)

// MockTool is a scripted Tool for tests.
//
// Responses are returned in order, the last one repeating. Errs, when
// non-empty, supplies per-call errors in order (nil entries succeed);
// Err fails every call.
type MockTool struct {
	ToolName string

	Responses []map[string]interface{}

	Errs []error
	Err  error

	Calls []MockToolCall

	mu        sync.Mutex
	callIndex int
}

// MockToolCall records a single invocation of Call.
type MockToolCall struct {
	Input map[string]interface{}
}

// Name implements Tool.
func (m *MockTool) Name() string {
	return m.ToolName
}

// Call implements Tool.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.Calls)
	m.Calls = append(m.Calls, MockToolCall{Input: input})

	if m.Err != nil {
		return nil, m.Err
	}
	if n < len(m.Errs) && m.Errs[n] != nil {
		return nil, m.Errs[n]
	}
	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Keys returns the idempotency keys seen, in call order.
func (m *MockTool) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		k, _ := c.Input[InputIdempotencyKey].(string)
		keys = append(keys, k)
	}
	return keys
}

// Reset clears the call history.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of Call invocations so far.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
