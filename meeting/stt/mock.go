package stt

import (
	"context"
	"sync"
)

// MockTranscriber returns a fixed Result. Errs supplies per-call errors in
// order; a nil entry, or running past the end, returns Result.
type MockTranscriber struct {
	Result Result
	Errs   []error

	mu    sync.Mutex
	calls []string
}

// Transcribe implements Transcriber.
func (m *MockTranscriber) Transcribe(ctx context.Context, audioURL string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.calls)
	m.calls = append(m.calls, audioURL)
	if n < len(m.Errs) && m.Errs[n] != nil {
		return Result{}, m.Errs[n]
	}
	return m.Result, nil
}

// Calls returns the audio URLs requested so far.
func (m *MockTranscriber) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
