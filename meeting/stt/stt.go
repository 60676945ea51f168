// Package stt turns meeting audio into speaker-labelled transcript segments.
package stt

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Segment is one utterance attributed to a speaker. Times are in seconds
// from the start of the recording.
type Segment struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
}

// Result is a complete transcription.
type Result struct {
	Segments []Segment
	// RawText is every segment's text joined by single spaces.
	RawText string
	// Speakers is the sorted set of speaker labels.
	Speakers []string
	// Duration is the end time of the last segment, in seconds.
	Duration float64
}

// Transcriber converts the audio at audioURL into a Result.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (Result, error)
}

// Error is a failure reported by the speech service.
type Error struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("speech service: status %d", e.StatusCode)
	}
	return fmt.Sprintf("speech service: status %d: %s", e.StatusCode, e.Message)
}

// Unauthorized reports rejected credentials.
func (e *Error) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// RateLimited reports throttling.
func (e *Error) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Temporary reports whether the same request may succeed later.
func (e *Error) Temporary() bool {
	return e.RateLimited() || e.StatusCode == http.StatusRequestTimeout || e.StatusCode >= 500
}

// FormatTranscript renders a Result for a language model prompt: runs of
// consecutive segments by the same speaker are merged into one
// "[speaker]: text" paragraph, paragraphs separated by a blank line.
func FormatTranscript(r Result) string {
	var (
		lines   []string
		speaker string
		texts   []string
	)
	flush := func() {
		if len(texts) > 0 {
			lines = append(lines, "["+speaker+"]: "+strings.Join(texts, " "))
		}
	}
	for i, seg := range r.Segments {
		if i == 0 || seg.Speaker != speaker {
			flush()
			speaker = seg.Speaker
			texts = texts[:0]
		}
		texts = append(texts, seg.Text)
	}
	flush()
	return strings.Join(lines, "\n\n")
}
