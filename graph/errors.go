// Package graph provides the durable workflow engine that drives a job
// through a fixed graph of stages, checkpointing after every transition.
package graph

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"
)

// ErrAlreadyRunning is returned by Start when the job has a non-terminal
// checkpoint or is executing in this process.
var ErrAlreadyRunning = errors.New("job already running")

// ErrNotSuspended is returned by Resume when the job has no pending interrupt.
var ErrNotSuspended = errors.New("job not suspended")

// ErrJobNotFound is returned when no checkpoint exists for a job.
var ErrJobNotFound = errors.New("job not found")

// ErrMaxRetriesExceeded matches any *MaxRetriesExceededError via errors.Is.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// ErrInvalidRetryPolicy indicates a RetryPolicy with impossible settings.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// Category classifies what kind of failure a stage hit.
type Category string

const (
	CategoryNetwork     Category = "network"
	CategoryExternalAPI Category = "external_api"
	CategoryValidation  Category = "validation"
	CategoryProcessing  Category = "processing"
	CategoryTimeout     Category = "timeout"
	CategoryResource    Category = "resource"
	CategoryAuth        Category = "auth"
)

// Severity orders failures: Warning < Error < Critical.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// StageError is a classified stage failure.
//
// A StageError is never mutated after construction. It flows upward from the
// stage to the StageRunner, which consults the RetryPolicy, and finally to the
// engine, which records Message and Category in the checkpoint when the job
// fails.
type StageError struct {
	Category       Category
	Severity       Severity
	Recoverable    bool
	SuggestedDelay time.Duration
	Context        map[string]string
	Stage          string
	Message        string
	Cause          error
}

func (e *StageError) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString("stage ")
		b.WriteString(e.Stage)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Category))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil && e.Cause.Error() != e.Message {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// WithContext returns a copy of e with the given key/value added to Context.
func (e *StageError) WithContext(key, value string) *StageError {
	c := *e
	c.Context = make(map[string]string, len(e.Context)+1)
	for k, v := range e.Context {
		c.Context[k] = v
	}
	c.Context[key] = value
	return &c
}

// withStage returns e labelled with the stage name, copying only if needed.
func (e *StageError) withStage(stage string) *StageError {
	if e.Stage == stage {
		return e
	}
	c := *e
	c.Stage = stage
	return &c
}

// ContextString renders Context deterministically for logs.
func (e *StageError) ContextString() string {
	if len(e.Context) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Context[k])
	}
	return strings.Join(parts, " ")
}

// NewStageError builds a StageError with explicit classification.
func NewStageError(cat Category, sev Severity, recoverable bool, msg string, cause error) *StageError {
	return &StageError{
		Category:    cat,
		Severity:    sev,
		Recoverable: recoverable,
		Message:     msg,
		Cause:       cause,
	}
}

// NetworkError is a transient connectivity failure.
func NetworkError(msg string, cause error) *StageError {
	e := NewStageError(CategoryNetwork, SeverityError, true, msg, cause)
	e.SuggestedDelay = 5 * time.Second
	return e
}

// TimeoutError is a call that exceeded its deadline.
func TimeoutError(msg string, cause error) *StageError {
	e := NewStageError(CategoryTimeout, SeverityError, true, msg, cause)
	e.SuggestedDelay = 10 * time.Second
	return e
}

// RateLimitError is an external API throttling response. A zero retryAfter
// falls back to 60 seconds.
func RateLimitError(msg string, retryAfter time.Duration, cause error) *StageError {
	if retryAfter <= 0 {
		retryAfter = 60 * time.Second
	}
	e := NewStageError(CategoryExternalAPI, SeverityWarning, true, msg, cause)
	e.SuggestedDelay = retryAfter
	return e
}

// ExternalAPIError is a recoverable failure reported by a remote service.
func ExternalAPIError(msg string, cause error) *StageError {
	return NewStageError(CategoryExternalAPI, SeverityError, true, msg, cause)
}

// ResponseError is a reply from an external service that could not be
// understood, such as malformed JSON. Asking again may yield a usable reply.
func ResponseError(msg string, cause error) *StageError {
	return NewStageError(CategoryValidation, SeverityError, true, msg, cause)
}

// ValidationError is bad input that will not improve on retry.
func ValidationError(msg string, cause error) *StageError {
	return NewStageError(CategoryValidation, SeverityError, false, msg, cause)
}

// AudioError is unusable source media.
func AudioError(msg string, cause error) *StageError {
	return NewStageError(CategoryValidation, SeverityCritical, false, msg, cause)
}

// AuthError is rejected credentials.
func AuthError(msg string, cause error) *StageError {
	return NewStageError(CategoryAuth, SeverityCritical, false, msg, cause)
}

// ResourceError is exhaustion of a local or remote resource.
func ResourceError(msg string, cause error) *StageError {
	return NewStageError(CategoryResource, SeverityError, true, msg, cause)
}

// Classify returns the StageError carried by err. Errors that were never
// classified become recoverable Processing errors, except deadline and
// network errors which get their own categories.
func Classify(err error) *StageError {
	if err == nil {
		return nil
	}
	// Exhaustion wraps its last StageError, so it must be matched first.
	var mre *MaxRetriesExceededError
	if errors.As(err, &mre) {
		return mre.asStageError()
	}
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError("deadline exceeded", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return TimeoutError("network timeout", err)
		}
		return NetworkError("network failure", err)
	}
	return NewStageError(CategoryProcessing, SeverityError, true, err.Error(), err)
}

// MaxRetriesExceededError reports a stage that kept failing until its retry
// budget ran out.
type MaxRetriesExceededError struct {
	Stage    string
	Attempts int
	Last     *StageError
}

func (e *MaxRetriesExceededError) Error() string {
	msg := fmt.Sprintf("stage %s failed after %d attempts", e.Stage, e.Attempts)
	if e.Last != nil {
		msg += ": " + e.Last.Message
	}
	return msg
}

func (e *MaxRetriesExceededError) Unwrap() error {
	if e.Last == nil {
		return nil
	}
	return e.Last
}

func (e *MaxRetriesExceededError) Is(target error) bool {
	return target == ErrMaxRetriesExceeded
}

// asStageError presents exhaustion as a critical, non-recoverable failure
// that keeps the category of the last underlying error.
func (e *MaxRetriesExceededError) asStageError() *StageError {
	cat := CategoryProcessing
	if e.Last != nil {
		cat = e.Last.Category
	}
	return &StageError{
		Category:    cat,
		Severity:    SeverityCritical,
		Recoverable: false,
		Stage:       e.Stage,
		Message:     e.Error(),
		Cause:       e,
	}
}

// EngineError reports misuse of the engine or an infrastructure failure.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}
