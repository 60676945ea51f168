package graph

import (
	"context"
	"time"
)

// End is the route name that terminates a job.
const End = "end"

// StageFunc is the body of a stage. It receives the current state and
// returns a partial update. Errors should be *StageError values; anything
// else is classified as a recoverable Processing error.
type StageFunc func(ctx context.Context, state State) (Delta, error)

// Router picks the next stage from the state a stage produced. Routers must
// be pure: the same state always yields the same name.
type Router func(state State) string

// Stage is one named unit of work in the graph.
type Stage struct {
	// Name identifies the stage in routes, checkpoints and events.
	Name string

	// Run is the stage body.
	Run StageFunc

	// Route selects the next stage. Nil routes to End.
	Route Router

	// Policy names the retry class applied around Run.
	// Empty uses PolicyDefault.
	Policy string

	// Timeout bounds a single attempt. Zero uses the engine default.
	Timeout time.Duration
}

// Goto returns a Router that always selects next.
func Goto(next string) Router {
	return func(State) string { return next }
}

func (s Stage) next(state State) string {
	if s.Route == nil {
		return End
	}
	return s.Route(state)
}

// Result is a stage-local outcome: either a value or the StageError that
// prevented it. Stages use it to make a "degrade to success" branch explicit
// rather than hiding it in a catch-all.
type Result[T any] struct {
	Value T
	Err   *StageError
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps a failure.
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: Classify(err)}
}

// Failed reports whether the result carries an error.
func (r Result[T]) Failed() bool {
	return r.Err != nil
}

// Unwrap returns the value and the error as a Go pair.
func (r Result[T]) Unwrap() (T, error) {
	if r.Err != nil {
		var zero T
		return zero, r.Err
	}
	return r.Value, nil
}

// Degrade returns the value, or fallback(err) when the result failed.
func (r Result[T]) Degrade(fallback func(*StageError) T) T {
	if r.Err != nil {
		return fallback(r.Err)
	}
	return r.Value
}
