package graph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/meetgraph/graph/store"
)

// Reserved decision keys the engine and routers may read.
const (
	DecisionAction   = "action"
	DecisionFeedback = "feedback"

	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Interrupt is the persisted record of a suspended stage. It is stored in
// the job's checkpoint until Resume claims it.
type Interrupt = store.Interrupt

// Decision is the externally supplied answer to an Interrupt. Its contents
// are opaque apart from the reserved keys "action" and "feedback".
type Decision map[string]any

// Action returns the reserved "action" value.
func (d Decision) Action() string {
	s, _ := d[DecisionAction].(string)
	return s
}

// Feedback returns the reserved "feedback" value.
func (d Decision) Feedback() string {
	s, _ := d[DecisionFeedback].(string)
	return s
}

// Approved reports whether the decision approves the suspended work.
func (d Decision) Approved() bool {
	return d.Action() == ActionApprove
}

// SuspendError halts the current execution of a job. A stage receives it
// from Suspend and must return it, optionally together with a delta that is
// persisted alongside the pending interrupt.
type SuspendError struct {
	Payload map[string]any
}

func (e *SuspendError) Error() string {
	return "stage suspended awaiting external decision"
}

type resumeKey struct{}

// resumeSlot delivers a decision to the first Suspend call of one stage
// attempt.
type resumeSlot struct {
	decision Decision
	used     bool
}

// Suspend pauses the calling stage until an external decision arrives.
//
// On first execution Suspend returns a *SuspendError; the stage returns it
// and the engine persists the payload as the job's pending interrupt. When
// Engine.Resume later re-enters the stage, Suspend returns the decision
// instead, as if it had been waiting all along. No goroutine is parked in
// between: the suspended state is only the checkpoint.
//
// Example:
//
//	decision, err := graph.Suspend(ctx, map[string]any{"minutes": summary})
//	if err != nil {
//	    return graph.Delta{"status": graph.StatusPendingReview}, err
//	}
//	if decision.Approved() {
//	    ...
//	}
func Suspend(ctx context.Context, payload map[string]any) (Decision, error) {
	if slot, ok := ctx.Value(resumeKey{}).(*resumeSlot); ok && !slot.used {
		slot.used = true
		return slot.decision, nil
	}
	return nil, &SuspendError{Payload: payload}
}

// withDecision binds a decision for the next Suspend call in ctx.
func withDecision(ctx context.Context, d Decision) context.Context {
	if d == nil {
		return ctx
	}
	return context.WithValue(ctx, resumeKey{}, &resumeSlot{decision: d})
}

// rearmDecision gives a new attempt of the same stage invocation its own
// slot, so a retried stage sees the decision again.
func rearmDecision(ctx context.Context) context.Context {
	slot, ok := ctx.Value(resumeKey{}).(*resumeSlot)
	if !ok {
		return ctx
	}
	return context.WithValue(ctx, resumeKey{}, &resumeSlot{decision: slot.decision})
}

func newInterrupt(stage string, payload map[string]any, now time.Time) *Interrupt {
	return &Interrupt{
		ID:        uuid.NewString(),
		Stage:     stage,
		Payload:   payload,
		CreatedAt: now.UTC(),
	}
}
