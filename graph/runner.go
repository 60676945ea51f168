package graph

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/dshills/meetgraph/graph/emit"
)

// StageRunner invokes one stage with retries.
//
// Each attempt runs under the stage timeout. A failed attempt is classified
// into a StageError and the RetryPolicy decides whether to sleep and try
// again. Exhausting the policy yields *MaxRetriesExceededError; an error the
// policy refuses to retry is returned unchanged. A suspension is never
// retried. A decision delivered by Resume is handed to every attempt.
//
// The zero value is usable: it sleeps with a timer, uses the shared random
// source for jitter and reports nothing.
type StageRunner struct {
	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep Sleeper

	// Rand supplies retry jitter. Nil uses the shared math/rand source.
	Rand *rand.Rand

	Emitter emit.Emitter
	Metrics *PrometheusMetrics
	Logger  *slog.Logger

	// DefaultTimeout bounds attempts of stages without their own Timeout.
	DefaultTimeout time.Duration

	// Clock stamps emitted events. Nil uses time.Now.
	Clock func() time.Time

	randMu sync.Mutex
}

// Run executes stage against state, retrying according to policy.
func (r *StageRunner) Run(ctx context.Context, stage Stage, state State, policy RetryPolicy) (Delta, error) {
	timeout := stageTimeout(stage, r.DefaultTimeout)

	for attempt := 0; ; attempt++ {
		delta, err := invokeStage(rearmDecision(ctx), stage, state, timeout)
		if err == nil {
			return delta, nil
		}

		var suspend *SuspendError
		if errors.As(err, &suspend) {
			return delta, err
		}

		// The caller is shutting down; the checkpoint still points at this
		// stage so it can be restarted later.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		se := Classify(err).withStage(stage.Name)

		if !policy.ShouldRetry(se, attempt) {
			if se.Recoverable && se.Severity != SeverityCritical {
				return nil, &MaxRetriesExceededError{Stage: stage.Name, Attempts: attempt + 1, Last: se}
			}
			return nil, se
		}

		delay := r.delay(policy, attempt, se)
		r.reportRetry(ctx, stage.Name, attempt, delay, se)

		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (r *StageRunner) delay(policy RetryPolicy, attempt int, se *StageError) time.Duration {
	if r.Rand == nil {
		return policy.DelayFor(attempt, se, nil)
	}
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return policy.DelayFor(attempt, se, r.Rand)
}

func (r *StageRunner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (r *StageRunner) reportRetry(ctx context.Context, stage string, attempt int, delay time.Duration, se *StageError) {
	scope := scopeFrom(ctx)

	if r.Logger != nil {
		r.Logger.Warn("retrying stage",
			"job_id", scope.jobID,
			"stage", stage,
			"attempt", attempt+1,
			"delay", delay,
			"category", se.Category,
			"error", se.Message,
		)
	}

	r.Metrics.IncrementRetries(stage, se.Category)

	if r.Emitter == nil {
		return
	}
	now := time.Now
	if r.Clock != nil {
		now = r.Clock
	}
	meta := map[string]interface{}{
		"attempt":  attempt + 1,
		"delay_ms": delay.Milliseconds(),
		"error":    se.Error(),
		"category": string(se.Category),
	}
	if ctxStr := se.ContextString(); ctxStr != "" {
		meta["context"] = ctxStr
	}
	r.Emitter.Emit(emit.Event{
		JobID: scope.jobID,
		Step:  scope.step,
		Stage: stage,
		Msg:   emit.MsgStageRetry,
		Time:  now(),
		Meta:  meta,
	})
}
