package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// stageTimeout determines the timeout for a stage attempt:
// Stage.Timeout, then the engine default, then 0 (unlimited).
func stageTimeout(stage Stage, defaultTimeout time.Duration) time.Duration {
	if stage.Timeout > 0 {
		return stage.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// invokeStage runs one attempt of a stage body under its timeout. A body
// that overruns the deadline yields a Timeout StageError, and a panic is
// converted into a Processing StageError so it never escapes the engine.
func invokeStage(ctx context.Context, stage Stage, state State, timeout time.Duration) (delta Delta, err error) {
	defer func() {
		if r := recover(); r != nil {
			delta = nil
			err = NewStageError(CategoryProcessing, SeverityError, true,
				fmt.Sprintf("panic in stage %s: %v", stage.Name, r), nil)
		}
	}()

	if timeout == 0 {
		return stage.Run(ctx, state)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	delta, err = stage.Run(attemptCtx, state)

	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		var se *SuspendError
		if errors.As(err, &se) {
			return delta, err
		}
		return nil, TimeoutError(
			fmt.Sprintf("stage %s exceeded timeout of %v", stage.Name, timeout), err)
	}
	return delta, err
}
