package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/meetgraph/graph/emit"
	"github.com/dshills/meetgraph/graph/store"
)

// Engine drives jobs through a fixed graph of stages.
//
// The Engine:
//   - Runs one stage at a time per job, retrying it under its RetryPolicy
//   - Merges each stage's Delta into the job State
//   - Persists a checkpoint after every transition, before the next stage
//   - Parks a job as data when a stage calls Suspend, and continues it on Resume
//   - Checks the stored status before every stage so Cancel takes effect
//   - Records terminal failures in the state instead of returning them
//
// A suspended job holds no goroutine; only its checkpoint exists until
// Resume is called, possibly by another process.
//
// Example:
//
//	engine, err := graph.New(store.NewMemStore(), graph.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	_ = engine.Add(graph.Stage{Name: "draft", Run: draft, Route: graph.Goto("review")})
//	_ = engine.Add(graph.Stage{Name: "review", Run: review})
//	_ = engine.StartAt("draft")
//
//	state, err := engine.Start(ctx, "job-1", graph.State{"input": "..."})
type Engine struct {
	mu     sync.RWMutex
	stages map[string]Stage
	entry  string

	store  store.Checkpointer
	runner *StageRunner
	cfg    engineConfig

	activeMu sync.Mutex
	active   map[string]struct{}
}

// New creates an Engine persisting checkpoints to st.
func New(st store.Checkpointer, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, &EngineError{Message: "checkpoint store is required", Code: "MISSING_STORE"}
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	return &Engine{
		stages: make(map[string]Stage),
		store:  st,
		cfg:    cfg,
		active: make(map[string]struct{}),
		runner: &StageRunner{
			Sleep:          cfg.sleep,
			Rand:           cfg.rng,
			Emitter:        cfg.emitter,
			Metrics:        cfg.metrics,
			Logger:         cfg.logger,
			DefaultTimeout: cfg.defaultTimeout,
			Clock:          cfg.clock,
		},
	}, nil
}

// Add registers a stage. Names must be unique and must not be End.
func (e *Engine) Add(stage Stage) error {
	if stage.Name == "" {
		return &EngineError{Message: "stage name cannot be empty"}
	}
	if stage.Name == End {
		return &EngineError{Message: "stage name " + End + " is reserved", Code: "RESERVED_STAGE"}
	}
	if stage.Run == nil {
		return &EngineError{Message: "stage " + stage.Name + " has no body"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.stages[stage.Name]; exists {
		return &EngineError{
			Message: "duplicate stage: " + stage.Name,
			Code:    "DUPLICATE_STAGE",
		}
	}
	e.stages[stage.Name] = stage
	return nil
}

// StartAt sets the entry stage. The stage must already be registered.
func (e *Engine) StartAt(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.stages[name]; !exists {
		return &EngineError{
			Message: "start stage does not exist: " + name,
			Code:    "STAGE_NOT_FOUND",
		}
	}
	e.entry = name
	return nil
}

// Stages returns the registered stage names.
func (e *Engine) Stages() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.stages))
	for name := range e.stages {
		names = append(names, name)
	}
	return names
}

func (e *Engine) stage(name string) (Stage, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.stages[name]
	return s, ok
}

func (e *Engine) entryStage() (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.entry == "" {
		return "", &EngineError{
			Message: "start stage not set (call StartAt before Start)",
			Code:    "NO_START_STAGE",
		}
	}
	return e.entry, nil
}

// Start begins a new job at the entry stage and runs it until it ends or
// suspends.
//
// It returns ErrAlreadyRunning when the job has a non-terminal checkpoint or
// is executing in this process. A job whose previous run is terminal is
// started afresh. Stage failures do not produce an error: the returned
// state carries status "failed" with error_message and error_category.
func (e *Engine) Start(ctx context.Context, jobID string, initial State) (State, error) {
	entry, err := e.entryStage()
	if err != nil {
		return nil, err
	}
	if jobID == "" {
		return nil, &EngineError{Message: "job id cannot be empty", Code: "INVALID_JOB_ID"}
	}
	if !e.acquire(jobID) {
		return nil, ErrAlreadyRunning
	}
	defer e.release(jobID)

	var version int64
	prev, err := e.store.Load(ctx, jobID)
	switch {
	case err == nil:
		if st, _ := ParseStatus(prev.Status); !st.Terminal() {
			return nil, ErrAlreadyRunning
		}
		version = prev.Version
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, storeError("load", err)
	}

	state := initial.Clone()
	delete(state, KeyErrorMessage)
	delete(state, KeyErrorCategory)
	state[KeyStatus] = string(StatusStarted)
	state[KeyStartedAt] = e.cfg.clock().UTC().Format(time.RFC3339)
	state, err = normalize(state)
	if err != nil {
		return nil, &EngineError{Message: "initial state is not serializable: " + err.Error(), Code: "INVALID_STATE", Cause: err}
	}

	cp, err := e.store.Save(ctx, store.Checkpoint{
		JobID:   jobID,
		State:   state,
		Stage:   entry,
		Status:  string(StatusStarted),
		Version: version,
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, ErrAlreadyRunning
	}
	if err != nil {
		return nil, storeError("save", err)
	}

	e.emit(jobID, 0, "", emit.MsgJobStart, map[string]interface{}{"stage": entry})
	return e.run(ctx, cp)
}

// Resume delivers decision to the stage a job is suspended in and continues
// the job.
//
// The pending interrupt is claimed with a versioned write before the stage
// runs, so a decision is applied at most once: a second Resume, whether
// concurrent or after the job moved on, returns ErrNotSuspended. A job that
// is executing in this process is reported as ErrNotSuspended wrapping
// ErrAlreadyRunning.
func (e *Engine) Resume(ctx context.Context, jobID string, decision Decision) (State, error) {
	if !e.acquire(jobID) {
		return nil, fmt.Errorf("%w: %w", ErrNotSuspended, ErrAlreadyRunning)
	}
	defer e.release(jobID)

	cp, err := e.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if cp.Pending == nil {
		return nil, ErrNotSuspended
	}

	normalized, err := normalize(State(decision))
	if err != nil {
		return nil, &EngineError{Message: "decision is not serializable: " + err.Error(), Code: "INVALID_DECISION", Cause: err}
	}

	interruptID := cp.Pending.ID
	cp.Pending = nil
	cp.Decision = normalized
	claimed, err := e.store.Save(ctx, cp)
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, ErrNotSuspended
	}
	if err != nil {
		return nil, storeError("save", err)
	}

	e.emit(jobID, claimed.Step, claimed.Stage, emit.MsgJobResume, map[string]interface{}{
		"interrupt_id": interruptID,
		"action":       Decision(normalized).Action(),
	})
	return e.run(ctx, claimed)
}

// Inspect returns a job's state and pending interrupt without changing
// anything. It returns ErrJobNotFound for unknown jobs.
func (e *Engine) Inspect(ctx context.Context, jobID string) (State, *Interrupt, error) {
	cp, err := e.load(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return State(cp.State), cp.Pending, nil
}

// Info returns checkpoint metadata for a job.
func (e *Engine) Info(ctx context.Context, jobID string) (JobInfo, error) {
	cp, err := e.load(ctx, jobID)
	if err != nil {
		return JobInfo{}, err
	}
	return jobInfo(cp), nil
}

// List returns up to limit jobs, most recently updated first.
func (e *Engine) List(ctx context.Context, limit int) ([]JobInfo, error) {
	cps, err := e.store.List(ctx, limit)
	if err != nil {
		return nil, storeError("list", err)
	}
	out := make([]JobInfo, 0, len(cps))
	for _, cp := range cps {
		out = append(out, jobInfo(cp))
	}
	return out, nil
}

// Cancel marks a job cancelled. A job executing elsewhere stops before its
// next stage; a suspended job drops its pending interrupt. Cancelling a
// cancelled job is a no-op; cancelling a completed or failed job is an error.
func (e *Engine) Cancel(ctx context.Context, jobID, reason string) error {
	const maxAttempts = 5

	for attempt := 0; attempt < maxAttempts; attempt++ {
		cp, err := e.load(ctx, jobID)
		if err != nil {
			return err
		}
		st := State(cp.State).Status()
		if st == StatusCancelled {
			return nil
		}
		if st.Terminal() {
			return &EngineError{Message: "job " + jobID + " already " + string(st), Code: "JOB_TERMINAL"}
		}

		if reason == "" {
			reason = "cancelled"
		}
		cp.State = State(cp.State).Merge(Delta{
			KeyStatus:       string(StatusCancelled),
			KeyErrorMessage: reason,
		})
		cp.Status = string(StatusCancelled)
		cp.Stage = End
		cp.Pending = nil
		cp.Decision = nil

		saved, err := e.store.Save(ctx, cp)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return storeError("save", err)
		}
		e.emit(jobID, saved.Step, "", emit.MsgJobCancelled, map[string]interface{}{"reason": reason})
		e.cfg.metrics.IncrementJobsFinished(StatusCancelled)
		return nil
	}
	return &EngineError{
		Message: "job " + jobID + " kept changing while cancelling",
		Code:    "CONCURRENT_MODIFICATION",
		Cause:   store.ErrVersionConflict,
	}
}

// Recover continues a job from its last checkpoint after a crash. The stage
// recorded in the checkpoint is restarted from scratch, and a claimed but
// unfinished resume decision is delivered again. Terminal and suspended
// jobs are returned unchanged.
func (e *Engine) Recover(ctx context.Context, jobID string) (State, error) {
	if !e.acquire(jobID) {
		return nil, ErrAlreadyRunning
	}
	defer e.release(jobID)

	cp, err := e.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !resumable(cp) {
		return State(cp.State), nil
	}

	e.emit(jobID, cp.Step, cp.Stage, emit.MsgJobRecover, nil)
	return e.run(ctx, cp)
}

// RecoverAll recovers every job that is neither terminal nor suspended and
// returns the ids it continued.
func (e *Engine) RecoverAll(ctx context.Context) ([]string, error) {
	cps, err := e.store.List(ctx, 0)
	if err != nil {
		return nil, storeError("list", err)
	}

	var (
		recovered []string
		errs      []error
	)
	for _, cp := range cps {
		if !resumable(cp) {
			continue
		}
		if _, err := e.Recover(ctx, cp.JobID); err != nil {
			if ctx.Err() != nil {
				return recovered, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("recover %s: %w", cp.JobID, err))
			continue
		}
		recovered = append(recovered, cp.JobID)
	}
	return recovered, errors.Join(errs...)
}

// run is the stage loop shared by Start, Resume and Recover. cp is the
// checkpoint last written for the job; its Stage is the stage to run next.
func (e *Engine) run(ctx context.Context, cp store.Checkpoint) (State, error) {
	state := State(cp.State)
	decision := Decision(cp.Decision)

	for {
		if st := state.Status(); st.Terminal() {
			e.finish(cp.JobID, cp.Step, st, state)
			return state, nil
		}

		if cp.Stage == End {
			return e.fail(ctx, cp, state, "", NewStageError(CategoryProcessing, SeverityError, false,
				fmt.Sprintf("workflow ended in non-terminal status %q", state.Status()), nil))
		}

		if cp.Step >= e.cfg.maxSteps {
			return e.fail(ctx, cp, state, cp.Stage, NewStageError(CategoryResource, SeverityCritical, false,
				fmt.Sprintf("workflow exceeded max steps (%d)", e.cfg.maxSteps), nil))
		}

		// Out-of-band changes, such as Cancel, show up as a newer version.
		latest, err := e.store.Load(ctx, cp.JobID)
		if err != nil {
			return state, storeError("load", err)
		}
		if latest.Version != cp.Version {
			return e.interrupted(latest, state)
		}

		stage, ok := e.stage(cp.Stage)
		if !ok {
			return e.fail(ctx, cp, state, cp.Stage, NewStageError(CategoryProcessing, SeverityError, false,
				"route to unknown stage "+cp.Stage, nil))
		}

		step := cp.Step + 1
		stageCtx := withScope(ctx, jobScope{engine: e, jobID: cp.JobID, stage: stage.Name, step: step})
		stageCtx = withDecision(stageCtx, decision)

		e.emit(cp.JobID, step, stage.Name, emit.MsgStageStart, nil)
		started := e.cfg.clock()
		delta, runErr := e.runner.Run(stageCtx, stage, state, e.cfg.policies.For(stage.Policy))
		elapsed := e.cfg.clock().Sub(started)

		var suspend *SuspendError
		switch {
		case runErr == nil:
		case errors.As(runErr, &suspend):
		case ctx.Err() != nil:
			return state, ctx.Err()
		default:
			se := Classify(runErr).withStage(stage.Name)
			e.cfg.metrics.RecordStageLatency(stage.Name, elapsed, "error")
			e.emit(cp.JobID, step, stage.Name, emit.MsgStageError, map[string]interface{}{
				"error":       se.Error(),
				"category":    string(se.Category),
				"duration_ms": elapsed.Milliseconds(),
			})
			return e.fail(ctx, cp, state, stage.Name, se)
		}

		merged, err := e.apply(state, delta)
		if err != nil {
			return e.fail(ctx, cp, state, stage.Name, ValidationError(err.Error(), err).withStage(stage.Name))
		}

		if suspend != nil {
			payload, err := normalize(State(suspend.Payload))
			if err != nil {
				return e.fail(ctx, cp, state, stage.Name,
					ValidationError("interrupt payload is not serializable", err).withStage(stage.Name))
			}
			pending := newInterrupt(stage.Name, payload, e.cfg.clock())

			next := cp
			next.State = merged
			next.Status = string(merged.Status())
			next.Stage = stage.Name
			next.Step = step
			next.Pending = pending
			next.Decision = nil
			if _, err := e.commit(ctx, next); err != nil {
				return e.commitFailed(err, state)
			}

			e.cfg.metrics.RecordStageLatency(stage.Name, elapsed, "suspended")
			e.cfg.metrics.IncrementSuspensions(stage.Name)
			e.emit(cp.JobID, step, stage.Name, emit.MsgJobSuspended, map[string]interface{}{
				"interrupt_id": pending.ID,
				"status":       string(merged.Status()),
			})
			return merged, nil
		}

		next := cp
		next.State = merged
		next.Status = string(merged.Status())
		next.Stage = stage.next(merged)
		next.Step = step
		next.Pending = nil
		next.Decision = nil
		saved, err := e.commit(ctx, next)
		if err != nil {
			return e.commitFailed(err, state)
		}

		e.cfg.metrics.RecordStageLatency(stage.Name, elapsed, "success")
		e.emit(cp.JobID, step, stage.Name, emit.MsgStageComplete, map[string]interface{}{
			"duration_ms": elapsed.Milliseconds(),
			"status":      string(merged.Status()),
			"next":        saved.Stage,
		})

		cp = saved
		state = merged
		decision = nil
	}
}

// apply validates delta and merges it into state.
func (e *Engine) apply(state State, delta Delta) (State, error) {
	if err := validateDelta(delta); err != nil {
		return nil, err
	}
	return normalize(state.Merge(delta))
}

// fail records a terminal failure of the job and returns the failed state.
func (e *Engine) fail(ctx context.Context, cp store.Checkpoint, state State, stage string, se *StageError) (State, error) {
	failed := state.Merge(Delta{
		KeyStatus:        string(StatusFailed),
		KeyErrorMessage:  se.Error(),
		KeyErrorCategory: string(se.Category),
	})

	next := cp
	next.State = failed
	next.Status = string(StatusFailed)
	next.Stage = End
	next.Pending = nil
	next.Decision = nil
	if stage != "" {
		next.Step = cp.Step + 1
	}
	saved, err := e.commit(ctx, next)
	if err != nil {
		return e.commitFailed(err, state)
	}

	e.cfg.logger.Error("job failed",
		"job_id", cp.JobID,
		"stage", stage,
		"category", se.Category,
		"error", se.Error(),
	)
	e.finish(cp.JobID, saved.Step, StatusFailed, failed)
	return failed, nil
}

// finish reports a job reaching a terminal status.
func (e *Engine) finish(jobID string, step int, st Status, state State) {
	e.cfg.metrics.IncrementJobsFinished(st)
	switch st {
	case StatusFailed:
		e.emit(jobID, step, "", emit.MsgJobFailed, map[string]interface{}{
			"error":    state.String(KeyErrorMessage),
			"category": state.String(KeyErrorCategory),
		})
	case StatusCancelled:
		e.emit(jobID, step, "", emit.MsgJobCancelled, nil)
	case StatusCompleted:
		e.emit(jobID, step, "", emit.MsgJobComplete, nil)
	case StatusStarted, StatusSTTComplete, StatusSummarized, StatusActionsExtracted,
		StatusCritiqueComplete, StatusPendingReview, StatusApproved, StatusRejected:
	}
}

// commit saves cp. On a version conflict it returns *checkpointConflict
// carrying the checkpoint that won.
func (e *Engine) commit(ctx context.Context, cp store.Checkpoint) (store.Checkpoint, error) {
	saved, err := e.store.Save(ctx, cp)
	if err == nil {
		e.emit(cp.JobID, saved.Step, saved.Stage, emit.MsgCheckpoint, map[string]interface{}{
			"version": saved.Version,
			"status":  saved.Status,
		})
		return saved, nil
	}
	if !errors.Is(err, store.ErrVersionConflict) {
		return store.Checkpoint{}, storeError("save", err)
	}

	latest, lerr := e.store.Load(ctx, cp.JobID)
	if lerr != nil {
		return store.Checkpoint{}, storeError("load", lerr)
	}
	return latest, &checkpointConflict{latest: latest}
}

type checkpointConflict struct {
	latest store.Checkpoint
}

func (c *checkpointConflict) Error() string {
	return "checkpoint for job " + c.latest.JobID + " changed concurrently"
}

func (c *checkpointConflict) Unwrap() error {
	return store.ErrVersionConflict
}

// commitFailed maps a failed commit to the values returned to the caller.
func (e *Engine) commitFailed(err error, state State) (State, error) {
	var conflict *checkpointConflict
	if errors.As(err, &conflict) {
		return e.interrupted(conflict.latest, state)
	}
	return state, err
}

// interrupted handles a checkpoint that another writer advanced while this
// process held the job.
func (e *Engine) interrupted(latest store.Checkpoint, state State) (State, error) {
	if State(latest.State).Status() == StatusCancelled {
		e.cfg.logger.Info("job cancelled while running", "job_id", latest.JobID, "stage", latest.Stage)
		return State(latest.State), nil
	}
	return state, &EngineError{
		Message: "job " + latest.JobID + " was modified by another executor",
		Code:    "CONCURRENT_MODIFICATION",
		Cause:   store.ErrVersionConflict,
	}
}

func (e *Engine) load(ctx context.Context, jobID string) (store.Checkpoint, error) {
	cp, err := e.store.Load(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Checkpoint{}, ErrJobNotFound
	}
	if err != nil {
		return store.Checkpoint{}, storeError("load", err)
	}
	return cp, nil
}

func (e *Engine) acquire(jobID string) bool {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	if _, busy := e.active[jobID]; busy {
		return false
	}
	e.active[jobID] = struct{}{}
	e.cfg.metrics.UpdateActiveJobs(len(e.active))
	return true
}

func (e *Engine) release(jobID string) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	delete(e.active, jobID)
	e.cfg.metrics.UpdateActiveJobs(len(e.active))
}

func (e *Engine) emit(jobID string, step int, stage, msg string, meta map[string]interface{}) {
	e.cfg.emitter.Emit(emit.Event{
		JobID: jobID,
		Step:  step,
		Stage: stage,
		Msg:   msg,
		Time:  e.cfg.clock(),
		Meta:  meta,
	})
}

func storeError(op string, err error) error {
	return &EngineError{
		Message: "checkpoint " + op + " failed: " + err.Error(),
		Code:    "STORE_ERROR",
		Cause:   err,
	}
}

type scopeKey struct{}

// jobScope identifies the job and stage a context belongs to.
type jobScope struct {
	engine *Engine
	jobID  string
	stage  string
	step   int
}

func withScope(ctx context.Context, s jobScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func scopeFrom(ctx context.Context) jobScope {
	s, _ := ctx.Value(scopeKey{}).(jobScope)
	return s
}

// JobID returns the id of the job whose stage is running with ctx, or "".
func JobID(ctx context.Context) string {
	return scopeFrom(ctx).jobID
}

// StageName returns the name of the stage running with ctx, or "".
func StageName(ctx context.Context) string {
	return scopeFrom(ctx).stage
}

// Emit reports a stage-defined event through the engine running the stage
// bound to ctx. Outside an engine-run stage it does nothing.
func Emit(ctx context.Context, msg string, meta map[string]interface{}) {
	s := scopeFrom(ctx)
	if s.engine == nil {
		return
	}
	s.engine.emit(s.jobID, s.step, s.stage, msg, meta)
}
