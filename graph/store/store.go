// Package store provides durable checkpoint storage for workflow jobs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no checkpoint exists for a job.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned by Save when the stored checkpoint is not at
// the version the caller read. Another writer advanced the job first.
var ErrVersionConflict = errors.New("checkpoint version conflict")

// ErrClosed is returned by any operation on a closed store.
var ErrClosed = errors.New("store is closed")

// Interrupt is a pending request for an external decision.
type Interrupt struct {
	ID        string         `json:"id"`
	Stage     string         `json:"stage"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Checkpoint is the latest durable snapshot of one job.
//
// There is exactly one checkpoint per job. It is overwritten on every
// transition, guarded by Version: Save only succeeds when the caller's
// Version equals the stored one.
type Checkpoint struct {
	// JobID is the stable external identifier of the job.
	JobID string

	// State is the job's workflow state.
	State map[string]any

	// Pending is set while the job is suspended.
	Pending *Interrupt

	// Decision holds a resume decision that has been claimed but whose stage
	// has not completed yet.
	Decision map[string]any

	// Stage is the stage to run next, or the suspended stage.
	Stage string

	// Status mirrors State["status"] for queries.
	Status string

	// Step counts stage executions so far.
	Step int

	// Version is 0 for a checkpoint that has never been saved.
	Version int64

	// UpdatedAt is set by the store on Save.
	UpdatedAt time.Time
}

// Checkpointer persists checkpoints keyed by job id.
//
// Implementations must be durable before Save returns and must apply Save
// atomically: a concurrent reader sees either the old or the new checkpoint,
// never a mix.
type Checkpointer interface {
	// Load returns the checkpoint for jobID or ErrNotFound.
	Load(ctx context.Context, jobID string) (Checkpoint, error)

	// Save writes cp if the stored version equals cp.Version (0 means the
	// job must not exist yet). It returns the stored checkpoint, whose
	// Version is cp.Version+1, or ErrVersionConflict.
	Save(ctx context.Context, cp Checkpoint) (Checkpoint, error)

	// Delete removes the checkpoint for jobID. Deleting a missing job is
	// not an error.
	Delete(ctx context.Context, jobID string) error

	// List returns up to limit checkpoints, most recently updated first.
	// A limit <= 0 returns all of them.
	List(ctx context.Context, limit int) ([]Checkpoint, error)

	// Close releases resources. It is safe to call more than once.
	Close() error
}
