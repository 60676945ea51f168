package emit

import "time"

// Event messages emitted by the engine.
const (
	MsgJobStart       = "job_start"
	MsgJobResume      = "job_resume"
	MsgJobRecover     = "job_recover"
	MsgStageStart     = "stage_start"
	MsgStageComplete  = "stage_complete"
	MsgStageRetry     = "stage_retry"
	MsgStageError     = "stage_error"
	MsgCheckpoint     = "checkpoint_saved"
	MsgJobSuspended   = "job_suspended"
	MsgJobCancelled   = "job_cancelled"
	MsgJobComplete    = "job_complete"
	MsgJobFailed      = "job_failed"
	MsgLLMUsage       = "llm_usage"
	MsgActionDispatch = "action_dispatch"
)

// Event is an observability record produced while a job executes.
//
// Events describe what the engine did: stage starts and completions, retries,
// checkpoint writes, suspensions and terminal outcomes. They are advisory;
// the checkpoint remains the only source of truth about a job.
type Event struct {
	// JobID identifies the job that emitted this event.
	JobID string

	// Step counts stage executions within the job, starting at 1.
	// Zero for job-level events.
	Step int

	// Stage names the stage involved, empty for job-level events.
	Stage string

	// Msg is one of the Msg* constants.
	Msg string

	// Time is when the event was produced.
	Time time.Time

	// Meta carries event-specific data. Common keys:
	//   - "attempt": retry attempt number
	//   - "delay_ms": backoff before the next attempt
	//   - "duration_ms": stage execution time
	//   - "error": error text
	//   - "category": StageError category
	//   - "status": job status after the event
	Meta map[string]interface{}
}
