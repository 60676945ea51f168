package graph

import "fmt"

// Status is the closed set of values a job's "status" field may hold.
//
// Status is the single source of truth for where a job is. Every delta
// merged by the engine is checked against this set, so a stage cannot
// smuggle an unknown status into a checkpoint.
type Status string

const (
	StatusStarted          Status = "started"
	StatusSTTComplete      Status = "stt_complete"
	StatusSummarized       Status = "summarized"
	StatusActionsExtracted Status = "actions_extracted"
	StatusCritiqueComplete Status = "critique_complete"
	StatusPendingReview    Status = "pending_review"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

var allStatuses = []Status{
	StatusStarted,
	StatusSTTComplete,
	StatusSummarized,
	StatusActionsExtracted,
	StatusCritiqueComplete,
	StatusPendingReview,
	StatusApproved,
	StatusRejected,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// AllStatuses returns every member of the enum in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a raw string into a Status.
// It returns an error for any value outside the enum.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Valid reports whether s is a member of the enum.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Terminal reports whether no further stage may run for a job in this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	case StatusStarted, StatusSTTComplete, StatusSummarized, StatusActionsExtracted,
		StatusCritiqueComplete, StatusPendingReview, StatusApproved, StatusRejected:
		return false
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}
