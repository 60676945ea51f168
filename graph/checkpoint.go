package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	json "github.com/goccy/go-json"

	"github.com/dshills/meetgraph/graph/store"
)

// JobInfo summarises a job's checkpoint for listings.
type JobInfo struct {
	JobID     string
	Status    Status
	Stage     string
	Step      int
	Suspended bool
	Version   int64
	UpdatedAt time.Time
	Error     string
}

func jobInfo(cp store.Checkpoint) JobInfo {
	st, _ := ParseStatus(cp.Status)
	return JobInfo{
		JobID:     cp.JobID,
		Status:    st,
		Stage:     cp.Stage,
		Step:      cp.Step,
		Suspended: cp.Pending != nil,
		Version:   cp.Version,
		UpdatedAt: cp.UpdatedAt,
		Error:     State(cp.State).String(KeyErrorMessage),
	}
}

// resumable reports whether Recover should continue the job: it is neither
// finished nor parked on an interrupt.
func resumable(cp store.Checkpoint) bool {
	st, err := ParseStatus(cp.Status)
	if err != nil {
		return false
	}
	return !st.Terminal() && cp.Pending == nil
}

// IdempotencyKey derives a stable key for a side effect performed by a job.
//
// The key covers the job, a caller-chosen sequence number and the JSON form
// of payload, so a stage restarted after a crash produces the same key for
// the same effect and a downstream service can drop the duplicate.
// Format: "sha256:" followed by the hex digest.
func IdempotencyKey(jobID string, seq int, payload any) (string, error) {
	h := sha256.New()
	h.Write([]byte(jobID))

	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, uint64(seq))
	h.Write(seqBytes)

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	h.Write(data)

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
