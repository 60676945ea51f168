package store

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// record is the serialized form of a checkpoint.
type record struct {
	JobID     string         `json:"job_id"`
	State     map[string]any `json:"state"`
	Pending   *Interrupt     `json:"pending,omitempty"`
	Decision  map[string]any `json:"decision,omitempty"`
	Stage     string         `json:"stage"`
	Status    string         `json:"status"`
	Step      int            `json:"step"`
	Version   int64          `json:"version"`
	UpdatedAt int64          `json:"updated_at"`
}

// encodedCheckpoint holds the JSON columns of a checkpoint.
type encodedCheckpoint struct {
	state    []byte
	pending  []byte
	decision []byte
}

func encodeColumns(cp Checkpoint) (encodedCheckpoint, error) {
	var out encodedCheckpoint
	state := cp.State
	if state == nil {
		state = map[string]any{}
	}
	var err error
	if out.state, err = json.Marshal(state); err != nil {
		return out, fmt.Errorf("failed to marshal state: %w", err)
	}
	if cp.Pending != nil {
		if out.pending, err = json.Marshal(cp.Pending); err != nil {
			return out, fmt.Errorf("failed to marshal pending interrupt: %w", err)
		}
	}
	if cp.Decision != nil {
		if out.decision, err = json.Marshal(cp.Decision); err != nil {
			return out, fmt.Errorf("failed to marshal decision: %w", err)
		}
	}
	return out, nil
}

func decodeColumns(cp *Checkpoint, state, pending, decision []byte) error {
	cp.State = map[string]any{}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &cp.State); err != nil {
			return fmt.Errorf("failed to unmarshal state: %w", err)
		}
	}
	cp.Pending = nil
	if len(pending) > 0 && string(pending) != "null" {
		var in Interrupt
		if err := json.Unmarshal(pending, &in); err != nil {
			return fmt.Errorf("failed to unmarshal pending interrupt: %w", err)
		}
		cp.Pending = &in
	}
	cp.Decision = nil
	if len(decision) > 0 && string(decision) != "null" {
		if err := json.Unmarshal(decision, &cp.Decision); err != nil {
			return fmt.Errorf("failed to unmarshal decision: %w", err)
		}
	}
	return nil
}

// nullableJSON maps an absent JSON column to SQL NULL.
func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func marshalRecord(cp Checkpoint) ([]byte, error) {
	return json.Marshal(record{
		JobID:     cp.JobID,
		State:     cp.State,
		Pending:   cp.Pending,
		Decision:  cp.Decision,
		Stage:     cp.Stage,
		Status:    cp.Status,
		Step:      cp.Step,
		Version:   cp.Version,
		UpdatedAt: cp.UpdatedAt.UnixNano(),
	})
}

func unmarshalRecord(data []byte) (Checkpoint, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if r.State == nil {
		r.State = map[string]any{}
	}
	return Checkpoint{
		JobID:     r.JobID,
		State:     r.State,
		Pending:   r.Pending,
		Decision:  r.Decision,
		Stage:     r.Stage,
		Status:    r.Status,
		Step:      r.Step,
		Version:   r.Version,
		UpdatedAt: unixNano(r.UpdatedAt),
	}, nil
}

// clone deep-copies a checkpoint through its serialized form so callers
// never share maps with the store.
func clone(cp Checkpoint) (Checkpoint, error) {
	data, err := marshalRecord(cp)
	if err != nil {
		return Checkpoint{}, err
	}
	return unmarshalRecord(data)
}

func unixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

var now = func() time.Time { return time.Now().UTC() }
