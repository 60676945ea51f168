package graph

import (
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// Reserved state keys owned by the engine.
const (
	KeyStatus        = "status"
	KeyErrorMessage  = "error_message"
	KeyErrorCategory = "error_category"
	KeyStartedAt     = "started_at"
)

// State is the record threaded through every stage of a job.
//
// A State is a mapping of named fields. Stages never replace it; they return
// a Delta that the engine merges with overwrite-by-key semantics. Values are
// kept in their JSON-decoded form (numbers as float64, lists as []any) so
// that a state loaded from a checkpoint is indistinguishable from one that
// never left memory.
type State map[string]any

// Delta is a partial State update returned by a stage.
type Delta map[string]any

// Status returns the job status. A missing or malformed status reads as "".
func (s State) Status() Status {
	raw, ok := s[KeyStatus]
	if !ok {
		return ""
	}
	switch v := raw.(type) {
	case Status:
		return v
	case string:
		st, err := ParseStatus(v)
		if err != nil {
			return ""
		}
		return st
	default:
		return ""
	}
}

// String returns the string value at key, or "" when absent.
func (s State) String(key string) string {
	switch v := s[key].(type) {
	case string:
		return v
	case Status:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the integer value at key. JSON numbers and numeric strings
// are accepted; anything else reads as 0.
func (s State) Int(key string) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Float returns the float value at key, or 0.
func (s State) Float(key string) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Bool returns the boolean value at key, or false.
func (s State) Bool(key string) bool {
	v, ok := s[key].(bool)
	return ok && v
}

// Strings returns the list of strings at key. Non-string elements are skipped.
func (s State) Strings(key string) []string {
	switch v := s[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// Decode unmarshals the value at key into out (a pointer). It is the typed
// read path for structured fields such as lists of records.
func (s State) Decode(key string, out any) error {
	raw, ok := s[key]
	if !ok || raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Merge returns a new State holding s overwritten key by key with delta.
// Neither input is modified.
func (s State) Merge(delta Delta) State {
	out := make(State, len(s)+len(delta))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range delta {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	c, err := normalize(s)
	if err != nil {
		out := make(State, len(s))
		for k, v := range s {
			out[k] = v
		}
		return out
	}
	return c
}

// normalize round-trips the state through JSON so every value takes the
// form it will have after a checkpoint load.
func normalize(s State) (State, error) {
	data, err := json.Marshal(map[string]any(s))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	out := State{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if out == nil {
		out = State{}
	}
	return out, nil
}

// validateDelta checks engine-owned keys in a delta before it is merged.
func validateDelta(d Delta) error {
	raw, ok := d[KeyStatus]
	if !ok {
		return nil
	}
	var s string
	switch v := raw.(type) {
	case Status:
		s = string(v)
	case string:
		s = v
	default:
		return fmt.Errorf("status must be a string, got %T", raw)
	}
	if _, err := ParseStatus(s); err != nil {
		return err
	}
	return nil
}
