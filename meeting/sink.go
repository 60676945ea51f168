package meeting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	json "github.com/goccy/go-json"
)

// ResultSink persists the minutes of a completed job. SaveMinutes may be
// called again for the same meeting after a crash and must overwrite.
type ResultSink interface {
	SaveMinutes(ctx context.Context, m Minutes) error
}

// FileSink writes each meeting's minutes as indented JSON to
// <Dir>/<meeting_id>.json.
type FileSink struct {
	Dir string
}

// NewFileSink returns a sink writing under dir, creating it if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create minutes directory: %w", err)
	}
	return &FileSink{Dir: dir}, nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Path returns the file the minutes of meetingID are written to.
func (f *FileSink) Path(meetingID string) string {
	name := unsafeFileChars.ReplaceAllString(meetingID, "_")
	if name == "" || name == "." || name == ".." {
		name = "meeting"
	}
	return filepath.Join(f.Dir, name+".json")
}

// SaveMinutes writes m through a temporary file and a rename so a reader
// never sees a partial document.
func (f *FileSink) SaveMinutes(ctx context.Context, m Minutes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode minutes: %w", err)
	}

	tmp, err := os.CreateTemp(f.Dir, ".minutes-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write minutes: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync minutes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close minutes: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path(m.MeetingID)); err != nil {
		return fmt.Errorf("rename minutes: %w", err)
	}
	return nil
}

// MemorySink keeps minutes in memory, keyed by meeting id.
type MemorySink struct {
	mu      sync.Mutex
	minutes map[string]Minutes
	saves   int
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{minutes: make(map[string]Minutes)}
}

// SaveMinutes implements ResultSink.
func (s *MemorySink) SaveMinutes(ctx context.Context, m Minutes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minutes[m.MeetingID] = m
	s.saves++
	return nil
}

// Get returns the minutes saved for meetingID.
func (s *MemorySink) Get(meetingID string) (Minutes, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.minutes[meetingID]
	return m, ok
}

// Saves counts SaveMinutes calls.
func (s *MemorySink) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
