package emit

import "sync"

// BufferedEmitter keeps every event in memory, grouped by job.
//
// It backs job history queries in tests and in the CLI's single-process
// runs. Memory grows with event count; call Clear once a job's history is
// no longer needed.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // jobID -> events
}

// HistoryFilter narrows a History query. Zero fields match everything.
type HistoryFilter struct {
	Stage   string
	Msg     string
	MinStep *int
	MaxStep *int
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores the event.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.JobID] = append(b.events[event.JobID], event)
}

// History returns a copy of every event recorded for jobID, oldest first.
func (b *BufferedEmitter) History(jobID string) []Event {
	return b.HistoryWithFilter(jobID, HistoryFilter{})
}

// HistoryWithFilter returns the events for jobID that match filter.
func (b *BufferedEmitter) HistoryWithFilter(jobID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[jobID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

// Messages returns just the Msg of each recorded event for jobID.
func (b *BufferedEmitter) Messages(jobID string) []string {
	events := b.History(jobID)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Msg
	}
	return out
}

func (f HistoryFilter) matches(event Event) bool {
	if f.Stage != "" && event.Stage != f.Stage {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.MinStep != nil && event.Step < *f.MinStep {
		return false
	}
	if f.MaxStep != nil && event.Step > *f.MaxStep {
		return false
	}
	return true
}

// Clear drops the history for jobID, or for every job when jobID is empty.
func (b *BufferedEmitter) Clear(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if jobID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, jobID)
	}
}
