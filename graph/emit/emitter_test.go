package emit

import (
	"testing"
)

// mockEmitter is a minimal Emitter implementation for testing fan-out.
type mockEmitter struct {
	events []Event
}

func (m *mockEmitter) Emit(event Event) {
	m.events = append(m.events, event)
}

// TestMultiEmitter verifies events reach every wrapped emitter in order.
func TestMultiEmitter(t *testing.T) {
	t.Run("fans out to all emitters", func(t *testing.T) {
		a, b := &mockEmitter{}, &mockEmitter{}
		multi := NewMultiEmitter(a, b)

		multi.Emit(Event{JobID: "job-1", Msg: MsgJobStart})
		multi.Emit(Event{JobID: "job-1", Msg: MsgJobComplete})

		for name, m := range map[string]*mockEmitter{"a": a, "b": b} {
			if len(m.events) != 2 {
				t.Fatalf("emitter %s got %d events, want 2", name, len(m.events))
			}
			if m.events[0].Msg != MsgJobStart || m.events[1].Msg != MsgJobComplete {
				t.Errorf("emitter %s got wrong order: %v", name, m.events)
			}
		}
	})

	t.Run("nil emitters are skipped", func(t *testing.T) {
		a := &mockEmitter{}
		multi := NewMultiEmitter(nil, a, nil)
		if len(multi) != 1 {
			t.Fatalf("expected 1 emitter, got %d", len(multi))
		}
		multi.Emit(Event{JobID: "job-2"})
		if len(a.events) != 1 {
			t.Errorf("expected event to reach wrapped emitter")
		}
	})

	t.Run("null emitter accepts events", func(t *testing.T) {
		var e Emitter = NewNullEmitter()
		e.Emit(Event{JobID: "job-3", Msg: MsgStageStart})
	})
}
