package emit

import (
	"sync"
	"testing"
)

// TestBufferedEmitter_History verifies events are grouped per job and
// returned in emission order.
func TestBufferedEmitter_History(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{JobID: "a", Step: 1, Stage: "transcribe", Msg: MsgStageStart})
	b.Emit(Event{JobID: "b", Step: 1, Stage: "transcribe", Msg: MsgStageStart})
	b.Emit(Event{JobID: "a", Step: 1, Stage: "transcribe", Msg: MsgStageComplete})

	got := b.Messages("a")
	want := []string{MsgStageStart, MsgStageComplete}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}

	if h := b.History("missing"); h == nil || len(h) != 0 {
		t.Errorf("expected empty non-nil history, got %v", h)
	}
}

// TestBufferedEmitter_Filter verifies stage, message and step filters.
func TestBufferedEmitter_Filter(t *testing.T) {
	b := NewBufferedEmitter()
	for step, stage := range []string{"transcribe", "summarize", "extract_actions", "critique"} {
		b.Emit(Event{JobID: "j", Step: step + 1, Stage: stage, Msg: MsgStageStart})
		b.Emit(Event{JobID: "j", Step: step + 1, Stage: stage, Msg: MsgStageComplete})
	}

	if got := b.HistoryWithFilter("j", HistoryFilter{Stage: "critique"}); len(got) != 2 {
		t.Errorf("stage filter: got %d events, want 2", len(got))
	}
	if got := b.HistoryWithFilter("j", HistoryFilter{Msg: MsgStageComplete}); len(got) != 4 {
		t.Errorf("msg filter: got %d events, want 4", len(got))
	}
	lo, hi := 2, 3
	if got := b.HistoryWithFilter("j", HistoryFilter{MinStep: &lo, MaxStep: &hi}); len(got) != 4 {
		t.Errorf("step filter: got %d events, want 4", len(got))
	}
}

// TestBufferedEmitter_Clear verifies per-job and global clearing.
func TestBufferedEmitter_Clear(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{JobID: "a"})
	b.Emit(Event{JobID: "b"})

	b.Clear("a")
	if len(b.History("a")) != 0 || len(b.History("b")) != 1 {
		t.Fatal("Clear(a) should only drop job a")
	}
	b.Clear("")
	if len(b.History("b")) != 0 {
		t.Fatal("Clear(\"\") should drop everything")
	}
}

// TestBufferedEmitter_Concurrent verifies Emit is safe from many goroutines.
func TestBufferedEmitter_Concurrent(t *testing.T) {
	b := NewBufferedEmitter()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Emit(Event{JobID: "shared", Msg: MsgCheckpoint})
		}()
	}
	wg.Wait()
	if n := len(b.History("shared")); n != 50 {
		t.Errorf("got %d events, want 50", n)
	}
}
