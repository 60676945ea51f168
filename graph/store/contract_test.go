package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dshills/meetgraph/graph/store"
)

// runCheckpointerContract exercises the behaviour every Checkpointer must
// share, whatever its backend.
func runCheckpointerContract(t *testing.T, newStore func(t *testing.T) store.Checkpointer) {
	t.Helper()
	ctx := context.Background()

	t.Run("load missing returns ErrNotFound", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Load(ctx, "missing")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("save and load round trip", func(t *testing.T) {
		st := newStore(t)
		cp := store.Checkpoint{
			JobID:  "meeting-1",
			Stage:  "summarize",
			Status: "stt_complete",
			Step:   1,
			State: map[string]any{
				"status":      "stt_complete",
				"raw_text":    "[A]: hello",
				"retry_count": 2,
				"speakers":    []any{"A", "B"},
				"segments":    []any{map[string]any{"speaker": "A", "start_time": 1.5}},
			},
		}
		saved, err := st.Save(ctx, cp)
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if saved.Version != 1 {
			t.Errorf("version = %d, want 1", saved.Version)
		}
		if saved.UpdatedAt.IsZero() {
			t.Error("UpdatedAt not set")
		}

		got, err := st.Load(ctx, "meeting-1")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.Stage != "summarize" || got.Status != "stt_complete" || got.Step != 1 || got.Version != 1 {
			t.Errorf("unexpected metadata: %+v", got)
		}
		if got.State["raw_text"] != "[A]: hello" {
			t.Errorf("raw_text = %v", got.State["raw_text"])
		}
		if got.State["retry_count"] != float64(2) {
			t.Errorf("retry_count = %v (%T), want float64 2", got.State["retry_count"], got.State["retry_count"])
		}
		speakers, ok := got.State["speakers"].([]any)
		if !ok || len(speakers) != 2 {
			t.Errorf("speakers = %v", got.State["speakers"])
		}
		if got.Pending != nil || got.Decision != nil {
			t.Errorf("expected no pending interrupt or decision, got %+v %+v", got.Pending, got.Decision)
		}
	})

	t.Run("pending interrupt and decision round trip", func(t *testing.T) {
		st := newStore(t)
		created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		saved, err := st.Save(ctx, store.Checkpoint{
			JobID:  "meeting-2",
			Stage:  "human_review",
			Status: "pending_review",
			State:  map[string]any{"status": "pending_review"},
			Pending: &store.Interrupt{
				ID:        "int-1",
				Stage:     "human_review",
				Payload:   map[string]any{"minutes": "draft"},
				CreatedAt: created,
			},
		})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}

		got, err := st.Load(ctx, "meeting-2")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.Pending == nil {
			t.Fatal("expected pending interrupt")
		}
		if got.Pending.ID != "int-1" || got.Pending.Stage != "human_review" || got.Pending.Payload["minutes"] != "draft" {
			t.Errorf("unexpected interrupt: %+v", got.Pending)
		}
		if !got.Pending.CreatedAt.Equal(created) {
			t.Errorf("CreatedAt = %v, want %v", got.Pending.CreatedAt, created)
		}

		saved.Pending = nil
		saved.Decision = map[string]any{"action": "approve"}
		if _, err := st.Save(ctx, saved); err != nil {
			t.Fatalf("Save decision: %v", err)
		}
		got, err = st.Load(ctx, "meeting-2")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.Pending != nil {
			t.Error("pending interrupt should be cleared")
		}
		if got.Decision["action"] != "approve" {
			t.Errorf("decision = %v", got.Decision)
		}
	})

	t.Run("version checks", func(t *testing.T) {
		st := newStore(t)
		first, err := st.Save(ctx, store.Checkpoint{JobID: "meeting-3", State: map[string]any{"n": 1}})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}

		if _, err := st.Save(ctx, store.Checkpoint{JobID: "meeting-3", State: map[string]any{}}); !errors.Is(err, store.ErrVersionConflict) {
			t.Errorf("second insert: expected ErrVersionConflict, got %v", err)
		}

		second, err := st.Save(ctx, first)
		if err != nil {
			t.Fatalf("update at current version: %v", err)
		}
		if second.Version != 2 {
			t.Errorf("version = %d, want 2", second.Version)
		}

		if _, err := st.Save(ctx, first); !errors.Is(err, store.ErrVersionConflict) {
			t.Errorf("stale update: expected ErrVersionConflict, got %v", err)
		}

		if _, err := st.Save(ctx, store.Checkpoint{JobID: "never-saved", Version: 4}); !errors.Is(err, store.ErrVersionConflict) {
			t.Errorf("update of missing job: expected ErrVersionConflict, got %v", err)
		}
	})

	t.Run("concurrent writers at the same version", func(t *testing.T) {
		st := newStore(t)
		base, err := st.Save(ctx, store.Checkpoint{JobID: "meeting-4", State: map[string]any{}})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				cp := base
				cp.State = map[string]any{"writer": i}
				_, err := st.Save(ctx, cp)
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				if !errors.Is(err, store.ErrVersionConflict) {
					t.Errorf("writer %d: unexpected error %v", i, err)
				}
			}(i)
		}
		wg.Wait()
		if succeeded != 1 {
			t.Errorf("%d writers succeeded, want exactly 1", succeeded)
		}
	})

	t.Run("delete", func(t *testing.T) {
		st := newStore(t)
		if _, err := st.Save(ctx, store.Checkpoint{JobID: "meeting-5", State: map[string]any{}}); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := st.Delete(ctx, "meeting-5"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := st.Load(ctx, "meeting-5"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := st.Delete(ctx, "meeting-5"); err != nil {
			t.Errorf("deleting a missing job should succeed, got %v", err)
		}
	})

	t.Run("list", func(t *testing.T) {
		st := newStore(t)
		for _, id := range []string{"a", "b", "c"} {
			if _, err := st.Save(ctx, store.Checkpoint{JobID: id, State: map[string]any{}}); err != nil {
				t.Fatalf("Save %s: %v", id, err)
			}
			time.Sleep(2 * time.Millisecond)
		}

		all, err := st.List(ctx, 0)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("got %d checkpoints, want 3", len(all))
		}
		if all[0].JobID != "c" {
			t.Errorf("most recent first: got %s, want c", all[0].JobID)
		}

		limited, err := st.List(ctx, 2)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("limit 2 returned %d", len(limited))
		}
	})

	t.Run("closed store rejects operations", func(t *testing.T) {
		st := newStore(t)
		if err := st.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := st.Close(); err != nil {
			t.Errorf("second Close: %v", err)
		}
		if _, err := st.Load(ctx, "x"); !errors.Is(err, store.ErrClosed) {
			t.Errorf("Load after close: expected ErrClosed, got %v", err)
		}
		if _, err := st.Save(ctx, store.Checkpoint{JobID: "x"}); !errors.Is(err, store.ErrClosed) {
			t.Errorf("Save after close: expected ErrClosed, got %v", err)
		}
	})
}
