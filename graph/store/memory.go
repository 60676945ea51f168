package store

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Checkpointer.
//
// It satisfies the full contract, including version checks, but nothing
// survives the process. Use it for tests and single-shot CLI runs.
// Checkpoints are deep-copied on the way in and out.
type MemStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
	closed      bool
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		checkpoints: make(map[string]Checkpoint),
	}
}

// Load returns a copy of the checkpoint for jobID.
func (m *MemStore) Load(_ context.Context, jobID string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Checkpoint{}, ErrClosed
	}
	cp, ok := m.checkpoints[jobID]
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	return clone(cp)
}

// Save stores cp if its version matches.
func (m *MemStore) Save(_ context.Context, cp Checkpoint) (Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Checkpoint{}, ErrClosed
	}

	current, exists := m.checkpoints[cp.JobID]
	switch {
	case cp.Version == 0 && exists:
		return Checkpoint{}, ErrVersionConflict
	case cp.Version != 0 && (!exists || current.Version != cp.Version):
		return Checkpoint{}, ErrVersionConflict
	}

	cp.Version++
	cp.UpdatedAt = now()
	stored, err := clone(cp)
	if err != nil {
		return Checkpoint{}, err
	}
	m.checkpoints[cp.JobID] = stored
	return clone(stored)
}

// Delete removes the checkpoint for jobID.
func (m *MemStore) Delete(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.checkpoints, jobID)
	return nil
}

// List returns checkpoints, most recently updated first.
func (m *MemStore) List(_ context.Context, limit int) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	all := make([]Checkpoint, 0, len(m.checkpoints))
	for _, cp := range m.checkpoints {
		c, err := clone(cp)
		if err != nil {
			return nil, err
		}
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].JobID < all[j].JobID
		}
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Close marks the store closed.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
