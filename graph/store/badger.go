package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v3"
)

const badgerPrefix = "cp/"

// BadgerStore is an embedded Checkpointer backed by Badger.
//
// Each job is one key holding the serialized checkpoint. Save reads and
// writes inside a single read-write transaction, so Badger's optimistic
// transaction conflict detection and the version check together give
// at-most-one writer per job. SyncWrites makes Save durable on return.
type BadgerStore struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
}

// NewBadgerStore opens a Badger database in dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLoggingLevel(badger.ERROR)
	return openBadger(opts)
}

// NewInMemoryBadgerStore opens a Badger database that lives only in memory.
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR)
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(jobID string) []byte {
	return []byte(badgerPrefix + jobID)
}

func (b *BadgerStore) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Load returns the checkpoint for jobID.
func (b *BadgerStore) Load(_ context.Context, jobID string) (Checkpoint, error) {
	if err := b.checkOpen(); err != nil {
		return Checkpoint{}, err
	}

	var cp Checkpoint
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(jobID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			cp, derr = unmarshalRecord(val)
			return derr
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint %s: %w", jobID, err)
	}
	return cp, nil
}

// Save stores cp if its version matches the stored one.
func (b *BadgerStore) Save(_ context.Context, cp Checkpoint) (Checkpoint, error) {
	if err := b.checkOpen(); err != nil {
		return Checkpoint{}, err
	}

	next := cp
	next.Version = cp.Version + 1
	next.UpdatedAt = now()
	data, err := marshalRecord(next)
	if err != nil {
		return Checkpoint{}, err
	}

	key := badgerKey(cp.JobID)
	err = b.db.Update(func(txn *badger.Txn) error {
		var stored int64
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			stored = 0
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				existing, derr := unmarshalRecord(val)
				stored = existing.Version
				return derr
			}); err != nil {
				return err
			}
		}
		if stored != cp.Version {
			return ErrVersionConflict
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, ErrVersionConflict) || errors.Is(err, badger.ErrConflict) {
		return Checkpoint{}, ErrVersionConflict
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to save checkpoint %s: %w", cp.JobID, err)
	}
	return unmarshalRecord(data)
}

// Delete removes the checkpoint for jobID.
func (b *BadgerStore) Delete(_ context.Context, jobID string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(jobID))
	})
}

// List returns checkpoints, most recently updated first.
func (b *BadgerStore) List(_ context.Context, limit int) ([]Checkpoint, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var out []Checkpoint
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			cp, err := unmarshalRecord(val)
			if err != nil {
				return err
			}
			out = append(out, cp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close closes the database. Safe to call more than once.
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
