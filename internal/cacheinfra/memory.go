package cacheinfra

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/goliatone/go-smartcache/cache"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// memoryRow is what the memory store keeps per row. seq breaks UpdatedAt ties
// in favour of the most recently written row.
type memoryRow struct {
	entry cache.Entry
	seq   uint64
}

// MemoryStore is a process-local cache.Store. It is meant for tests and single
// instance development setups; nothing survives a restart.
type MemoryStore struct {
	rows *xsync.MapOf[string, memoryRow]
	seq  atomic.Uint64
}

var _ cache.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: xsync.NewMapOf[string, memoryRow](),
	}
}

// FindLatest implements cache.Store.
func (s *MemoryStore) FindLatest(ctx context.Context, subjectID, source string) (cache.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return cache.Entry{}, false, err
	}

	var (
		best  memoryRow
		found bool
	)
	s.rows.Range(func(_ string, row memoryRow) bool {
		if row.entry.SubjectID != subjectID || row.entry.Source != source {
			return true
		}
		if !found || newer(row, best) {
			best = row
			found = true
		}
		return true
	})
	if !found {
		return cache.Entry{}, false, nil
	}
	return cloneEntry(best.entry), true, nil
}

// Insert implements cache.Store.
func (s *MemoryStore) Insert(ctx context.Context, entry cache.Entry) (cache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return cache.Entry{}, err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.UpdatedAt = cache.Normalize(entry.UpdatedAt)
	entry = cloneEntry(entry)

	if _, loaded := s.rows.LoadOrStore(entry.ID, memoryRow{entry: entry, seq: s.seq.Add(1)}); loaded {
		return cache.Entry{}, fmt.Errorf("memory insert: duplicate id %s", entry.ID)
	}
	return cloneEntry(entry), nil
}

// Update implements cache.Store.
func (s *MemoryStore) Update(ctx context.Context, entry cache.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var missing bool
	s.rows.Compute(entry.ID, func(old memoryRow, loaded bool) (memoryRow, bool) {
		if !loaded {
			missing = true
			return old, true
		}
		old.entry.Payload = append([]byte(nil), entry.Payload...)
		old.entry.UpdatedAt = cache.Normalize(entry.UpdatedAt)
		old.seq = s.seq.Add(1)
		return old, false
	})
	if missing {
		return fmt.Errorf("memory update: no entry with id %s", entry.ID)
	}
	return nil
}

// Delete implements cache.Store.
func (s *MemoryStore) Delete(ctx context.Context, filter cache.Filter) error {
	if filter.IsEmpty() {
		return cache.ErrEmptyFilter
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.rows.Range(func(id string, row memoryRow) bool {
		if filter.Matches(row.entry) {
			s.rows.Delete(id)
		}
		return true
	})
	return nil
}

// Len returns the number of stored rows.
func (s *MemoryStore) Len() int {
	return s.rows.Size()
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func newer(a, b memoryRow) bool {
	if a.entry.UpdatedAt.Equal(b.entry.UpdatedAt) {
		return a.seq > b.seq
	}
	return a.entry.UpdatedAt.After(b.entry.UpdatedAt)
}

func cloneEntry(e cache.Entry) cache.Entry {
	e.Payload = append([]byte(nil), e.Payload...)
	return e
}
