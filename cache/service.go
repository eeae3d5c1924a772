package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is the persisted unit of the cache. The pair (SubjectID, Source) is the
// logical key; ID is the store-assigned row identity and is only used to target
// updates.
type Entry struct {
	ID        string          `json:"id"`
	SubjectID string          `json:"subject_id"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Filter selects entries for deletion. Empty fields match anything, a zero
// UpdatedBefore applies no age bound. A completely empty Filter is rejected by
// every Store with ErrEmptyFilter.
type Filter struct {
	SubjectID     string
	Source        string
	UpdatedBefore time.Time
}

// IsEmpty reports whether the filter would match every entry.
func (f Filter) IsEmpty() bool {
	return f.SubjectID == "" && f.Source == "" && f.UpdatedBefore.IsZero()
}

// Matches reports whether e is selected by the filter.
func (f Filter) Matches(e Entry) bool {
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !e.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

// Store is the durable record store the read-through cache persists entries in.
// Implementations must not assume (SubjectID, Source) is unique.
type Store interface {
	// FindLatest returns the entry for (subjectID, source) with the greatest
	// UpdatedAt. The boolean is false when no entry exists.
	FindLatest(ctx context.Context, subjectID, source string) (Entry, bool, error)
	// Insert stores a new entry and returns it with its assigned ID.
	Insert(ctx context.Context, entry Entry) (Entry, error)
	// Update overwrites Payload and UpdatedAt of the row identified by entry.ID.
	Update(ctx context.Context, entry Entry) error
	// Delete removes every entry matched by filter. Deleting nothing is not an error.
	Delete(ctx context.Context, filter Filter) error
}

// FetchFn produces the artifact to cache on a miss or a stale read.
type FetchFn[T any] func(ctx context.Context) (T, error)

// Result is what GetOrFetch and Lookup hand back to callers.
type Result[T any] struct {
	Data      T
	FromCache bool
	CachedAt  time.Time
	// Stale is only set by Lookup, GetOrFetch never returns stale data.
	Stale bool
}
