package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ReadThrough serves the freshest stored value for a (subject, source) pair and
// calls the supplied fetch at most once per TTL window per pair. It holds no
// per-key state; all coordination happens through the Store.
type ReadThrough struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// Option customizes a ReadThrough.
type Option func(*ReadThrough)

// WithClock replaces time.Now as the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(rt *ReadThrough) {
		if now != nil {
			rt.now = now
		}
	}
}

// New creates a read-through cache persisting entries in store.
func New(store Store, cfg Config, logger zerolog.Logger, opts ...Option) (*ReadThrough, error) {
	if store == nil {
		return nil, errors.New("cache: store cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cache: invalid config: %w", err)
	}

	rt := &ReadThrough{
		store:  store,
		ttl:    cfg.TTL,
		now:    time.Now,
		logger: logger.With().Str("component", "ReadThrough").Logger(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt, nil
}

// TTL returns the staleness threshold in use.
func (rt *ReadThrough) TTL() time.Duration {
	return rt.ttl
}

// GetOrFetch returns the cached payload for (subjectID, source) when it was
// written within the TTL window. Otherwise it calls fetch, persists the result
// by updating the latest row in place (or inserting one), and returns it.
//
// A failed fetch leaves the store untouched. A failed write after a
// successful fetch still fails the call and the fetched value is dropped.
func GetOrFetch[T any](ctx context.Context, rt *ReadThrough, subjectID, source string, fetch FetchFn[T]) (Result[T], error) {
	const op = "GetOrFetch"
	var zero Result[T]

	existing, found, err := rt.store.FindLatest(ctx, subjectID, source)
	if err != nil {
		return zero, &Error{Kind: KindStoreRead, Op: op, SubjectID: subjectID, Source: source, Err: err}
	}

	now := rt.clock()
	if found && rt.isFresh(existing.UpdatedAt, now) {
		var data T
		if err := json.Unmarshal(existing.Payload, &data); err != nil {
			return zero, &Error{Kind: KindStoreRead, Op: op, SubjectID: subjectID, Source: source,
				Err: fmt.Errorf("decode payload of %s: %w", existing.ID, err)}
		}
		rt.logger.Debug().Str("subject_id", subjectID).Str("source", source).
			Time("cached_at", existing.UpdatedAt).Msg("Cache hit.")
		return Result[T]{Data: data, FromCache: true, CachedAt: existing.UpdatedAt}, nil
	}

	data, err := fetch(ctx)
	if err != nil {
		return zero, &Error{Kind: KindFetch, Op: op, SubjectID: subjectID, Source: source, Err: err}
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return zero, &Error{Kind: KindStoreWrite, Op: op, SubjectID: subjectID, Source: source,
			Err: fmt.Errorf("encode payload: %w", err)}
	}

	if found {
		existing.Payload = payload
		existing.UpdatedAt = now
		if err := rt.store.Update(ctx, existing); err != nil {
			return zero, &Error{Kind: KindStoreWrite, Op: op, SubjectID: subjectID, Source: source, Err: err}
		}
		rt.logger.Debug().Str("subject_id", subjectID).Str("source", source).Msg("Stale entry refreshed.")
		return Result[T]{Data: data, CachedAt: existing.UpdatedAt}, nil
	}

	inserted, err := rt.store.Insert(ctx, Entry{
		SubjectID: subjectID,
		Source:    source,
		Payload:   payload,
		UpdatedAt: now,
	})
	if err != nil {
		return zero, &Error{Kind: KindStoreWrite, Op: op, SubjectID: subjectID, Source: source, Err: err}
	}
	rt.logger.Debug().Str("subject_id", subjectID).Str("source", source).Msg("Cache miss stored.")
	return Result[T]{Data: data, CachedAt: inserted.UpdatedAt}, nil
}

// Lookup returns the latest stored payload for (subjectID, source) regardless
// of its age and never fetches. It lets callers fall back to stale data after a
// fetch failure. The boolean is false when nothing is stored.
func Lookup[T any](ctx context.Context, rt *ReadThrough, subjectID, source string) (Result[T], bool, error) {
	const op = "Lookup"
	var zero Result[T]

	existing, found, err := rt.store.FindLatest(ctx, subjectID, source)
	if err != nil {
		return zero, false, &Error{Kind: KindStoreRead, Op: op, SubjectID: subjectID, Source: source, Err: err}
	}
	if !found {
		return zero, false, nil
	}

	var data T
	if err := json.Unmarshal(existing.Payload, &data); err != nil {
		return zero, false, &Error{Kind: KindStoreRead, Op: op, SubjectID: subjectID, Source: source,
			Err: fmt.Errorf("decode payload of %s: %w", existing.ID, err)}
	}
	return Result[T]{
		Data:      data,
		FromCache: true,
		CachedAt:  existing.UpdatedAt,
		Stale:     !rt.isFresh(existing.UpdatedAt, rt.clock()),
	}, true, nil
}

// Invalidate deletes the entries of subjectID for the given source, or for every
// source when none is given. Invalidating something that is not cached is a no-op.
//
// An empty subjectID would widen the delete to every subject, so it is refused
// before reaching the store with the rejection a store gives an empty filter:
// a KindStoreWrite Error wrapping ErrEmptyFilter.
func (rt *ReadThrough) Invalidate(ctx context.Context, subjectID string, source ...string) error {
	const op = "Invalidate"
	if subjectID == "" {
		return &Error{Kind: KindStoreWrite, Op: op, Err: ErrEmptyFilter}
	}
	if len(source) == 0 {
		source = []string{""}
	}

	for _, src := range source {
		if err := rt.store.Delete(ctx, Filter{SubjectID: subjectID, Source: src}); err != nil {
			return &Error{Kind: KindStoreWrite, Op: op, SubjectID: subjectID, Source: src, Err: err}
		}
		rt.logger.Debug().Str("subject_id", subjectID).Str("source", src).Msg("Invalidated.")
	}
	return nil
}

// CleanExpired deletes every entry last written more than TTL ago, across all
// subjects and sources. It is meant to be run by an external scheduler.
func (rt *ReadThrough) CleanExpired(ctx context.Context) error {
	cutoff := rt.clock().Add(-rt.ttl)
	if err := rt.store.Delete(ctx, Filter{UpdatedBefore: cutoff}); err != nil {
		return &Error{Kind: KindStoreWrite, Op: "CleanExpired", Err: err}
	}
	rt.logger.Debug().Time("cutoff", cutoff).Msg("Expired entries removed.")
	return nil
}

func (rt *ReadThrough) clock() time.Time {
	return Normalize(rt.now())
}

func (rt *ReadThrough) isFresh(updatedAt, now time.Time) bool {
	return now.Sub(updatedAt) <= rt.ttl
}

// Normalize converts t to the precision every store keeps: UTC, microseconds.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
