package testsupport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/goliatone/go-smartcache/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory returns an empty store for one subtest. Cleanup should be
// registered on t.
type StoreFactory func(t *testing.T) cache.Store

// RunStoreContract exercises the behaviour every cache.Store must provide:
// latest-row lookup without a uniqueness assumption, identity preserving
// updates, and filtered deletes.
func RunStoreContract(t *testing.T, newStore StoreFactory) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	insert := func(t *testing.T, s cache.Store, subjectID, source, payload string, updatedAt time.Time) cache.Entry {
		t.Helper()
		e, err := s.Insert(context.Background(), cache.Entry{
			SubjectID: subjectID,
			Source:    source,
			Payload:   json.RawMessage(payload),
			UpdatedAt: updatedAt,
		})
		require.NoError(t, err)
		return e
	}

	find := func(t *testing.T, s cache.Store, subjectID, source string) (cache.Entry, bool) {
		t.Helper()
		e, found, err := s.FindLatest(context.Background(), subjectID, source)
		require.NoError(t, err)
		return e, found
	}

	t.Run("find on empty store", func(t *testing.T) {
		s := newStore(t)
		_, found := find(t, s, "p1", "priceApi")
		assert.False(t, found)
	})

	t.Run("insert assigns id and round trips", func(t *testing.T) {
		s := newStore(t)
		inserted := insert(t, s, "p1", "priceApi", `{"amount":1999,"tags":["a","b"]}`, base)
		require.NotEmpty(t, inserted.ID)

		got, found := find(t, s, "p1", "priceApi")
		require.True(t, found)
		assert.Equal(t, inserted.ID, got.ID)
		assert.Equal(t, "p1", got.SubjectID)
		assert.Equal(t, "priceApi", got.Source)
		assert.JSONEq(t, `{"amount":1999,"tags":["a","b"]}`, string(got.Payload))
		assert.True(t, base.Equal(got.UpdatedAt), "updated_at %s != %s", got.UpdatedAt, base)
	})

	t.Run("sub second precision survives", func(t *testing.T) {
		s := newStore(t)
		at := base.Add(123456 * time.Microsecond)
		insert(t, s, "p1", "priceApi", `1`, at)

		got, found := find(t, s, "p1", "priceApi")
		require.True(t, found)
		assert.True(t, at.Equal(got.UpdatedAt), "updated_at %s != %s", got.UpdatedAt, at)
	})

	t.Run("keys are isolated", func(t *testing.T) {
		s := newStore(t)
		insert(t, s, "p1", "priceApi", `1`, base)
		insert(t, s, "p1", "stockApi", `2`, base)
		insert(t, s, "p1:priceApi", "x", `3`, base)

		got, found := find(t, s, "p1", "stockApi")
		require.True(t, found)
		assert.JSONEq(t, `2`, string(got.Payload))

		_, found = find(t, s, "p2", "priceApi")
		assert.False(t, found)
		_, found = find(t, s, "p1:priceApi", "priceApi")
		assert.False(t, found)
	})

	t.Run("latest of duplicate rows wins", func(t *testing.T) {
		s := newStore(t)
		insert(t, s, "p1", "priceApi", `"older"`, base.Add(-2*time.Hour))
		newest := insert(t, s, "p1", "priceApi", `"newest"`, base)
		insert(t, s, "p1", "priceApi", `"middle"`, base.Add(-time.Hour))

		got, found := find(t, s, "p1", "priceApi")
		require.True(t, found)
		assert.Equal(t, newest.ID, got.ID)
		assert.JSONEq(t, `"newest"`, string(got.Payload))
	})

	t.Run("update keeps identity", func(t *testing.T) {
		s := newStore(t)
		older := insert(t, s, "p1", "priceApi", `"older"`, base.Add(-48*time.Hour))
		target := insert(t, s, "p1", "priceApi", `"stale"`, base.Add(-25*time.Hour))

		target.Payload = json.RawMessage(`"fresh"`)
		target.UpdatedAt = base
		require.NoError(t, s.Update(context.Background(), target))

		got, found := find(t, s, "p1", "priceApi")
		require.True(t, found)
		assert.Equal(t, target.ID, got.ID)
		assert.JSONEq(t, `"fresh"`, string(got.Payload))
		assert.True(t, base.Equal(got.UpdatedAt))

		// Push the updated row behind its duplicate: the duplicate must surface unchanged.
		target.Payload = json.RawMessage(`"moved"`)
		target.UpdatedAt = base.Add(-72 * time.Hour)
		require.NoError(t, s.Update(context.Background(), target))

		got, found = find(t, s, "p1", "priceApi")
		require.True(t, found)
		assert.Equal(t, older.ID, got.ID)
		assert.JSONEq(t, `"older"`, string(got.Payload))
	})

	t.Run("delete by subject", func(t *testing.T) {
		s := newStore(t)
		insert(t, s, "p1", "priceApi", `1`, base)
		insert(t, s, "p1", "stockApi", `2`, base)
		insert(t, s, "p2", "priceApi", `3`, base)

		require.NoError(t, s.Delete(context.Background(), cache.Filter{SubjectID: "p1"}))

		_, found := find(t, s, "p1", "priceApi")
		assert.False(t, found)
		_, found = find(t, s, "p1", "stockApi")
		assert.False(t, found)
		_, found = find(t, s, "p2", "priceApi")
		assert.True(t, found)
	})

	t.Run("delete by subject and source", func(t *testing.T) {
		s := newStore(t)
		insert(t, s, "p1", "priceApi", `1`, base)
		insert(t, s, "p1", "priceApi", `1`, base.Add(-time.Hour))
		insert(t, s, "p1", "stockApi", `2`, base)

		require.NoError(t, s.Delete(context.Background(), cache.Filter{SubjectID: "p1", Source: "priceApi"}))

		_, found := find(t, s, "p1", "priceApi")
		assert.False(t, found)
		_, found = find(t, s, "p1", "stockApi")
		assert.True(t, found)
	})

	t.Run("delete by age is strict", func(t *testing.T) {
		s := newStore(t)
		cutoff := base.Add(-24 * time.Hour)
		insert(t, s, "old", "a", `1`, cutoff.Add(-time.Second))
		insert(t, s, "edge", "a", `2`, cutoff)
		insert(t, s, "new", "a", `3`, base)

		require.NoError(t, s.Delete(context.Background(), cache.Filter{UpdatedBefore: cutoff}))

		_, found := find(t, s, "old", "a")
		assert.False(t, found)
		_, found = find(t, s, "edge", "a")
		assert.True(t, found)
		_, found = find(t, s, "new", "a")
		assert.True(t, found)
	})

	t.Run("delete nothing is not an error", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Delete(context.Background(), cache.Filter{SubjectID: "missing"}))
		require.NoError(t, s.Delete(context.Background(), cache.Filter{UpdatedBefore: base}))
	})

	t.Run("empty filter rejected", func(t *testing.T) {
		s := newStore(t)
		insert(t, s, "p1", "priceApi", `1`, base)

		err := s.Delete(context.Background(), cache.Filter{})
		assert.ErrorIs(t, err, cache.ErrEmptyFilter)
		_, found := find(t, s, "p1", "priceApi")
		assert.True(t, found)
	})
}
