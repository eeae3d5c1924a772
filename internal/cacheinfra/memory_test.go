package cacheinfra_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/goliatone/go-smartcache/cache"
	"github.com/goliatone/go-smartcache/internal/cacheinfra"
	"github.com/goliatone/go-smartcache/pkg/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	testsupport.RunStoreContract(t, func(t *testing.T) cache.Store {
		return cacheinfra.NewMemoryStore()
	})
}

func TestMemoryStore_EqualTimestampsPreferLastWrite(t *testing.T) {
	ctx := context.Background()
	s := cacheinfra.NewMemoryStore()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Insert(ctx, cache.Entry{SubjectID: "p1", Source: "a", Payload: json.RawMessage(`1`), UpdatedAt: at})
	require.NoError(t, err)
	second, err := s.Insert(ctx, cache.Entry{SubjectID: "p1", Source: "a", Payload: json.RawMessage(`2`), UpdatedAt: at})
	require.NoError(t, err)

	got, found, err := s.FindLatest(ctx, "p1", "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, second.ID, got.ID)
}

func TestMemoryStore_UpdateUnknownID(t *testing.T) {
	s := cacheinfra.NewMemoryStore()
	err := s.Update(context.Background(), cache.Entry{ID: "nope", Payload: json.RawMessage(`1`)})
	require.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_ReturnedEntriesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := cacheinfra.NewMemoryStore()
	inserted, err := s.Insert(ctx, cache.Entry{SubjectID: "p1", Source: "a", Payload: json.RawMessage(`"abc"`), UpdatedAt: time.Now()})
	require.NoError(t, err)

	inserted.Payload[1] = 'x'

	got, _, err := s.FindLatest(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(got.Payload))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := cacheinfra.NewMemoryStore()
	_, _, err := s.FindLatest(ctx, "p1", "a")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Insert(ctx, cache.Entry{SubjectID: "p1", Source: "a"})
	assert.ErrorIs(t, err, context.Canceled)
}
