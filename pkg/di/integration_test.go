package di

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-smartcache/cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type price struct {
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

// testClock is a settable clock shared by the cache under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newSQLiteContainer(t *testing.T) (*Container, *testClock) {
	t.Helper()
	ctx := context.Background()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}

	cfg := DefaultConfig()
	cfg.DSN = "file:" + filepath.Join(t.TempDir(), "cache.db")

	container, err := NewContainer(ctx, cfg, zerolog.Nop(), cache.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })
	require.NoError(t, container.Migrate(ctx))
	return container, clock
}

func TestEndToEndPriceEnrichment(t *testing.T) {
	ctx := context.Background()
	container, clock := newSQLiteContainer(t)
	rt := container.Cache()

	var calls atomic.Int32
	fetch := func(context.Context) (price, error) {
		n := calls.Add(1)
		return price{Amount: 1999 + int(n), Currency: "EUR"}, nil
	}

	// first request misses and stores
	first, err := cache.GetOrFetch(ctx, rt, "p1", "priceApi", fetch)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, 2000, first.Data.Amount)

	// one hour later the stored value is served
	clock.Advance(time.Hour)
	second, err := cache.GetOrFetch(ctx, rt, "p1", "priceApi", fetch)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, int32(1), calls.Load())

	// past the TTL the value is refetched and the row updated in place
	clock.Advance(24 * time.Hour)
	third, err := cache.GetOrFetch(ctx, rt, "p1", "priceApi", fetch)
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	assert.Equal(t, 2001, third.Data.Amount)

	stored, found, err := container.Store().FindLatest(ctx, "p1", "priceApi")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, clock.Now().Equal(stored.UpdatedAt))

	count, err := container.DB().NewSelect().Table("smart_cache").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "refresh must not add rows")

	// invalidation forces the next request to fetch again
	require.NoError(t, rt.Invalidate(ctx, "p1"))
	fourth, err := cache.GetOrFetch(ctx, rt, "p1", "priceApi", fetch)
	require.NoError(t, err)
	assert.False(t, fourth.FromCache)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEndToEndFetchErrorPropagation(t *testing.T) {
	ctx := context.Background()
	container, clock := newSQLiteContainer(t)
	rt := container.Cache()

	_, err := cache.GetOrFetch(ctx, rt, "p1", "priceApi", func(context.Context) (price, error) {
		return price{Amount: 1500, Currency: "EUR"}, nil
	})
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	upstream := errors.New("price api unavailable")
	_, err = cache.GetOrFetch(ctx, rt, "p1", "priceApi", func(context.Context) (price, error) {
		return price{}, upstream
	})
	require.Error(t, err)
	assert.True(t, cache.IsFetch(err))
	assert.ErrorIs(t, err, upstream)

	stale, found, err := cache.Lookup[price](ctx, rt, "p1", "priceApi")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, stale.Stale)
	assert.Equal(t, 1500, stale.Data.Amount)
}

func TestEndToEndCleanExpired(t *testing.T) {
	ctx := context.Background()
	container, clock := newSQLiteContainer(t)
	rt := container.Cache()

	for i := 0; i < 3; i++ {
		_, err := cache.GetOrFetch(ctx, rt, fmt.Sprintf("p%d", i), "priceApi", func(context.Context) (price, error) {
			return price{Amount: i}, nil
		})
		require.NoError(t, err)
		clock.Advance(12 * time.Hour)
	}
	// rows are now 36h, 24h and 12h old
	require.NoError(t, rt.CleanExpired(ctx))

	for i, want := range []bool{false, true, true} {
		_, found, err := container.Store().FindLatest(ctx, fmt.Sprintf("p%d", i), "priceApi")
		require.NoError(t, err)
		assert.Equal(t, want, found, "p%d", i)
	}
}

func TestConcurrentAccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = DriverMemory
	container, err := NewContainer(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })
	rt := container.Cache()

	// warm every subject once
	ctx := context.Background()
	var fetches atomic.Int32
	fetch := func(context.Context) (price, error) {
		fetches.Add(1)
		return price{Amount: 1}, nil
	}
	for i := 0; i < 100; i++ {
		_, err := cache.GetOrFetch(ctx, rt, fmt.Sprintf("p%d", i), "priceApi", fetch)
		require.NoError(t, err)
	}

	const numGoroutines = 50
	const operationsPerGoroutine = 20

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines*operationsPerGoroutine)
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < operationsPerGoroutine; j++ {
				subject := fmt.Sprintf("p%d", (workerID*operationsPerGoroutine+j)%100)
				res, err := cache.GetOrFetch(ctx, rt, subject, "priceApi", fetch)
				if err != nil {
					errs <- fmt.Errorf("worker %d operation %d: %w", workerID, j, err)
					continue
				}
				if !res.FromCache {
					errs <- fmt.Errorf("worker %d operation %d: %s was not served from cache", workerID, j, subject)
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, int32(100), fetches.Load())
}
