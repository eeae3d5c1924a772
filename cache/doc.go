// Package cache provides a TTL based read-through cache persisted in a durable
// record store.
//
// # Overview
//
// Entries are keyed by a subject (the thing being cached, e.g. a product ID) and a
// source (the upstream facet, e.g. a pricing provider). The package exports:
//
//   - Store: the record store contract (find latest, insert, update by ID, delete by filter)
//   - ReadThrough: the cache itself, built with New
//   - GetOrFetch / Lookup: type-safe generic entry points
//   - Error: the tagged error returned by every operation
//
// Store implementations live in the repositorycache package (bun, sqlite/postgres)
// and in internal/cacheinfra (memory, Redis, Firestore). pkg/di picks one from config.
//
// # Basic Usage
//
//	rt, err := cache.New(store, cache.DefaultConfig(), logger)
//	if err != nil {
//		return err
//	}
//
//	res, err := cache.GetOrFetch(ctx, rt, productID, "priceApi", func(ctx context.Context) (Price, error) {
//		return priceClient.Get(ctx, productID)
//	})
//
// res.FromCache is true when the stored value was served and the fetch did not run.
//
// # Freshness
//
// An entry is fresh while now - UpdatedAt <= TTL (24h by default). Fresh entries are
// served without calling the fetch function, so the upstream is called at most once
// per TTL window per (subject, source), absent concurrent misses. Stale or missing
// entries trigger exactly one fetch; the result updates the latest row in place or
// inserts a new one.
//
// The store is not required to enforce uniqueness of (subject, source). When several
// rows exist, the one with the greatest UpdatedAt is read and refreshed; the others
// are ignored until CleanExpired or Invalidate removes them.
//
// # Concurrency
//
// ReadThrough keeps no in-process state. Two callers missing on the same pair at the
// same time both fetch and both write; the last write wins. There is no request
// coalescing and no background goroutine.
//
// # Error Handling
//
// Every failure is returned as *Error tagged with KindStoreRead, KindFetch or
// KindStoreWrite. The underlying error is kept in Err and is reachable with errors.Is
// and errors.As. Nothing is retried, logged and swallowed, or served stale. Callers
// that prefer stale data on fetch failure can use Lookup after IsFetch(err).
//
// # Cleanup
//
// CleanExpired deletes every entry older than TTL. The cache has no timer; run it from
// cron, e.g. via `smartcache clean-expired`.
package cache
