// Package repositorycache stores cache entries in a relational database using
// go-repository-bun on top of bun.
//
// # Overview
//
// Store implements cache.Store over a single table, smart_cache:
//
//	id          uuid primary key
//	subject_id  text
//	source      text
//	payload     text (JSON document)
//	updated_at  timestamp, UTC, microsecond precision
//
// The table carries no unique constraint on (subject_id, source). Rows written
// by concurrent misses may duplicate a key; lookups resolve them by ordering on
// updated_at descending and taking the first row.
//
// # Basic Usage
//
//	db, err := repositorycache.Open(ctx, repositorycache.DriverSQLite, "file:cache.db")
//	if err != nil {
//		return err
//	}
//	if err := repositorycache.Migrate(ctx, db); err != nil {
//		return err
//	}
//
//	store := repositorycache.NewFromDB(db, logger)
//	rt, err := cache.New(store, cache.DefaultConfig(), logger)
//
// # Drivers
//
// Open understands "sqlite3" (mattn/go-sqlite3) and "postgres" (lib/pq) and
// picks the matching bun dialect.
//
// # Error Handling
//
// Database errors are wrapped with the table and operation and returned. The
// cache package classifies them as store read or store write failures.
package repositorycache
