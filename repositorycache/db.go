package repositorycache

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Open connects to dsn with the given driver, wraps it in a *bun.DB with the
// matching dialect and pings it.
func Open(ctx context.Context, driver, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	var db *bun.DB
	switch driver {
	case DriverSQLite:
		// in-memory databases are per connection
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DriverPostgres:
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb.Close()
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}
	return db, nil
}

// Migrate creates the cache table and its lookup indexes when missing. It is
// safe to run repeatedly.
func Migrate(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().
		Model((*Record)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create table %s: %w", TableName, err)
	}

	if _, err := db.NewCreateIndex().
		Model((*Record)(nil)).
		Index("smart_cache_key_idx").
		IfNotExists().
		Column("subject_id", "source", "updated_at").
		Exec(ctx); err != nil {
		return fmt.Errorf("create index smart_cache_key_idx: %w", err)
	}

	if _, err := db.NewCreateIndex().
		Model((*Record)(nil)).
		Index("smart_cache_updated_at_idx").
		IfNotExists().
		Column("updated_at").
		Exec(ctx); err != nil {
		return fmt.Errorf("create index smart_cache_updated_at_idx: %w", err)
	}
	return nil
}
