package di

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-smartcache/cache"
	"github.com/goliatone/go-smartcache/internal/cacheinfra"
	"github.com/goliatone/go-smartcache/repositorycache"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// Container wires a record store, selected by Config.Driver, to a
// read-through cache and owns the lifecycle of both.
type Container struct {
	config  Config
	store   cache.Store
	cache   *cache.ReadThrough
	db      *bun.DB
	closers []func() error
	logger  zerolog.Logger
}

// NewContainer validates config, connects the record store and builds the
// cache on top of it. Options are passed through to cache.New.
func NewContainer(ctx context.Context, config Config, logger zerolog.Logger, opts ...cache.Option) (*Container, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config: config,
		logger: logger.With().Str("component", "Container").Logger(),
	}
	if err := c.connect(ctx, logger); err != nil {
		return nil, err
	}

	rt, err := cache.New(c.store, config.Cache, logger, opts...)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.cache = rt

	c.logger.Info().Str("driver", config.Driver).Dur("ttl", config.Cache.TTL).Msg("Cache container ready.")
	return c, nil
}

// NewContainerWithDefaults creates a container using DefaultConfig.
func NewContainerWithDefaults(ctx context.Context, logger zerolog.Logger) (*Container, error) {
	return NewContainer(ctx, DefaultConfig(), logger)
}

func (c *Container) connect(ctx context.Context, logger zerolog.Logger) error {
	switch c.config.Driver {
	case DriverMemory:
		c.store = cacheinfra.NewMemoryStore()

	case DriverSQLite, DriverPostgres:
		db, err := repositorycache.Open(ctx, c.config.Driver, c.config.DSN)
		if err != nil {
			return err
		}
		c.db = db
		c.closers = append(c.closers, db.Close)
		c.store = repositorycache.NewFromDB(db, logger)

	case DriverRedis:
		s, err := cacheinfra.NewRedisStore(ctx, c.config.Redis, logger)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, s.Close)
		c.store = s

	case DriverFirestore:
		s, err := cacheinfra.NewFirestoreStore(ctx, c.config.Firestore, logger)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, s.Close)
		c.store = s

	default:
		return fmt.Errorf("unsupported driver %q", c.config.Driver)
	}
	return nil
}

// Cache returns the read-through cache.
func (c *Container) Cache() *cache.ReadThrough {
	return c.cache
}

// Store returns the record store backing the cache.
func (c *Container) Store() cache.Store {
	return c.store
}

// DB returns the bun database for relational drivers and nil otherwise.
func (c *Container) DB() *bun.DB {
	return c.db
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() Config {
	return c.config
}

// Migrate creates the relational schema. It is a no-op for other drivers.
func (c *Container) Migrate(ctx context.Context) error {
	if c.db == nil {
		c.logger.Debug().Str("driver", c.config.Driver).Msg("No schema to migrate.")
		return nil
	}
	return repositorycache.Migrate(ctx, c.db)
}

// Close releases every connection the container opened.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
