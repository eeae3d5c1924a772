package di

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-smartcache/cache"
	"github.com/goliatone/go-smartcache/internal/cacheinfra"
	"github.com/goliatone/go-smartcache/repositorycache"
	"github.com/joho/godotenv"
)

// Record store drivers understood by NewContainer.
const (
	DriverMemory    = "memory"
	DriverSQLite    = repositorycache.DriverSQLite
	DriverPostgres  = repositorycache.DriverPostgres
	DriverRedis     = "redis"
	DriverFirestore = "firestore"
)

// EnvPrefix prefixes every environment variable read by ConfigFromEnv.
const EnvPrefix = "SMARTCACHE_"

// Config selects and configures the record store and the cache on top of it.
type Config struct {
	// Driver is one of the Driver* constants.
	Driver string
	// DSN is the connection string for the relational drivers.
	DSN       string
	Redis     cacheinfra.RedisConfig
	Firestore cacheinfra.FirestoreConfig
	Cache     cache.Config
}

// DefaultConfig returns a Config backed by a local sqlite file.
func DefaultConfig() Config {
	return Config{
		Driver:    DriverSQLite,
		DSN:       "file:smartcache.db?cache=shared",
		Redis:     cacheinfra.DefaultRedisConfig(),
		Firestore: cacheinfra.DefaultFirestoreConfig(),
		Cache:     cache.DefaultConfig(),
	}
}

// Relational reports whether the driver stores rows through bun.
func (c Config) Relational() bool {
	return c.Driver == DriverSQLite || c.Driver == DriverPostgres
}

// Validate checks the driver and the settings it needs.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required,
			validation.In(DriverMemory, DriverSQLite, DriverPostgres, DriverRedis, DriverFirestore)),
		validation.Field(&c.DSN, validation.When(c.Relational(), validation.Required)),
		validation.Field(&c.Redis, validation.Skip.When(c.Driver != DriverRedis)),
		validation.Field(&c.Firestore, validation.Skip.When(c.Driver != DriverFirestore)),
		validation.Field(&c.Cache),
	)
}

// ConfigFromEnv starts from DefaultConfig and overrides it with SMARTCACHE_*
// variables. Values come from the process environment first, then from the
// given dotenv files. Without files an optional ./.env is read. The process
// environment is never modified.
//
//	SMARTCACHE_DRIVER, SMARTCACHE_DSN, SMARTCACHE_TTL,
//	SMARTCACHE_REDIS_ADDR, SMARTCACHE_REDIS_PASSWORD, SMARTCACHE_REDIS_DB, SMARTCACHE_REDIS_PREFIX,
//	SMARTCACHE_FIRESTORE_PROJECT, SMARTCACHE_FIRESTORE_COLLECTION
func ConfigFromEnv(files ...string) (Config, error) {
	fileVars, err := readEnvFiles(files)
	if err != nil {
		return Config{}, err
	}
	lookup := func(name string) (string, bool) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			return v, true
		}
		v, ok := fileVars[EnvPrefix+name]
		return v, ok
	}

	cfg := DefaultConfig()
	setString(lookup, "DRIVER", &cfg.Driver)
	setString(lookup, "DSN", &cfg.DSN)
	setString(lookup, "REDIS_ADDR", &cfg.Redis.Addr)
	setString(lookup, "REDIS_PASSWORD", &cfg.Redis.Password)
	setString(lookup, "REDIS_PREFIX", &cfg.Redis.Prefix)
	setString(lookup, "FIRESTORE_PROJECT", &cfg.Firestore.ProjectID)
	setString(lookup, "FIRESTORE_COLLECTION", &cfg.Firestore.Collection)

	if v, ok := lookup("TTL"); ok && v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%sTTL: %w", EnvPrefix, err)
		}
		cfg.Cache.TTL = ttl
	}
	if v, ok := lookup("REDIS_DB"); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%sREDIS_DB: %w", EnvPrefix, err)
		}
		cfg.Redis.DB = db
	}
	return cfg, nil
}

func setString(lookup func(string) (string, bool), name string, dst *string) {
	if v, ok := lookup(name); ok && v != "" {
		*dst = v
	}
}

func readEnvFiles(files []string) (map[string]string, error) {
	if len(files) > 0 {
		vars, err := godotenv.Read(files...)
		if err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
		return vars, nil
	}

	vars, err := godotenv.Read()
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return vars, nil
}
