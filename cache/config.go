package cache

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DefaultTTL is the staleness threshold applied to every subject and source.
// 24h is the contract value; other values are for operators and tests.
const DefaultTTL = 24 * time.Hour

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	// TTL is how long an entry is served without refetching. An entry is fresh
	// while now - UpdatedAt <= TTL. Leave it at DefaultTTL unless an operator or
	// a test needs a different window.
	TTL time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL: DefaultTTL,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Millisecond)),
	)
}
