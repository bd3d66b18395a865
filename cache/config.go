package cache

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-record-cache/internal/cacheinfra"
)

// DefaultEnvPrefix is the environment prefix used by LoadConfigFromEnv when none is given.
const DefaultEnvPrefix = "RECORD_CACHE_"

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Capacity           int           `env:"CAPACITY"`
	NumShards          int           `env:"NUM_SHARDS"`
	IdleTimeout        time.Duration `env:"IDLE_TIMEOUT"`
	EvictionPercentage int           `env:"EVICTION_PERCENTAGE"`
	EvictionInterval   time.Duration `env:"EVICTION_INTERVAL"`

	// Workers bounds how many repository operations run at once.
	Workers int `env:"WORKERS"`

	// AutosaveInterval drives the periodic flush checkpoint. Zero disables it.
	AutosaveInterval time.Duration `env:"AUTOSAVE_INTERVAL"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	cfg := convertFromInternal(cacheinfra.DefaultConfig())
	cfg.Workers = 8
	cfg.AutosaveInterval = 5 * time.Minute
	return cfg
}

// LoadConfigFromEnv starts from DefaultConfig and overrides any field that has
// a matching environment variable, e.g. RECORD_CACHE_IDLE_TIMEOUT=2m.
func LoadConfigFromEnv(prefix string) (Config, error) {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}

	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if err := c.toInternal().Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1)),
		validation.Field(&c.AutosaveInterval, validation.Min(time.Duration(0))),
	)
}

// NewCacheService constructs the default cache service implementation using the provided configuration.
func NewCacheService(cfg Config) (CacheService, error) {
	return cacheinfra.NewSturdycService(cfg.toInternal())
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		IdleTimeout:        c.IdleTimeout,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		IdleTimeout:        cfg.IdleTimeout,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
