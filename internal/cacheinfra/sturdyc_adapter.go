package cacheinfra

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc cache adapter.
type Config struct {
	// Capacity defines the maximum number of entries that the cache can store.
	// It is a safety valve, not an eviction policy: idle timeout is the
	// intended bound on growth.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	NumShards int

	// IdleTimeout is how long an entry survives without being read or written.
	// Every access pushes the deadline forward.
	IdleTimeout time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often expired entries are swept.
	// Zero value uses the sturdyc default.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with the defaults used by record services.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		IdleTimeout:        5 * time.Minute,
		EvictionPercentage: 10,
		EvictionInterval:   0,
	}
}

// ToSturdycOptions converts the optional parts of Config to sturdyc options.
// Capacity, NumShards, IdleTimeout and EvictionPercentage go straight to sturdyc.New.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are valid.
// The returned error is a validation.Errors keyed by field name.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.IdleTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0))),
	)
}

// lockStripes is the number of key stripes ordering touches against deletes.
const lockStripes = 64

// sturdycService wraps a sturdyc client. Reads refresh the entry so the
// sturdyc TTL behaves as an idle timeout.
type sturdycService struct {
	// stripes order a touch against a delete of the same key so an
	// invalidated key is never written back by a concurrent read. Keys on
	// different stripes do not contend.
	stripes [lockStripes]sync.Mutex
	client  *sturdyc.Client[any]
}

// NewSturdycService creates a new sturdyc cache service adapter.
func NewSturdycService(cfg Config) (*sturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.IdleTimeout,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &sturdycService{client: client}, nil
}

func (s *sturdycService) stripe(key string) *sync.Mutex {
	return &s.stripes[xxhash.Sum64String(key)%lockStripes]
}

// Get returns the cached value for key and resets its idle deadline.
func (s *sturdycService) Get(ctx context.Context, key string) (any, bool) {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	value, ok := s.client.Get(key)
	if !ok {
		return nil, false
	}
	s.client.Set(key, value)
	return value, true
}

// Set stores value under key with a fresh idle deadline.
func (s *sturdycService) Set(ctx context.Context, key string, value any) error {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	s.client.Set(key, value)
	return nil
}

// Delete removes a single entry from the cache.
func (s *sturdycService) Delete(ctx context.Context, key string) error {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes every entry whose key starts with prefix. Entries
// set after the scan are kept.
func (s *sturdycService) DeleteByPrefix(ctx context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			_ = s.Delete(ctx, key)
		}
	}
	return nil
}

// Keys lists the keys currently held, including ones that expired but were
// not swept yet.
func (s *sturdycService) Keys(ctx context.Context) []string {
	return s.client.ScanKeys()
}
