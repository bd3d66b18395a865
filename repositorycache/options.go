package repositorycache

import (
	"log/slog"
	"runtime"

	"github.com/goliatone/go-record-cache/cache"
	"github.com/goliatone/go-record-cache/future"
)

type options struct {
	cache         cache.CacheService
	cacheConfig   cache.Config
	keySerializer cache.KeySerializer
	executor      future.Executor
	logger        *slog.Logger
	namespace     string
	flushWorkers  int
}

// Option configures a record service.
type Option func(*options)

// WithCacheService shares an existing cache. Services sharing one cache must
// use distinct namespaces.
func WithCacheService(svc cache.CacheService) Option {
	return func(o *options) {
		o.cache = svc
	}
}

// WithCacheConfig sets the configuration used when the service builds its own cache.
func WithCacheConfig(cfg cache.Config) Option {
	return func(o *options) {
		o.cacheConfig = cfg
	}
}

// WithKeySerializer overrides how record keys become cache keys.
func WithKeySerializer(s cache.KeySerializer) Option {
	return func(o *options) {
		o.keySerializer = s
	}
}

// WithExecutor sets where repository work runs.
func WithExecutor(exec future.Executor) Option {
	return func(o *options) {
		o.executor = exec
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithNamespace sets the cache namespace. It defaults to the snake_cased
// record type name.
func WithNamespace(namespace string) Option {
	return func(o *options) {
		o.namespace = namespace
	}
}

// WithFlushWorkers bounds how many saves EnsureSaved runs at once.
func WithFlushWorkers(n int) Option {
	return func(o *options) {
		o.flushWorkers = n
	}
}

func buildOptions[D any](opts []Option, withCache bool) (options, error) {
	o := options{cacheConfig: cache.DefaultConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	if withCache && o.cache == nil {
		svc, err := cache.NewCacheService(o.cacheConfig)
		if err != nil {
			return options{}, err
		}
		o.cache = svc
	}
	if o.keySerializer == nil {
		o.keySerializer = cache.NewDefaultKeySerializer()
	}
	if o.executor == nil {
		o.executor = future.NewPool(o.cacheConfig.Workers)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.namespace == "" {
		o.namespace = namespaceFor[D]()
	}
	if o.flushWorkers <= 0 {
		o.flushWorkers = max(o.cacheConfig.Workers, runtime.GOMAXPROCS(0))
	}
	return o, nil
}
