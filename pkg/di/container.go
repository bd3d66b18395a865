package di

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goliatone/go-record-cache/cache"
	"github.com/goliatone/go-record-cache/future"
	"github.com/goliatone/go-record-cache/repositorycache"
)

// Container provides dependency injection for record services.
// It owns the shared cache, key serializer, executor and Manager, and
// registers every service it builds with the Manager.
type Container struct {
	cacheService  cache.CacheService
	keySerializer cache.KeySerializer
	executor      *future.Pool
	logger        *slog.Logger
	manager       *Manager
	config        cache.Config
}

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger handed to every service.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithKeySerializer replaces the default key serializer.
func WithKeySerializer(s cache.KeySerializer) Option {
	return func(c *Container) {
		if s != nil {
			c.keySerializer = s
		}
	}
}

// NewContainer creates a new DI container with the provided cache configuration.
func NewContainer(config cache.Config, opts ...Option) (*Container, error) {
	cacheService, err := cache.NewCacheService(config)
	if err != nil {
		return nil, err
	}

	c := &Container{
		cacheService:  cacheService,
		keySerializer: cache.NewDefaultKeySerializer(),
		executor:      future.NewPool(config.Workers),
		logger:        slog.Default(),
		config:        config,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.manager = NewManager(c.logger)
	return c, nil
}

// NewContainerWithDefaults creates a new DI container using default configuration.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(cache.DefaultConfig(), opts...)
}

// NewContainerFromEnv creates a container configured from environment
// variables with the given prefix.
func NewContainerFromEnv(prefix string, opts ...Option) (*Container, error) {
	config, err := cache.LoadConfigFromEnv(prefix)
	if err != nil {
		return nil, err
	}
	return NewContainer(config, opts...)
}

// CacheService returns the shared cache.
func (c *Container) CacheService() cache.CacheService {
	return c.cacheService
}

// KeySerializer returns the shared key serializer.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

// Executor returns the worker pool services run repository work on.
func (c *Container) Executor() *future.Pool {
	return c.executor
}

// Manager returns the manager every built service is registered with.
func (c *Container) Manager() *Manager {
	return c.manager
}

// Config returns a copy of the cache configuration used by this container.
func (c *Container) Config() cache.Config {
	return c.config
}

// Autosave runs the Manager's autosave loop at Config.AutosaveInterval until
// ctx is done. A zero interval disables autosaving.
func (c *Container) Autosave(ctx context.Context) error {
	if c.config.AutosaveInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	return c.manager.Autosave(ctx, c.config.AutosaveInterval)
}

func (c *Container) serviceOptions(extra []repositorycache.Option) []repositorycache.Option {
	opts := []repositorycache.Option{
		repositorycache.WithCacheConfig(c.config),
		repositorycache.WithCacheService(c.cacheService),
		repositorycache.WithKeySerializer(c.keySerializer),
		repositorycache.WithExecutor(c.executor),
		repositorycache.WithLogger(c.logger),
	}
	return append(opts, extra...)
}

// NewKeyedService builds a keyed record service on the container's shared
// infrastructure and registers it with the Manager under its namespace.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
func NewKeyedService[K comparable, Q repositorycache.Query[K], D, O any](
	c *Container,
	translator repositorycache.Translator[D, O],
	repo repositorycache.KeyedRepository[K, Q, O],
	opts ...repositorycache.Option,
) (*repositorycache.KeyedService[K, Q, D], error) {
	svc, err := repositorycache.NewKeyedService[K, Q, D, O](translator, repo, c.serviceOptions(opts)...)
	if err != nil {
		return nil, err
	}
	if err := c.manager.Register(svc.Namespace(), svc); err != nil {
		return nil, fmt.Errorf("register %s: %w", svc.Namespace(), err)
	}
	return svc, nil
}

// NewSingleService builds a single-record service and registers it with the
// Manager under name.
func NewSingleService[D, O any](
	c *Container,
	name string,
	translator repositorycache.Translator[D, O],
	repo repositorycache.SingleRepository[O],
	opts ...repositorycache.Option,
) (*repositorycache.SingleService[D], error) {
	svc, err := repositorycache.NewSingleService[D, O](translator, repo, c.serviceOptions(opts)...)
	if err != nil {
		return nil, err
	}
	if err := c.manager.Register(name, svc); err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	return svc, nil
}
