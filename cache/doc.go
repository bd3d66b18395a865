// Package cache provides the cache backend and key serialization used by the
// record services in repositorycache.
//
// # Overview
//
// This package exports two main interfaces and their default implementations:
//
//   - CacheService: a string-keyed store whose reads refresh an idle deadline
//   - KeySerializer: builds stable cache keys from a namespace and a record key
//
// The default CacheService is backed by sturdyc. Entries expire after
// Config.IdleTimeout without access (5 minutes by default); there is no other
// eviction besides the Capacity safety valve.
//
// # Basic Usage
//
//	cfg := cache.DefaultConfig()
//	svc, err := cache.NewCacheService(cfg)
//	if err != nil {
//		return err
//	}
//
//	serializer := cache.NewDefaultKeySerializer()
//	key := serializer.SerializeKey("players", playerID)
//	_ = svc.Set(ctx, key, record)
//
//	rec, ok, err := cache.Lookup[*Player](ctx, svc, key)
//
// # Namespaces
//
// One CacheService is usually shared by several record services. Each service
// owns a namespace and every key it produces starts with Prefix(namespace), so
// clearing one service is a DeleteByPrefix call that leaves the others alone.
//
// # Configuration
//
// Config can be loaded from the environment with LoadConfigFromEnv:
//
//	RECORD_CACHE_IDLE_TIMEOUT=2m
//	RECORD_CACHE_WORKERS=16
//	RECORD_CACHE_AUTOSAVE_INTERVAL=10m
//
// Validation errors are ozzo-validation Errors keyed by field name.
package cache
