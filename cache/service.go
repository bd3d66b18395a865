package cache

import (
	"context"
	"errors"
)

// ErrInvalidResultType is returned by Lookup when the cached value is not of the requested type.
var ErrInvalidResultType = errors.New("cache: cached value has unexpected type")

// KeySerializer builds a cache key from a namespace and a record key.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(namespace string, key any) string
}

// CacheService is the string-keyed store record services keep their entries in.
// Reads count as access: implementations must reset the idle deadline of an
// entry returned by Get.
type CacheService interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Keys(ctx context.Context) []string
}

// Lookup is a type-safe wrapper around CacheService.Get.
func Lookup[T any](ctx context.Context, service CacheService, key string) (T, bool, error) {
	var zero T

	result, ok := service.Get(ctx, key)
	if !ok {
		return zero, false, nil
	}
	if result == nil {
		// a nil interface stored for an interface or pointer T is still a hit
		return zero, true, nil
	}

	typed, ok := result.(T)
	if !ok {
		return zero, false, ErrInvalidResultType
	}
	return typed, true, nil
}

// Prefix returns the key prefix shared by every entry of namespace.
func Prefix(namespace string) string {
	return namespace + KeySeparator
}
