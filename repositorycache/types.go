package repositorycache

import (
	"context"

	"github.com/goliatone/go-record-cache/future"
)

// Translator maps between an in-memory record D and its on-wire form O.
// Implementations are pure: no I/O and no shared state.
type Translator[D, O any] interface {
	CreateNew() D
	FromWire(wire O) (D, error)
	ToWire(record D) (O, error)
}

// Query is an immutable filter over keys and/or record attributes.
type Query[K comparable] interface {
	Keys() []K
	// RestrictedToKeys reports whether the query is equivalent to a plain
	// key restriction.
	RestrictedToKeys() bool
}

// KeyedRepository is the persistence backend of a KeyedService.
// Each per-key operation is expected to be atomic.
type KeyedRepository[K comparable, Q Query[K], O any] interface {
	Get(ctx context.Context, key K) (O, bool, error)
	GetQuery(ctx context.Context, q Q) (KeyedObject[K, O], bool, error)
	GetAll(ctx context.Context, q Q) (map[K]O, error)
	Exists(ctx context.Context, key K) (bool, error)
	Count(ctx context.Context, q Q) (int, error)
	Save(ctx context.Context, key K, wire O) error
	Delete(ctx context.Context, key K) error
	ClearCache(ctx context.Context) error
	Shutdown(ctx context.Context) error
	SupportsNonPrimaryKeyQueries() bool
}

// SingleRepository is the persistence backend of a SingleService.
type SingleRepository[O any] interface {
	Get(ctx context.Context) (O, bool, error)
	Save(ctx context.Context, wire O) error
	// HasCache reports whether the backend keeps its own cache worth clearing.
	HasCache() bool
	ClearCache(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// KeyedObject pairs a key with the value a query resolved for it.
type KeyedObject[K comparable, D any] struct {
	Key   K
	Value D
}

// MapKeyedObject converts the value of obj, keeping its key.
func MapKeyedObject[K comparable, A, B any](obj KeyedObject[K, A], fn func(A) (B, error)) (KeyedObject[K, B], error) {
	value, err := fn(obj.Value)
	if err != nil {
		return KeyedObject[K, B]{}, err
	}
	return KeyedObject[K, B]{Key: obj.Key, Value: value}, nil
}

// Optional is a value that may be absent.
type Optional[T any] struct {
	Value   T
	Present bool
}

// Some wraps a present value.
func Some[T any](value T) Optional[T] {
	return Optional[T]{Value: value, Present: true}
}

// None returns an absent value.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Present
}

// OrElse returns the value, or fallback when absent.
func (o Optional[T]) OrElse(fallback T) T {
	if o.Present {
		return o.Value
	}
	return fallback
}

// Service is what every record service offers to checkpoint code.
type Service interface {
	// EnsureSaved flushes everything that may owe a write.
	EnsureSaved(ctx context.Context) *future.Future[struct{}]
	// ClearCache drops cached state without flushing it first.
	ClearCache(ctx context.Context) *future.Future[struct{}]
	// Shutdown flushes, clears and releases the backend.
	Shutdown(ctx context.Context) error
}

// Keyed is a record service addressed by key.
type Keyed[K comparable, Q Query[K], D any] interface {
	Service
	CreateNew() D
	SupportsNonPrimaryKeyQueries() bool
	Get(ctx context.Context, key K) *future.Future[Optional[D]]
	GetSync(ctx context.Context, key K) (D, bool, error)
	GetOrNew(ctx context.Context, key K) *future.Future[D]
	GetOrNewSync(ctx context.Context, key K) (D, error)
	GetQuery(ctx context.Context, q Q) *future.Future[Optional[KeyedObject[K, D]]]
	GetAll(ctx context.Context, q Q) *future.Future[map[K]D]
	Exists(ctx context.Context, key K) *future.Future[bool]
	ExistsQuery(ctx context.Context, q Q) *future.Future[bool]
	Count(ctx context.Context, q Q) *future.Future[int]
	Save(ctx context.Context, key K, value D) *future.Future[struct{}]
	Delete(ctx context.Context, key K) *future.Future[struct{}]
}

// Single is a record service for one well-known record.
type Single[D any] interface {
	Service
	CreateNew() D
	Get(ctx context.Context) *future.Future[Optional[D]]
	GetSync(ctx context.Context) (D, bool, error)
	GetOrNew(ctx context.Context) *future.Future[D]
	GetOrNewSync(ctx context.Context) (D, error)
	Save(ctx context.Context, value D) *future.Future[struct{}]
}

// SingleCached is a Single service that exposes its cached slot.
type SingleCached[D any] interface {
	Single[D]
	// Reload re-fetches the record, replacing the cached value only on success.
	Reload(ctx context.Context) *future.Future[struct{}]
	// SaveCached persists the cached value, if any.
	SaveCached(ctx context.Context) *future.Future[struct{}]
	// GetCached returns the cached value without I/O.
	GetCached() (D, bool)
}
