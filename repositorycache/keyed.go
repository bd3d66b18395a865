package repositorycache

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-record-cache/cache"
	"github.com/goliatone/go-record-cache/future"
	"github.com/goliatone/go-record-cache/internal/logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Interface assertion to ensure KeyedService implements Keyed
var _ Keyed[string, Query[string], any] = (*KeyedService[string, Query[string], any])(nil)

// keyedBackend is the part of a KeyedRepository that does not depend on the
// wire type, so the service can drop O from its type parameters.
type keyedBackend[K comparable, Q Query[K]] interface {
	Exists(ctx context.Context, key K) (bool, error)
	Count(ctx context.Context, q Q) (int, error)
	Delete(ctx context.Context, key K) error
	ClearCache(ctx context.Context) error
	Shutdown(ctx context.Context) error
	SupportsNonPrimaryKeyQueries() bool
}

// Stats is a point-in-time view of a service's counters.
type Stats struct {
	Hits         int64
	Misses       int64
	Fetches      int64
	Saves        int64
	SaveFailures int64
	Dirty        int
	// Cached counts entries held under the service namespace, including
	// expired ones not swept yet.
	Cached int
}

// entry is what a service stores in the cache. Keeping the record key next to
// the record lets a lookup reject a slot that another key serialized to.
type entry[K comparable, D any] struct {
	key    K
	record D
}

// dynamicKey wraps keys of interface type so the serializer sees the dynamic
// type and 1 and "1" stay distinct.
type dynamicKey struct {
	value any
}

type counters struct {
	hits, misses, fetches, saves, saveFailures atomic.Int64
}

// KeyedService is a cache-aside, write-through façade over a KeyedRepository.
//
// Records are returned by reference: the instance handed out by Get is the one
// the cache holds, and callers mutate it in place. Because such mutation cannot
// be observed, every read that yields a record marks its key dirty and
// EnsureSaved re-saves all dirty keys that are still cached.
type KeyedService[K comparable, Q Query[K], D any] struct {
	createNew  func() D
	fetch      func(ctx context.Context, key K) (D, bool, error)
	fetchQuery func(ctx context.Context, q Q) (KeyedObject[K, D], bool, error)
	fetchAll   func(ctx context.Context, q Q) (map[K]D, error)
	store      func(ctx context.Context, key K, value D) error
	repo       keyedBackend[K, Q]

	cache         cache.CacheService
	keySerializer cache.KeySerializer
	namespace     string
	executor      future.Executor
	logger        *slog.Logger
	flushWorkers  int
	dynamicKeys   bool

	dirty  *dirtySet[K]
	locks  *keyLocks[K]
	gens   generations
	loads  singleflight.Group
	stats  counters
	closed atomic.Bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewKeyedService builds a KeyedService over repo, translating records with translator.
func NewKeyedService[K comparable, Q Query[K], D, O any](
	translator Translator[D, O],
	repo KeyedRepository[K, Q, O],
	opts ...Option,
) (*KeyedService[K, Q, D], error) {
	if translator == nil {
		return nil, errors.New("repositorycache: translator is required")
	}
	if repo == nil {
		return nil, errors.New("repositorycache: repository is required")
	}

	o, err := buildOptions[D](opts, true)
	if err != nil {
		return nil, err
	}

	s := &KeyedService[K, Q, D]{
		createNew: translator.CreateNew,
		fetch: func(ctx context.Context, key K) (D, bool, error) {
			var zero D
			wire, ok, err := repo.Get(ctx, key)
			if err != nil || !ok {
				return zero, false, err
			}
			record, err := translator.FromWire(wire)
			if err != nil {
				return zero, false, err
			}
			return record, true, nil
		},
		fetchQuery: func(ctx context.Context, q Q) (KeyedObject[K, D], bool, error) {
			obj, ok, err := repo.GetQuery(ctx, q)
			if err != nil || !ok {
				return KeyedObject[K, D]{}, false, err
			}
			mapped, err := MapKeyedObject(obj, translator.FromWire)
			if err != nil {
				return KeyedObject[K, D]{}, false, err
			}
			return mapped, true, nil
		},
		fetchAll: func(ctx context.Context, q Q) (map[K]D, error) {
			wires, err := repo.GetAll(ctx, q)
			if err != nil {
				return nil, err
			}
			out := make(map[K]D, len(wires))
			for key, wire := range wires {
				record, err := translator.FromWire(wire)
				if err != nil {
					return nil, ioError("decode", key, err)
				}
				out[key] = record
			}
			return out, nil
		},
		store: func(ctx context.Context, key K, value D) error {
			wire, err := translator.ToWire(value)
			if err != nil {
				return err
			}
			return repo.Save(ctx, key, wire)
		},
		repo:          repo,
		cache:         o.cache,
		keySerializer: o.keySerializer,
		namespace:     o.namespace,
		executor:      o.executor,
		logger:        o.logger.With(slog.String("namespace", o.namespace)),
		flushWorkers:  o.flushWorkers,
		dynamicKeys:   reflect.TypeFor[K]().Kind() == reflect.Interface,
		dirty:         newDirtySet[K](),
		locks:         newKeyLocks[K](),
	}
	return s, nil
}

// Namespace returns the cache namespace of the service.
func (s *KeyedService[K, Q, D]) Namespace() string {
	return s.namespace
}

// CreateNew builds a default record. It does no I/O and does not touch the cache.
func (s *KeyedService[K, Q, D]) CreateNew() D {
	return s.createNew()
}

// SupportsNonPrimaryKeyQueries reports whether the repository can execute
// queries that are not restricted to keys.
func (s *KeyedService[K, Q, D]) SupportsNonPrimaryKeyQueries() bool {
	return s.repo.SupportsNonPrimaryKeyQueries()
}

// Get returns the record for key. A cache hit resolves immediately; a miss
// loads from the repository on the executor.
func (s *KeyedService[K, Q, D]) Get(ctx context.Context, key K) *future.Future[Optional[D]] {
	if s.closed.Load() {
		return future.Failed[Optional[D]](ErrServiceClosed)
	}
	if record, ok := s.cached(ctx, key); ok {
		return future.Resolved(Some(record))
	}
	return future.Go(ctx, s.executor, func(ctx context.Context) (Optional[D], error) {
		record, ok, err := s.load(ctx, key)
		if err != nil || !ok {
			return None[D](), err
		}
		return Some(record), nil
	})
}

// GetSync is the blocking form of Get. On a cold key it performs repository
// I/O on the calling goroutine.
func (s *KeyedService[K, Q, D]) GetSync(ctx context.Context, key K) (D, bool, error) {
	var zero D
	if s.closed.Load() {
		return zero, false, ErrServiceClosed
	}
	if record, ok := s.cached(ctx, key); ok {
		return record, true, nil
	}
	return s.load(ctx, key)
}

// GetOrNew returns the record for key, creating and saving a default record
// when none exists.
func (s *KeyedService[K, Q, D]) GetOrNew(ctx context.Context, key K) *future.Future[D] {
	if s.closed.Load() {
		return future.Failed[D](ErrServiceClosed)
	}
	if record, ok := s.cached(ctx, key); ok {
		return future.Resolved(record)
	}
	return future.Go(ctx, s.executor, func(ctx context.Context) (D, error) {
		return s.getOrNew(ctx, key)
	})
}

// GetOrNewSync is the blocking form of GetOrNew.
func (s *KeyedService[K, Q, D]) GetOrNewSync(ctx context.Context, key K) (D, error) {
	if s.closed.Load() {
		var zero D
		return zero, ErrServiceClosed
	}
	if record, ok := s.cached(ctx, key); ok {
		return record, nil
	}
	return s.getOrNew(ctx, key)
}

func (s *KeyedService[K, Q, D]) getOrNew(ctx context.Context, key K) (D, error) {
	record, ok, err := s.load(ctx, key)
	if err != nil {
		var zero D
		return zero, err
	}
	if ok {
		return record, nil
	}

	record = s.createNew()
	if err := s.save(ctx, key, record); err != nil {
		var zero D
		return zero, err
	}
	s.log(ctx).Debug("created record", slog.Any("key", key))
	return record, nil
}

// GetQuery returns the single record located by q.
func (s *KeyedService[K, Q, D]) GetQuery(ctx context.Context, q Q) *future.Future[Optional[KeyedObject[K, D]]] {
	if s.closed.Load() {
		return future.Failed[Optional[KeyedObject[K, D]]](ErrServiceClosed)
	}
	if err := checkQuery[K]("get", q, s.repo.SupportsNonPrimaryKeyQueries()); err != nil {
		return future.Failed[Optional[KeyedObject[K, D]]](err)
	}
	return future.Go(ctx, s.executor, func(ctx context.Context) (Optional[KeyedObject[K, D]], error) {
		s.stats.fetches.Add(1)
		fetchedAt := s.gens.snapshot()
		obj, ok, err := s.fetchQuery(ctx, q)
		if err != nil {
			return None[KeyedObject[K, D]](), ioError("get query", nil, err)
		}
		if !ok {
			return None[KeyedObject[K, D]](), nil
		}
		obj.Value = s.remember(ctx, obj.Key, obj.Value, fetchedAt)
		return Some(obj), nil
	})
}

// GetAll returns every record matching q. Each result is cached and marked
// dirty; a key that is already cached yields the cached instance.
func (s *KeyedService[K, Q, D]) GetAll(ctx context.Context, q Q) *future.Future[map[K]D] {
	if s.closed.Load() {
		return future.Failed[map[K]D](ErrServiceClosed)
	}
	if err := checkQuery[K]("get all", q, s.repo.SupportsNonPrimaryKeyQueries()); err != nil {
		return future.Failed[map[K]D](err)
	}
	return future.Go(ctx, s.executor, func(ctx context.Context) (map[K]D, error) {
		s.stats.fetches.Add(1)
		fetchedAt := s.gens.snapshot()
		records, err := s.fetchAll(ctx, q)
		if err != nil {
			return nil, ioError("get all", nil, err)
		}
		for key, record := range records {
			records[key] = s.remember(ctx, key, record, fetchedAt)
		}
		return records, nil
	})
}

// Exists asks the repository directly; an unsaved cached record is not seen.
func (s *KeyedService[K, Q, D]) Exists(ctx context.Context, key K) *future.Future[bool] {
	if s.closed.Load() {
		return future.Failed[bool](ErrServiceClosed)
	}
	return future.Go(ctx, s.executor, func(ctx context.Context) (bool, error) {
		ok, err := s.repo.Exists(ctx, key)
		if err != nil {
			return false, ioError("exists", key, err)
		}
		return ok, nil
	})
}

// ExistsQuery reports whether q matches at least one record.
func (s *KeyedService[K, Q, D]) ExistsQuery(ctx context.Context, q Q) *future.Future[bool] {
	return future.Then(s.Count(ctx, q), func(n int) (bool, error) {
		return n > 0, nil
	})
}

// Count returns how many records match q, straight from the repository.
func (s *KeyedService[K, Q, D]) Count(ctx context.Context, q Q) *future.Future[int] {
	if s.closed.Load() {
		return future.Failed[int](ErrServiceClosed)
	}
	if err := checkQuery[K]("count", q, s.repo.SupportsNonPrimaryKeyQueries()); err != nil {
		return future.Failed[int](err)
	}
	return future.Go(ctx, s.executor, func(ctx context.Context) (int, error) {
		n, err := s.repo.Count(ctx, q)
		if err != nil {
			return 0, ioError("count", nil, err)
		}
		return n, nil
	})
}

// Save writes value through to the repository, then caches it and clears the
// key's dirty flag. A failed write leaves cache and dirty state untouched.
func (s *KeyedService[K, Q, D]) Save(ctx context.Context, key K, value D) *future.Future[struct{}] {
	if s.closed.Load() {
		return future.Failed[struct{}](ErrServiceClosed)
	}
	return future.Go(ctx, s.executor, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.save(ctx, key, value)
	})
}

// Delete removes the record from the repository and invalidates its cache
// entry. The dirty flag is left for the next flush, which will skip the key.
func (s *KeyedService[K, Q, D]) Delete(ctx context.Context, key K) *future.Future[struct{}] {
	if s.closed.Load() {
		return future.Failed[struct{}](ErrServiceClosed)
	}
	return future.Go(ctx, s.executor, func(ctx context.Context) (struct{}, error) {
		unlock := s.locks.lock(key)
		defer unlock()

		s.gens.bump(s.cacheKey(key))
		if err := s.repo.Delete(ctx, key); err != nil {
			return struct{}{}, ioError("delete", key, err)
		}
		if err := s.cache.Delete(ctx, s.cacheKey(key)); err != nil {
			return struct{}{}, err
		}
		s.log(ctx).Debug("deleted record", slog.Any("key", key))
		return struct{}{}, nil
	})
}

// EnsureSaved re-saves every dirty key that is still cached and drops dirty
// keys that are not. Keys marked after the snapshot wait for the next call.
// Failed keys stay dirty; all failures are joined into the returned error.
func (s *KeyedService[K, Q, D]) EnsureSaved(ctx context.Context) *future.Future[struct{}] {
	return future.Go(ctx, s.executor, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.flush(ctx)
	})
}

func (s *KeyedService[K, Q, D]) flush(ctx context.Context) error {
	keys := s.dirty.snapshot()
	if len(keys) == 0 {
		return nil
	}

	var (
		g     errgroup.Group
		mu    sync.Mutex
		errs  []error
		saved atomic.Int64
	)
	g.SetLimit(s.flushWorkers)

	for _, key := range keys {
		g.Go(func() error {
			ok, err := s.flushKey(ctx, key)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			if ok {
				saved.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	logger := s.log(ctx)
	if err != nil {
		logger.Warn("flush incomplete",
			slog.Int64("saved", saved.Load()),
			slog.Int("failed", len(errs)),
			logging.Err(err),
		)
		return err
	}
	logger.Debug("flushed dirty records", slog.Int64("saved", saved.Load()))
	return nil
}

// flushKey writes the record cached for key if the key is still dirty, and
// drops the flag of a key that is no longer cached. It holds the key lock, so
// a Save that completed first is never overwritten with an older instance.
func (s *KeyedService[K, Q, D]) flushKey(ctx context.Context, key K) (bool, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	if !s.dirty.contains(key) {
		return false, nil
	}
	record, ok := s.peek(ctx, key)
	if !ok {
		s.dirty.clear(key)
		return false, nil
	}

	// cleared before the write so a read during it marks the key again
	s.dirty.clear(key)
	if err := s.store(ctx, key, record); err != nil {
		s.dirty.mark(key)
		s.stats.saveFailures.Add(1)
		return false, ioError("save", key, err)
	}
	s.stats.saves.Add(1)
	return true, nil
}

// ClearCache drops every cached record of this service without flushing and
// asks the repository to clear its own cache. Call EnsureSaved first to keep
// pending changes.
func (s *KeyedService[K, Q, D]) ClearCache(ctx context.Context) *future.Future[struct{}] {
	if err := s.cache.DeleteByPrefix(ctx, cache.Prefix(s.namespace)); err != nil {
		return future.Failed[struct{}](err)
	}
	return future.Go(ctx, s.executor, func(ctx context.Context) (struct{}, error) {
		if err := s.repo.ClearCache(ctx); err != nil {
			return struct{}{}, ioError("clear cache", nil, err)
		}
		return struct{}{}, nil
	})
}

// Shutdown flushes, clears the cache and shuts the repository down. Later
// calls return the first result; operations after Shutdown fail with
// ErrServiceClosed.
func (s *KeyedService[K, Q, D]) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.closed.Store(true)
		flushErr := s.flush(ctx)
		_, clearErr := s.ClearCache(ctx).Await(ctx)
		shutdownErr := s.repo.Shutdown(ctx)
		if shutdownErr != nil {
			shutdownErr = ioError("shutdown", nil, shutdownErr)
		}
		s.shutdownErr = errors.Join(flushErr, clearErr, shutdownErr)
	})
	return s.shutdownErr
}

// IsDirty reports whether key is waiting for the next flush.
func (s *KeyedService[K, Q, D]) IsDirty(key K) bool {
	return s.dirty.contains(key)
}

// Stats returns the service counters.
func (s *KeyedService[K, Q, D]) Stats() Stats {
	return Stats{
		Hits:         s.stats.hits.Load(),
		Misses:       s.stats.misses.Load(),
		Fetches:      s.stats.fetches.Load(),
		Saves:        s.stats.saves.Load(),
		SaveFailures: s.stats.saveFailures.Load(),
		Dirty:        s.dirty.size(),
		Cached:       s.cachedEntries(),
	}
}

func (s *KeyedService[K, Q, D]) cachedEntries() int {
	prefix := cache.Prefix(s.namespace)
	n := 0
	for _, key := range s.cache.Keys(context.Background()) {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n
}

// cached returns a cached record and marks its key dirty.
func (s *KeyedService[K, Q, D]) cached(ctx context.Context, key K) (D, bool) {
	record, ok := s.peek(ctx, key)
	if !ok {
		s.stats.misses.Add(1)
		return record, false
	}
	s.stats.hits.Add(1)
	s.dirty.mark(key)
	return record, true
}

// peek reads the cache without touching dirty state. A slot holding another
// key's record is a miss.
func (s *KeyedService[K, Q, D]) peek(ctx context.Context, key K) (D, bool) {
	var zero D
	e, ok, err := cache.Lookup[entry[K, D]](ctx, s.cache, s.cacheKey(key))
	if err != nil {
		s.log(ctx).Warn("dropping cache entry of unexpected type", slog.Any("key", key), logging.Err(err))
		_ = s.cache.Delete(ctx, s.cacheKey(key))
		return zero, false
	}
	if !ok {
		return zero, false
	}
	if e.key != key {
		s.log(ctx).Warn("cache key collision", slog.Any("key", key), slog.Any("holder", e.key))
		return zero, false
	}
	return e.record, true
}

func (s *KeyedService[K, Q, D]) put(ctx context.Context, key K, record D) error {
	return s.cache.Set(ctx, s.cacheKey(key), entry[K, D]{key: key, record: record})
}

// load fetches key from the repository under the key lock so a concurrent
// save cannot be overwritten by an older read. Concurrent misses share one
// fetch.
func (s *KeyedService[K, Q, D]) load(ctx context.Context, key K) (D, bool, error) {
	result, err, _ := s.loads.Do(s.cacheKey(key), func() (any, error) {
		return s.loadLocked(ctx, key)
	})
	if err == nil && result.(loaded[K, D]).key != key {
		// another key serialized to the same slot and won the flight
		result, err = s.loadLocked(ctx, key)
	}

	var zero D
	if err != nil {
		return zero, false, err
	}
	res := result.(loaded[K, D])
	if !res.found {
		return zero, false, nil
	}
	s.dirty.mark(key)
	return res.record, true, nil
}

type loaded[K comparable, D any] struct {
	key    K
	record D
	found  bool
}

func (s *KeyedService[K, Q, D]) loadLocked(ctx context.Context, key K) (loaded[K, D], error) {
	unlock := s.locks.lock(key)
	defer unlock()

	// a save may have landed while we waited for the lock
	if record, ok := s.peek(ctx, key); ok {
		return loaded[K, D]{key: key, record: record, found: true}, nil
	}

	s.stats.fetches.Add(1)
	record, ok, err := s.fetch(ctx, key)
	if err != nil {
		return loaded[K, D]{}, ioError("get", key, err)
	}
	if !ok {
		return loaded[K, D]{key: key}, nil
	}
	if err := s.put(ctx, key, record); err != nil {
		return loaded[K, D]{}, err
	}
	return loaded[K, D]{key: key, record: record, found: true}, nil
}

// save is the write-through path shared by Save and GetOrNew.
func (s *KeyedService[K, Q, D]) save(ctx context.Context, key K, value D) error {
	unlock := s.locks.lock(key)
	defer unlock()
	return s.saveLocked(ctx, key, value)
}

func (s *KeyedService[K, Q, D]) saveLocked(ctx context.Context, key K, value D) error {
	s.gens.bump(s.cacheKey(key))
	if err := s.store(ctx, key, value); err != nil {
		s.stats.saveFailures.Add(1)
		return ioError("save", key, err)
	}
	s.stats.saves.Add(1)
	if err := s.put(ctx, key, value); err != nil {
		return err
	}
	s.dirty.clear(key)
	return nil
}

// remember caches a record that came back from a query and returns the
// instance callers should see. A record already cached wins over the fetched
// copy, and a key written or deleted since fetchedAt is not cached at all.
func (s *KeyedService[K, Q, D]) remember(ctx context.Context, key K, record D, fetchedAt *genSnapshot) D {
	unlock := s.locks.lock(key)
	defer unlock()

	if cached, ok := s.peek(ctx, key); ok {
		s.dirty.mark(key)
		return cached
	}
	if s.gens.changedSince(s.cacheKey(key), fetchedAt) {
		return record
	}
	if err := s.put(ctx, key, record); err != nil {
		s.log(ctx).Warn("caching query result failed", slog.Any("key", key), logging.Err(err))
		return record
	}
	s.dirty.mark(key)
	return record
}

func (s *KeyedService[K, Q, D]) cacheKey(key K) string {
	if s.dynamicKeys {
		return s.keySerializer.SerializeKey(s.namespace, dynamicKey{value: key})
	}
	return s.keySerializer.SerializeKey(s.namespace, key)
}

func (s *KeyedService[K, Q, D]) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}
