package repositorycache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-record-cache/future"
	"github.com/goliatone/go-record-cache/internal/logging"
)

// Interface assertion to ensure SingleService implements SingleCached
var _ SingleCached[any] = (*SingleService[any])(nil)

// SingleService caches one well-known record, such as server-wide settings.
// The slot is never evicted; it is only replaced by a successful load, save or
// reload, and emptied by ClearCache.
type SingleService[D any] struct {
	createNew func() D
	fetch     func(ctx context.Context) (D, bool, error)
	store     func(ctx context.Context, value D) error
	repo      interface {
		HasCache() bool
		ClearCache(ctx context.Context) error
		Shutdown(ctx context.Context) error
	}

	executor future.Executor
	logger   *slog.Logger

	mu        sync.RWMutex
	value     D
	hasValue  bool
	writeMu   sync.Mutex
	loadMu    sync.Mutex
	closed    atomic.Bool
	namespace string

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewSingleService builds a SingleService over repo.
func NewSingleService[D, O any](translator Translator[D, O], repo SingleRepository[O], opts ...Option) (*SingleService[D], error) {
	if translator == nil {
		return nil, errors.New("repositorycache: translator is required")
	}
	if repo == nil {
		return nil, errors.New("repositorycache: repository is required")
	}

	o, err := buildOptions[D](opts, false)
	if err != nil {
		return nil, err
	}

	return &SingleService[D]{
		createNew: translator.CreateNew,
		fetch: func(ctx context.Context) (D, bool, error) {
			var zero D
			wire, ok, err := repo.Get(ctx)
			if err != nil || !ok {
				return zero, false, err
			}
			record, err := translator.FromWire(wire)
			if err != nil {
				return zero, false, err
			}
			return record, true, nil
		},
		store: func(ctx context.Context, value D) error {
			wire, err := translator.ToWire(value)
			if err != nil {
				return err
			}
			return repo.Save(ctx, wire)
		},
		repo:      repo,
		executor:  o.executor,
		logger:    o.logger.With(slog.String("namespace", o.namespace)),
		namespace: o.namespace,
	}, nil
}

// CreateNew builds a default record without I/O.
func (s *SingleService[D]) CreateNew() D {
	return s.createNew()
}

// GetCached returns the cached record without I/O.
func (s *SingleService[D]) GetCached() (D, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.hasValue
}

// Get returns the record, loading it on a cold cache.
func (s *SingleService[D]) Get(ctx context.Context) *future.Future[Optional[D]] {
	if s.closed.Load() {
		return future.Failed[Optional[D]](ErrServiceClosed)
	}
	if record, ok := s.GetCached(); ok {
		return future.Resolved(Some(record))
	}
	return future.Go(ctx, s.executor, func(ctx context.Context) (Optional[D], error) {
		record, ok, err := s.load(ctx)
		if err != nil || !ok {
			return None[D](), err
		}
		return Some(record), nil
	})
}

// GetSync is the blocking form of Get.
func (s *SingleService[D]) GetSync(ctx context.Context) (D, bool, error) {
	if s.closed.Load() {
		var zero D
		return zero, false, ErrServiceClosed
	}
	if record, ok := s.GetCached(); ok {
		return record, true, nil
	}
	return s.load(ctx)
}

// GetOrNew returns the record, creating and saving a default one when absent.
func (s *SingleService[D]) GetOrNew(ctx context.Context) *future.Future[D] {
	if s.closed.Load() {
		return future.Failed[D](ErrServiceClosed)
	}
	if record, ok := s.GetCached(); ok {
		return future.Resolved(record)
	}
	return future.Go(ctx, s.executor, s.getOrNew)
}

// GetOrNewSync is the blocking form of GetOrNew.
func (s *SingleService[D]) GetOrNewSync(ctx context.Context) (D, error) {
	if s.closed.Load() {
		var zero D
		return zero, ErrServiceClosed
	}
	if record, ok := s.GetCached(); ok {
		return record, nil
	}
	return s.getOrNew(ctx)
}

func (s *SingleService[D]) getOrNew(ctx context.Context) (D, error) {
	record, ok, err := s.load(ctx)
	if err != nil {
		var zero D
		return zero, err
	}
	if ok {
		return record, nil
	}
	record = s.createNew()
	if err := s.save(ctx, record); err != nil {
		var zero D
		return zero, err
	}
	return record, nil
}

// Save writes value through and caches it on success.
func (s *SingleService[D]) Save(ctx context.Context, value D) *future.Future[struct{}] {
	if s.closed.Load() {
		return future.Failed[struct{}](ErrServiceClosed)
	}
	return future.Go(ctx, s.executor, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.save(ctx, value)
	})
}

// Reload fetches the record again. The cached value is replaced only when the
// fetch succeeds and finds a record.
func (s *SingleService[D]) Reload(ctx context.Context) *future.Future[struct{}] {
	if s.closed.Load() {
		return future.Failed[struct{}](ErrServiceClosed)
	}
	return future.Go(ctx, s.executor, func(ctx context.Context) (struct{}, error) {
		_, _, err := s.fetchAndCache(ctx)
		if err != nil {
			s.log(ctx).Warn("reload failed, keeping cached record", logging.Err(err))
		}
		return struct{}{}, err
	})
}

// SaveCached persists the cached record. It is a no-op when nothing is cached.
func (s *SingleService[D]) SaveCached(ctx context.Context) *future.Future[struct{}] {
	record, ok := s.GetCached()
	if !ok {
		return future.Resolved(struct{}{})
	}
	return future.Go(ctx, s.executor, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.save(ctx, record)
	})
}

// EnsureSaved persists the cached record, if any.
func (s *SingleService[D]) EnsureSaved(ctx context.Context) *future.Future[struct{}] {
	return s.SaveCached(ctx)
}

// ClearCache empties the slot without saving it, and clears the repository
// cache when the repository keeps one.
func (s *SingleService[D]) ClearCache(ctx context.Context) *future.Future[struct{}] {
	s.mu.Lock()
	var zero D
	s.value, s.hasValue = zero, false
	s.mu.Unlock()

	if !s.repo.HasCache() {
		return future.Resolved(struct{}{})
	}
	return future.Go(ctx, s.executor, func(ctx context.Context) (struct{}, error) {
		if err := s.repo.ClearCache(ctx); err != nil {
			return struct{}{}, ioError("clear cache", nil, err)
		}
		return struct{}{}, nil
	})
}

// Shutdown saves the cached record, clears it and shuts the repository down.
func (s *SingleService[D]) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		var saveErr error
		if record, ok := s.GetCached(); ok {
			saveErr = s.save(ctx, record)
		}
		s.closed.Store(true)
		_, clearErr := s.ClearCache(ctx).Await(ctx)
		shutdownErr := s.repo.Shutdown(ctx)
		if shutdownErr != nil {
			shutdownErr = ioError("shutdown", nil, shutdownErr)
		}
		s.shutdownErr = errors.Join(saveErr, clearErr, shutdownErr)
	})
	return s.shutdownErr
}

// load fetches on a cold slot. Concurrent callers wait for the first fetch
// and then reuse its result.
func (s *SingleService[D]) load(ctx context.Context) (D, bool, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if record, ok := s.GetCached(); ok {
		return record, true, nil
	}
	return s.fetchAndCache(ctx)
}

func (s *SingleService[D]) fetchAndCache(ctx context.Context) (D, bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var zero D
	record, ok, err := s.fetch(ctx)
	if err != nil {
		return zero, false, ioError("get", s.namespace, err)
	}
	if !ok {
		return zero, false, nil
	}
	s.set(record)
	return record, true, nil
}

func (s *SingleService[D]) save(ctx context.Context, value D) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.store(ctx, value); err != nil {
		return ioError("save", s.namespace, err)
	}
	s.set(value)
	return nil
}

func (s *SingleService[D]) set(value D) {
	s.mu.Lock()
	s.value, s.hasValue = value, true
	s.mu.Unlock()
}

func (s *SingleService[D]) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}
