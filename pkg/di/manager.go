package di

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goliatone/go-record-cache/internal/logging"
	"github.com/goliatone/go-record-cache/repositorycache"
	"golang.org/x/sync/errgroup"
)

// Manager checkpoints every registered record service together.
type Manager struct {
	mu       sync.RWMutex
	services []registered
	names    map[string]struct{}
	logger   *slog.Logger
}

type registered struct {
	name    string
	service repositorycache.Service
}

// NewManager returns an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{names: map[string]struct{}{}, logger: logger}
}

// Register adds svc under name. Names must be unique.
func (m *Manager) Register(name string, svc repositorycache.Service) error {
	if svc == nil {
		return errors.New("di: nil service")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.names[name]; dup {
		return fmt.Errorf("di: service %q already registered", name)
	}
	m.names[name] = struct{}{}
	m.services = append(m.services, registered{name: name, service: svc})
	return nil
}

// Services returns the registered names in registration order.
func (m *Manager) Services() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.services))
	for i, r := range m.services {
		names[i] = r.name
	}
	return names
}

func (m *Manager) snapshot() []registered {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]registered(nil), m.services...)
}

// SaveAll flushes every service concurrently and joins their errors.
func (m *Manager) SaveAll(ctx context.Context) error {
	return m.each(ctx, func(ctx context.Context, r registered) error {
		_, err := r.service.EnsureSaved(ctx).Await(ctx)
		return err
	})
}

// ClearAndSave flushes each service and then clears its cache. The cache is
// cleared even when the flush fails.
func (m *Manager) ClearAndSave(ctx context.Context) error {
	return m.each(ctx, func(ctx context.Context, r registered) error {
		_, saveErr := r.service.EnsureSaved(ctx).Await(ctx)
		_, clearErr := r.service.ClearCache(ctx).Await(ctx)
		return errors.Join(saveErr, clearErr)
	})
}

// Shutdown shuts every service down.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.each(ctx, func(ctx context.Context, r registered) error {
		return r.service.Shutdown(ctx)
	})
}

// Autosave runs SaveAll every interval until ctx is done. Failed rounds are
// logged and retried on the next tick.
func (m *Manager) Autosave(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("di: autosave interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := logging.FromContext(ctx, m.logger)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			if err := m.SaveAll(ctx); err != nil {
				logger.Error("autosave failed", logging.Err(err))
				continue
			}
			logger.Debug("autosave complete", slog.Duration("took", time.Since(start)))
		}
	}
}

func (m *Manager) each(ctx context.Context, fn func(context.Context, registered) error) error {
	services := m.snapshot()
	errs := make([]error, len(services))

	var g errgroup.Group
	for i, r := range services {
		g.Go(func() error {
			if err := fn(ctx, r); err != nil {
				errs[i] = fmt.Errorf("%s: %w", r.name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
