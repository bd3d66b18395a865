package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// mockCacheService is a map-backed CacheService for testing Lookup.
type mockCacheService struct {
	storage map[string]any
}

func newMockCacheService() *mockCacheService {
	return &mockCacheService{storage: make(map[string]any)}
}

func (m *mockCacheService) Get(ctx context.Context, key string) (any, bool) {
	v, ok := m.storage[key]
	return v, ok
}

func (m *mockCacheService) Set(ctx context.Context, key string, value any) error {
	m.storage[key] = value
	return nil
}

func (m *mockCacheService) Delete(ctx context.Context, key string) error {
	delete(m.storage, key)
	return nil
}

func (m *mockCacheService) DeleteByPrefix(ctx context.Context, prefix string) error {
	return nil
}

func (m *mockCacheService) Keys(ctx context.Context) []string {
	return nil
}

func TestLookup_Miss(t *testing.T) {
	mock := newMockCacheService()

	result, ok, err := Lookup[string](context.Background(), mock, "missing")
	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if ok {
		t.Error("expected miss")
	}
	if result != "" {
		t.Errorf("expected zero value but got: %q", result)
	}
}

func TestLookup_NilInterfaceIsHit(t *testing.T) {
	mock := newMockCacheService()
	mock.storage["k"] = nil

	type SomeInterface interface {
		DoSomething() string
	}

	result, ok, err := Lookup[SomeInterface](context.Background(), mock, "k")
	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if !ok {
		t.Error("expected hit for stored nil")
	}
	if result != nil {
		t.Errorf("expected nil result but got: %v", result)
	}
}

func TestLookup_TypeAssertionFailure(t *testing.T) {
	mock := newMockCacheService()
	mock.storage["k"] = "wrong-type"

	result, ok, err := Lookup[int](context.Background(), mock, "k")
	if !errors.Is(err, ErrInvalidResultType) {
		t.Errorf("expected ErrInvalidResultType but got: %v", err)
	}
	if ok || result != 0 {
		t.Errorf("expected zero miss but got: %v (ok=%v)", result, ok)
	}
}

func TestLookup_ValidResult(t *testing.T) {
	mock := newMockCacheService()
	mock.storage["k"] = "test-value"

	result, ok, err := Lookup[string](context.Background(), mock, "k")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if result != "test-value" {
		t.Errorf("expected 'test-value' but got: '%s'", result)
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.IdleTimeout != 5*time.Minute {
		t.Errorf("expected 5m idle timeout, got %v", cfg.IdleTimeout)
	}
	if cfg.Workers <= 0 {
		t.Errorf("expected positive worker count, got %d", cfg.Workers)
	}
}

func TestConfig_ValidateWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 0

	err := cfg.Validate()
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation.Errors, got %v", err)
	}
	if _, ok := verrs["Workers"]; !ok {
		t.Errorf("expected Workers error, got %v", verrs)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("TESTCACHE_IDLE_TIMEOUT", "90s")
	t.Setenv("TESTCACHE_WORKERS", "3")

	cfg, err := LoadConfigFromEnv("TESTCACHE_")
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() failed: %v", err)
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Errorf("expected 90s idle timeout, got %v", cfg.IdleTimeout)
	}
	if cfg.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Workers)
	}
	if cfg.Capacity != DefaultConfig().Capacity {
		t.Errorf("unset fields should keep defaults, got capacity %d", cfg.Capacity)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	t.Setenv("BADCACHE_WORKERS", "not-a-number")

	if _, err := LoadConfigFromEnv("BADCACHE_"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNewCacheService(t *testing.T) {
	svc, err := NewCacheService(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCacheService() failed: %v", err)
	}

	ctx := context.Background()
	if err := svc.Set(ctx, "k", 1); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	got, ok, err := Lookup[int](ctx, svc, "k")
	if err != nil || !ok || got != 1 {
		t.Errorf("expected 1, got %v ok=%v err=%v", got, ok, err)
	}
}
