package cacheinfra

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Capacity != 10000 {
		t.Errorf("expected Capacity to be 10000, got %d", cfg.Capacity)
	}

	if cfg.NumShards != 256 {
		t.Errorf("expected NumShards to be 256, got %d", cfg.NumShards)
	}

	if cfg.IdleTimeout != 5*time.Minute {
		t.Errorf("expected IdleTimeout to be 5 minutes, got %v", cfg.IdleTimeout)
	}

	if cfg.EvictionPercentage != 10 {
		t.Errorf("expected EvictionPercentage to be 10, got %d", cfg.EvictionPercentage)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{
			name:      "invalid capacity - zero",
			mutate:    func(c *Config) { c.Capacity = 0 },
			wantField: "Capacity",
		},
		{
			name:      "invalid num shards - negative",
			mutate:    func(c *Config) { c.NumShards = -4 },
			wantField: "NumShards",
		},
		{
			name:      "invalid idle timeout - zero",
			mutate:    func(c *Config) { c.IdleTimeout = 0 },
			wantField: "IdleTimeout",
		},
		{
			name:      "invalid idle timeout - negative",
			mutate:    func(c *Config) { c.IdleTimeout = -time.Second },
			wantField: "IdleTimeout",
		},
		{
			name:      "invalid eviction percentage - too high",
			mutate:    func(c *Config) { c.EvictionPercentage = 101 },
			wantField: "EvictionPercentage",
		},
		{
			name:      "invalid eviction interval",
			mutate:    func(c *Config) { c.EvictionInterval = -time.Second },
			wantField: "EvictionInterval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error but got none")
			}

			var verrs validation.Errors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected validation.Errors, got %T", err)
			}
			if _, ok := verrs[tt.wantField]; !ok {
				t.Errorf("expected error for field %s, got %v", tt.wantField, verrs)
			}
		})
	}
}

func TestNewSturdycService_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 0

	if _, err := NewSturdycService(cfg); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestSturdycService_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	svc, err := NewSturdycService(DefaultConfig())
	if err != nil {
		t.Fatalf("NewSturdycService() failed: %v", err)
	}

	if _, ok := svc.Get(ctx, "players::a"); ok {
		t.Fatal("expected miss on empty cache")
	}

	if err := svc.Set(ctx, "players::a", 42); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	got, ok := svc.Get(ctx, "players::a")
	if !ok || got != 42 {
		t.Fatalf("expected hit with 42, got %v (ok=%v)", got, ok)
	}

	if err := svc.Delete(ctx, "players::a"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, ok := svc.Get(ctx, "players::a"); ok {
		t.Error("expected miss after delete")
	}
}

func TestSturdycService_DeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	svc, err := NewSturdycService(DefaultConfig())
	if err != nil {
		t.Fatalf("NewSturdycService() failed: %v", err)
	}

	svc.Set(ctx, "players::a", 1)
	svc.Set(ctx, "players::b", 2)
	svc.Set(ctx, "worlds::a", 3)

	if err := svc.DeleteByPrefix(ctx, "players::"); err != nil {
		t.Fatalf("DeleteByPrefix() failed: %v", err)
	}

	keys := svc.Keys(ctx)
	sort.Strings(keys)
	if len(keys) != 1 || keys[0] != "worlds::a" {
		t.Errorf("expected only worlds::a to remain, got %v", keys)
	}
}

func TestSturdycService_ConcurrentAccessAcrossStripes(t *testing.T) {
	ctx := context.Background()
	svc, err := NewSturdycService(DefaultConfig())
	if err != nil {
		t.Fatalf("NewSturdycService() failed: %v", err)
	}

	const keys = 32
	for i := 0; i < keys; i++ {
		svc.Set(ctx, fmt.Sprintf("k%d", i), i)
	}

	var wg sync.WaitGroup
	for i := 0; i < keys; i++ {
		wg.Add(2)
		go func(key string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				svc.Get(ctx, key)
			}
		}(fmt.Sprintf("k%d", i))
		go func(key string) {
			defer wg.Done()
			svc.Delete(ctx, key)
		}(fmt.Sprintf("k%d", i))
	}
	wg.Wait()

	for i := 0; i < keys; i++ {
		if _, ok := svc.Get(ctx, fmt.Sprintf("k%d", i)); ok {
			t.Errorf("k%d was written back after its delete", i)
		}
	}
}

func TestSturdycService_IdleExpiry(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.IdleTimeout = 40 * time.Millisecond

	svc, err := NewSturdycService(cfg)
	if err != nil {
		t.Fatalf("NewSturdycService() failed: %v", err)
	}

	svc.Set(ctx, "idle", "v")
	time.Sleep(120 * time.Millisecond)

	if _, ok := svc.Get(ctx, "idle"); ok {
		t.Error("expected entry to expire after idle timeout")
	}
}

func TestSturdycService_AccessKeepsEntryAlive(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.IdleTimeout = 150 * time.Millisecond

	svc, err := NewSturdycService(cfg)
	if err != nil {
		t.Fatalf("NewSturdycService() failed: %v", err)
	}

	svc.Set(ctx, "busy", "v")
	for i := 0; i < 4; i++ {
		time.Sleep(60 * time.Millisecond)
		if _, ok := svc.Get(ctx, "busy"); !ok {
			t.Fatalf("entry expired on access %d despite being read", i)
		}
	}
}
