package di

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/goliatone/go-record-cache/cache"
	"github.com/goliatone/go-record-cache/internal/logging"
	"github.com/goliatone/go-record-cache/pkg/testsupport"
	"github.com/goliatone/go-record-cache/query"
	"github.com/goliatone/go-record-cache/repositorycache"
	"github.com/goliatone/go-record-cache/translator"
)

type benchService = repositorycache.KeyedService[string, query.Keyed[string], *PlayerData]

func newBenchService(tb testing.TB, records int) (*benchService, *testsupport.CountingRepository[string]) {
	tb.Helper()

	config := cache.DefaultConfig()
	config.Capacity = max(records*2, 16)
	container, err := NewContainer(config, WithLogger(logging.Discard()))
	if err != nil {
		tb.Fatalf("Failed to create DI container: %v", err)
	}

	repo := testsupport.NewCountingRepository[string](false)
	for i := 0; i < records; i++ {
		if err := repo.PutJSON(fmt.Sprintf("player-%d", i), &PlayerData{Version: 1, Name: fmt.Sprintf("Player %d", i)}); err != nil {
			tb.Fatalf("seed failed: %v", err)
		}
	}

	svc, err := NewKeyedService[string, query.Keyed[string], *PlayerData, []byte](
		container, translator.NewJSON(newPlayerData), repo,
	)
	if err != nil {
		tb.Fatalf("NewKeyedService() failed: %v", err)
	}
	return svc, repo
}

// TestConcurrentAccess mixes reads, in-place mutation and checkpoints across
// goroutines and checks that nothing is lost.
func TestConcurrentAccess(t *testing.T) {
	const (
		records                = 100
		numGoroutines          = 50
		operationsPerGoroutine = 20
	)
	ctx := context.Background()
	svc, repo := newBenchService(t, records)

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines*operationsPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < operationsPerGoroutine; j++ {
				key := fmt.Sprintf("player-%d", (workerID*operationsPerGoroutine+j)%records)
				switch j % 4 {
				case 0, 1:
					if _, _, err := svc.GetSync(ctx, key); err != nil {
						errs <- err
					}
				case 2:
					if _, err := svc.Save(ctx, key, &PlayerData{Version: 1, Name: key}).Await(ctx); err != nil {
						errs <- err
					}
				case 3:
					if _, err := svc.EnsureSaved(ctx).Await(ctx); err != nil {
						errs <- err
					}
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent operation failed: %v", err)
	}

	if got := repo.Calls(testsupport.OpGet); got > records {
		t.Errorf("Expected at most one fetch per record, got %d", got)
	}
}

func BenchmarkKeyedService_GetHit(b *testing.B) {
	ctx := context.Background()
	svc, _ := newBenchService(b, 1)
	if _, _, err := svc.GetSync(ctx, "player-0"); err != nil {
		b.Fatalf("warm-up failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := svc.GetSync(ctx, "player-0"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkKeyedService_GetHitParallel(b *testing.B) {
	const records = 1000
	ctx := context.Background()
	svc, _ := newBenchService(b, records)
	for i := 0; i < records; i++ {
		svc.GetSync(ctx, fmt.Sprintf("player-%d", i))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, _, err := svc.GetSync(ctx, fmt.Sprintf("player-%d", i%records)); err != nil {
				b.Error(err)
			}
			i++
		}
	})
}

func BenchmarkKeyedService_Save(b *testing.B) {
	ctx := context.Background()
	svc, _ := newBenchService(b, 0)
	record := &PlayerData{Version: 1, Name: "bench"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.Save(ctx, "player-bench", record).Await(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkKeyedService_EnsureSaved(b *testing.B) {
	const records = 500
	ctx := context.Background()
	svc, _ := newBenchService(b, records)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for j := 0; j < records; j++ {
			svc.GetSync(ctx, fmt.Sprintf("player-%d", j))
		}
		b.StartTimer()
		if _, err := svc.EnsureSaved(ctx).Await(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
