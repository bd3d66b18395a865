package future

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolved(t *testing.T) {
	f := Resolved(7)

	require.True(t, f.Ready())
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestFailed(t *testing.T) {
	boom := errors.New("boom")
	f := Failed[string](boom)

	require.True(t, f.Ready())
	_, err := f.Await(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, f.Err(), boom)
}

func TestGo_RunsOnExecutor(t *testing.T) {
	pool := NewPool(2)
	f := Go(context.Background(), pool, func(ctx context.Context) (string, error) {
		return "done", nil
	})

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestGo_IgnoresCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})

	f := Go(ctx, NewPool(1), func(ctx context.Context) (int, error) {
		<-release
		return 1, ctx.Err()
	})
	cancel()
	close(release)

	v, err := f.Await(context.Background())
	require.NoError(t, err, "task context must not inherit cancellation")
	assert.Equal(t, 1, v)
}

func TestGo_RecoversPanic(t *testing.T) {
	f := Go(context.Background(), Inline(), func(ctx context.Context) (int, error) {
		panic("kaboom")
	})

	_, err := f.Await(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestAwait_ContextDeadline(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	f := Go(context.Background(), NewPool(1), func(ctx context.Context) (int, error) {
		<-block
		return 0, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.Ready())
}

func TestThen(t *testing.T) {
	f := Then(Resolved(3), func(n int) (bool, error) { return n > 0, nil })

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.True(t, v)
}

func TestThen_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	called := false
	f := Then(Failed[int](boom), func(n int) (bool, error) {
		called = true
		return true, nil
	})

	_, err := f.Await(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := NewPool(2)
	var (
		running atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 2, pool.Size())
}
