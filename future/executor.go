package future

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Executor runs submitted tasks. Submit must not block on the task itself.
type Executor interface {
	Submit(task func())
}

// Pool runs each task on its own goroutine but lets at most size of them
// work at once; the rest wait for a slot.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool creates a Pool with size slots. Sizes below one are treated as one.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the number of concurrent slots.
func (p *Pool) Size() int {
	return p.size
}

// Submit queues task for a free slot.
func (p *Pool) Submit(task func()) {
	go func() {
		// Acquire with a background context never fails.
		_ = p.sem.Acquire(context.Background(), 1)
		defer p.sem.Release(1)
		task()
	}()
}

type inline struct{}

// Inline returns an Executor that runs tasks on the submitting goroutine.
func Inline() Executor {
	return inline{}
}

func (inline) Submit(task func()) {
	task()
}
