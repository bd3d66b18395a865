// Package future carries the result of an asynchronous record operation.
//
// A Future resolves exactly once, with a value or an error. Operations are not
// cancellable: the context given to Go only contributes values (loggers,
// trace ids) to the task, and Await's context only bounds how long the caller
// waits.
package future

import (
	"context"
	"fmt"
)

// Future is the eventual result of an operation.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(value T, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Resolved returns a future that already holds value.
func Resolved[T any](value T) *Future[T] {
	f := newFuture[T]()
	f.complete(value, nil)
	return f
}

// Failed returns a future that already holds err.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.complete(zero, err)
	return f
}

// Go schedules fn on exec and returns its future. A panic in fn resolves the
// future with an error instead of crashing the worker.
func Go[T any](ctx context.Context, exec Executor, fn func(ctx context.Context) (T, error)) *Future[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if exec == nil {
		exec = Inline()
	}

	f := newFuture[T]()
	taskCtx := context.WithoutCancel(ctx)
	exec.Submit(func() {
		var (
			value T
			err   error
		)
		defer func() {
			if r := recover(); r != nil {
				var zero T
				value, err = zero, fmt.Errorf("future: task panicked: %v", r)
			}
			f.complete(value, err)
		}()
		value, err = fn(taskCtx)
	})
	return f
}

// Then runs fn with the value of f once it resolves. Errors from f skip fn and
// propagate unchanged.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	next := newFuture[U]()
	go func() {
		<-f.done
		if f.err != nil {
			var zero U
			next.complete(zero, f.err)
			return
		}
		next.complete(fn(f.value))
	}()
	return next
}

// Await blocks until the future resolves or ctx is done. Giving up on ctx does
// not stop the underlying operation.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-f.done:
		return f.value, f.err
	default:
	}

	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether the future has resolved.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the error of a resolved future, or nil while it is pending.
func (f *Future[T]) Err() error {
	if !f.Ready() {
		return nil
	}
	return f.err
}
