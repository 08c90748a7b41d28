package calendarkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// WorkerPool bounds the number of remote calls in flight and gives each call
// a deadline.
type WorkerPool struct {
	slots   *semaphore.Weighted
	timeout time.Duration
}

// NewWorkerPool constructs a pool with size slots.
func NewWorkerPool(size int, timeout time.Duration) *WorkerPool {
	if size <= 0 {
		size = DefaultWorkerPoolSize
	}
	if timeout <= 0 {
		timeout = DefaultRemoteCallTimeout
	}
	return &WorkerPool{slots: semaphore.NewWeighted(int64(size)), timeout: timeout}
}

// Run executes task in the pool.
func (pool *WorkerPool) Run(ctx context.Context, task func(ctx context.Context) error) error {
	_, err := Submit(ctx, pool, func(callCtx context.Context) (struct{}, error) {
		return struct{}{}, task(callCtx)
	})
	return err
}

type taskResult[T any] struct {
	value T
	err   error
}

// Submit executes task in the pool and returns its result. A task that
// outlives its deadline yields ErrUpstreamTimeout; its slot is released only
// when it returns.
func Submit[T any](ctx context.Context, pool *WorkerPool, task func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := pool.slots.Acquire(ctx, 1); err != nil {
		return zero, contextFailure(err)
	}
	callCtx, cancel := context.WithTimeout(ctx, pool.timeout)
	defer cancel()

	results := make(chan taskResult[T], 1)
	go func() {
		defer pool.slots.Release(1)
		value, err := task(callCtx)
		results <- taskResult[T]{value: value, err: err}
	}()

	select {
	case result := <-results:
		if result.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %w", ErrUpstreamTimeout, result.err)
		}
		return result.value, result.err
	case <-callCtx.Done():
		return zero, contextFailure(callCtx.Err())
	}
}

func contextFailure(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
	}
	return err
}
