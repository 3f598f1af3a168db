// Package parallel fans independent tasks out concurrently and collects their
// results in input order.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

var (
	ErrNilTask = errors.New("parallel: nil task")
	// ErrPanic wraps a panic recovered from a task.
	ErrPanic = errors.New("parallel: task panicked")
)

// Task is a unit of work returning a T.
type Task[T any] func(ctx context.Context) (T, error)

// Call binds fn to its argument. Multi-argument calls pass a struct.
func Call[A, T any](fn func(context.Context, A) (T, error), a A) Task[T] {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context) (T, error) { return fn(ctx, a) }
}

// Result is one task's outcome.
type Result[T any] struct {
	Value T
	Err   error
}

// ExecuteAll runs every task in its own goroutine and waits for all of them.
// results[i] belongs to tasks[i] whatever order they finished in.
func ExecuteAll[T any](ctx context.Context, tasks ...Task[T]) ([]Result[T], error) {
	for i, t := range tasks {
		if t == nil {
			return nil, fmt.Errorf("%w at index %d", ErrNilTask, i)
		}
	}
	results := make([]Result[T], len(tasks))
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, t := range tasks {
		go func(i int, t Task[T]) {
			defer wg.Done()
			results[i].Value, results[i].Err = run(ctx, t)
		}(i, t)
	}
	wg.Wait()
	return results, nil
}

// Execute runs every task to completion, then returns the values in input
// order. If any task failed, the error of the lowest-index failure is
// returned unchanged along with the values; other tasks are never cut short.
// Use ExecuteAll to learn which task failed.
func Execute[T any](ctx context.Context, tasks ...Task[T]) ([]T, error) {
	results, err := ExecuteAll(ctx, tasks...)
	if err != nil {
		return nil, err
	}
	values := make([]T, len(results))
	var first error
	for i, r := range results {
		values[i] = r.Value
		if r.Err != nil && first == nil {
			first = r.Err
		}
	}
	return values, first
}

func run[T any](ctx context.Context, t Task[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	return t(ctx)
}
