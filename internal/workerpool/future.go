package workerpool

import (
	"context"
	"sync"
	"time"
)

// Future resolves once its task has run, been skipped or panicked.
type Future struct {
	done chan struct{}

	mu          sync.Mutex
	err         error
	queuedAt    time.Time
	startedAt   time.Time
	completedAt time.Time
	resolved    bool
	hooks       []func(error)
}

func newFuture() *Future {
	return &Future{done: make(chan struct{}), queuedAt: time.Now()}
}

func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task resolves or ctx is done. Giving up on the wait
// does not cancel the task.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err is the task result; nil until Done is closed.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Future) QueuedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queuedAt
}

// StartedAt is zero if the task never started.
func (f *Future) StartedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startedAt
}

func (f *Future) CompletedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completedAt
}

// OnDone registers fn to run with the task result. Hooks registered before
// the task resolves run on the resolving goroutine before Done is closed;
// later ones run immediately.
func (f *Future) OnDone(fn func(err error)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	if f.resolved {
		err := f.err
		f.mu.Unlock()
		fn(err)
		return
	}
	f.hooks = append(f.hooks, fn)
	f.mu.Unlock()
}

func (f *Future) start() {
	f.mu.Lock()
	f.startedAt = time.Now()
	f.mu.Unlock()
}

func (f *Future) finish(err error) {
	f.mu.Lock()
	f.err = err
	f.completedAt = time.Now()
	f.resolved = true
	hooks := f.hooks
	f.hooks = nil
	f.mu.Unlock()
	defer close(f.done)
	for _, h := range hooks {
		runHook(h, err)
	}
}

// A panicking hook must not take the worker's bookkeeping down with it.
func runHook(h func(error), err error) {
	defer func() { _ = recover() }()
	h(err)
}
