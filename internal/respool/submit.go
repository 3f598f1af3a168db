package respool

import (
	"context"
	"sync"

	"peerpool/internal/device"
	"peerpool/internal/eventbus"
	"peerpool/internal/metrics"
	"peerpool/pkg/logx"
)

// Func is the body of a submitted task.
type Func func(ctx context.Context) error

// SubmitCPU runs fn on the CPU pool and waits for it. If ctx already belongs
// to a CPU task, fn runs on the caller instead of being submitted again.
//
// When ctx is done before fn finishes, SubmitCPU returns ctx.Err() at once;
// fn is not interrupted.
func (m *Manager) SubmitCPU(ctx context.Context, name string, fn Func) error {
	if fn == nil {
		return ErrNilFunc
	}
	if m.closed.Load() {
		return ErrClosed
	}
	op := metrics.Track(metrics.CPU, name)

	if scopeOf(ctx).inside(ClassCPU) {
		op.MarkStarted()
		err := fn(withScope(ctx, ClassCPU, name, ""))
		op.Complete(err)
		m.record(op)
		return err
	}

	fut, err := m.cpu.Submit(ctx, func(c context.Context) error {
		op.MarkStarted()
		return fn(withScope(c, ClassCPU, name, ""))
	})
	if err != nil {
		return poolErr(err)
	}
	fut.OnDone(func(err error) {
		op.Complete(err)
		m.record(op)
	})
	return fut.Wait(ctx)
}

type ioOptions struct {
	inline bool
}

type IOOption func(*ioOptions)

// Inline runs the body on the calling goroutine while the device permit is
// held, instead of dispatching it to the IO pool. Use it for bodies that do
// not block a thread for long, or that manage their own goroutines.
func Inline() IOOption { return func(o *ioOptions) { o.inline = true } }

// SubmitIO takes a permit on path's device, runs fn and releases the permit
// when fn returns, fails or panics, or when the task is dropped before it
// starts. A caller whose ctx ends while waiting for the permit gets ctx.Err()
// and holds nothing.
func (m *Manager) SubmitIO(ctx context.Context, path, name string, fn Func, opts ...IOOption) error {
	if fn == nil {
		return ErrNilFunc
	}
	if m.closed.Load() {
		return ErrClosed
	}
	var o ioOptions
	for _, opt := range opts {
		opt(&o)
	}
	op := metrics.Track(metrics.IO, name)
	id, sem := m.DeviceSemaphore(path)
	sc := scopeOf(ctx)

	// The chain already holds a permit on this device.
	if sc.holds(id) {
		op.MarkStarted()
		err := fn(withScope(ctx, ClassIO, name, id))
		op.Complete(err)
		m.record(op)
		return err
	}

	if err := sem.Acquire(ctx); err != nil {
		return err
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := sem.Release(); err != nil {
				m.log.Error("device semaphore violation", logx.String("device", string(id)), logx.String("op", name), logx.Err(err))
				eventbus.Emit(m.bus, eventbus.TypeSemaphoreViolation, eventbus.SemaphoreViolation{Device: string(id), Op: name, Err: err.Error()})
			}
		})
	}

	// Nested IO work never goes back to the IO pool.
	if o.inline || sc.inside(ClassIO) {
		return m.runInline(ctx, id, name, op, release, fn)
	}

	fut, err := m.io.Submit(ctx, func(c context.Context) error {
		op.MarkStarted()
		return fn(withScope(c, ClassIO, name, id))
	})
	if err != nil {
		release()
		return poolErr(err)
	}
	fut.OnDone(func(err error) {
		release()
		op.Complete(err)
		m.record(op)
	})
	return fut.Wait(ctx)
}

func (m *Manager) runInline(ctx context.Context, id device.ID, name string, op *metrics.OperationMetric, release func(), fn Func) (err error) {
	defer func() {
		release()
		op.Complete(err)
		m.record(op)
	}()
	op.MarkStarted()
	return fn(withScope(ctx, ClassIO, name, id))
}
