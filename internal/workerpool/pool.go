// Package workerpool runs functions on a fixed number of goroutines whose
// count can be changed at runtime without disturbing work already accepted.
//
// Resize builds a new generation of workers, makes it current, and retires the
// old one. The retired generation finishes everything it had queued or running
// and then stops. At most one generation drains at a time.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"peerpool/internal/eventbus"
	"peerpool/pkg/logx"
)

// Func is a unit of work. ctx is the submitter's context.
type Func func(ctx context.Context) error

type Pool struct {
	name string
	log  logx.Logger
	bus  eventbus.Bus

	cur atomic.Pointer[generation]

	// lock serializes Resize and Close; a channel so waiting honours ctx.
	lock     chan struct{}
	draining *generation
	genSeq   uint64
	closed   atomic.Bool

	taskSeq   atomic.Uint64
	submitted atomic.Uint64
	completed atomic.Uint64

	drainMu sync.Mutex
	onDrain []func(gen uint64)
}

type Option func(*Pool)

func WithLogger(log logx.Logger) Option { return func(p *Pool) { p.log = log } }
func WithBus(b eventbus.Bus) Option     { return func(p *Pool) { p.bus = b } }

func New(name string, size int, opts ...Option) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidSize, size)
	}
	p := &Pool{name: name, lock: make(chan struct{}, 1)}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With(logx.String("pool", name))
	p.genSeq = 1
	p.cur.Store(newGeneration(p, p.genSeq, size))
	return p, nil
}

func (p *Pool) Name() string { return p.name }

// Submit queues fn on the current generation. It never blocks.
func (p *Pool) Submit(ctx context.Context, fn Func) (*Future, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	if ctx == nil {
		ctx = context.Background()
	}
	j := &job{id: p.taskSeq.Add(1), ctx: ctx, fn: fn, fut: newFuture()}
	for {
		if p.closed.Load() {
			return nil, ErrClosed
		}
		// A retired generation has already been replaced, so the retry
		// lands on its successor.
		if p.cur.Load().enter(j) {
			p.submitted.Add(1)
			return j.fut, nil
		}
	}
}

// Resize swaps in a generation with size workers. Work accepted by the old
// generation keeps running there. If a previous resize is still draining,
// Resize waits for it, bounded by ctx.
func (p *Pool) Resize(ctx context.Context, size int) error {
	if size < 1 {
		return fmt.Errorf("%w (got %d)", ErrInvalidSize, size)
	}
	select {
	case p.lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("resize %s: %w", p.name, ctx.Err())
	}
	defer func() { <-p.lock }()

	if p.closed.Load() {
		return ErrClosed
	}
	old := p.cur.Load()
	if old.size == size {
		return nil
	}
	if d := p.draining; d != nil {
		select {
		case <-d.drained:
		case <-ctx.Done():
			return fmt.Errorf("resize %s: waiting for generation %d to drain: %w", p.name, d.id, ctx.Err())
		}
		p.draining = nil
	}

	p.genSeq++
	next := newGeneration(p, p.genSeq, size)
	p.cur.Store(next)
	old.retire()
	p.draining = old

	p.log.Info("pool.resized",
		logx.Int("from", old.size),
		logx.Int("to", size),
		logx.Uint64("generation", next.id),
	)
	eventbus.Emit(p.bus, eventbus.TypePoolResized, eventbus.PoolResized{Pool: p.name, From: old.size, To: size, Generation: next.id})
	return nil
}

func (p *Pool) onDrained(g *generation) {
	p.log.Debug("pool.drained", logx.Uint64("generation", g.id))
	eventbus.Emit(p.bus, eventbus.TypePoolDrained, eventbus.PoolDrained{Pool: p.name, Generation: g.id})
	p.drainMu.Lock()
	hooks := append([]func(uint64){}, p.onDrain...)
	p.drainMu.Unlock()
	for _, h := range hooks {
		h(g.id)
	}
}

// OnDrained registers fn to run each time a retired generation stops.
func (p *Pool) OnDrained(fn func(gen uint64)) {
	p.drainMu.Lock()
	p.onDrain = append(p.onDrain, fn)
	p.drainMu.Unlock()
}

// Close stops accepting work and waits, bounded by ctx, for every accepted
// task to finish. A closed pool cannot be reopened.
func (p *Pool) Close(ctx context.Context) error {
	select {
	case p.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.lock }()

	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	cur := p.cur.Load()
	cur.retire()

	var errs []error
	for _, g := range []*generation{p.draining, cur} {
		if g == nil {
			continue
		}
		select {
		case <-g.drained:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("close %s: generation %d: %w", p.name, g.id, ctx.Err()))
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) Closed() bool { return p.closed.Load() }

func (p *Pool) Size() int { return p.cur.Load().size }

func (p *Pool) Generation() uint64 { return p.cur.Load().id }

type DrainStats struct {
	Generation uint64 `json:"generation"`
	Size       int    `json:"size"`
	Active     int    `json:"active"`
}

type Stats struct {
	Name       string      `json:"name"`
	Size       int         `json:"size"`
	Generation uint64      `json:"generation"`
	Queued     int         `json:"queued"`
	Running    int         `json:"running"`
	Active     int         `json:"active"`
	Submitted  uint64      `json:"submitted"`
	Completed  uint64      `json:"completed"`
	Draining   *DrainStats `json:"draining,omitempty"`
	Closed     bool        `json:"closed"`
}

func (p *Pool) Stats() Stats {
	g := p.cur.Load()
	q, r, a := g.stats()
	st := Stats{
		Name:       p.name,
		Size:       g.size,
		Generation: g.id,
		Queued:     q,
		Running:    r,
		Active:     a,
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Closed:     p.closed.Load(),
	}
	// draining is written under lock; a best-effort read is enough here.
	select {
	case p.lock <- struct{}{}:
		if d := p.draining; d != nil {
			select {
			case <-d.drained:
			default:
				_, _, da := d.stats()
				st.Draining = &DrainStats{Generation: d.id, Size: d.size, Active: da}
			}
		}
		<-p.lock
	default:
	}
	return st
}
