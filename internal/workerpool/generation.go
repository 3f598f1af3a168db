package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/eapache/queue"

	"peerpool/internal/runtime/supervisor"
	"peerpool/pkg/logx"
)

type job struct {
	id  uint64
	ctx context.Context
	fn  Func
	fut *Future
}

// generation is one set of workers with its own queue. After retire it takes
// no new work and shuts down once every task it accepted has finished.
type generation struct {
	id   uint64
	size int
	pool *Pool
	sup  *supervisor.Supervisor

	mu      sync.Mutex
	cond    *sync.Cond
	queue   *queue.Queue
	active  map[uint64]struct{} // queued or running task ids
	running int
	retired bool

	drained chan struct{}
}

func newGeneration(p *Pool, id uint64, size int) *generation {
	g := &generation{
		id:      id,
		size:    size,
		pool:    p,
		queue:   queue.New(),
		active:  map[uint64]struct{}{},
		drained: make(chan struct{}),
	}
	g.cond = sync.NewCond(&g.mu)
	g.sup = supervisor.New(context.Background(), supervisor.WithLogger(p.log))
	for i := 0; i < size; i++ {
		name := fmt.Sprintf("%s.g%d.worker-%d", p.name, id, i+1)
		g.sup.GoRestart(name, g.work, supervisor.WithRestartBackoff(10*time.Millisecond, time.Second))
	}
	return g
}

// enter queues j unless the generation is retired.
func (g *generation) enter(j *job) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retired {
		return false
	}
	g.active[j.id] = struct{}{}
	g.queue.Add(j)
	g.cond.Signal()
	return true
}

func (g *generation) retire() {
	g.mu.Lock()
	if g.retired {
		g.mu.Unlock()
		return
	}
	g.retired = true
	g.cond.Broadcast()
	g.mu.Unlock()

	go func() {
		_ = g.sup.Wait(context.Background())
		g.sup.Cancel()
		close(g.drained)
		g.pool.onDrained(g)
	}()
}

func (g *generation) work(ctx context.Context) error {
	for {
		g.mu.Lock()
		for g.queue.Length() == 0 && !g.retired {
			g.cond.Wait()
		}
		if g.queue.Length() == 0 {
			g.mu.Unlock()
			return nil
		}
		j := g.queue.Remove().(*job)
		g.running++
		g.mu.Unlock()

		g.exec(j)

		g.mu.Lock()
		g.running--
		delete(g.active, j.id)
		g.mu.Unlock()
	}
}

func (g *generation) exec(j *job) {
	p := g.pool
	if err := j.ctx.Err(); err != nil {
		p.completed.Add(1)
		j.fut.finish(err)
		return
	}
	j.fut.start()
	err := safeRun(j.ctx, j.fn, p.log)
	p.completed.Add(1)
	j.fut.finish(err)
}

func safeRun(ctx context.Context, fn Func, log logx.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			log.Error("task panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return fn(ctx)
}

func (g *generation) stats() (queued, running, active int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queue.Length(), g.running, len(g.active)
}
