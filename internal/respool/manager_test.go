package respool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"peerpool/internal/device"
	"peerpool/internal/metrics"
	"peerpool/internal/workerpool"
)

func newManager(t *testing.T, lim Limits, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithDefaults(lim)}, opts...)
	m, err := New(context.Background(), opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

// peak tracks the highest concurrent count seen.
type peak struct {
	cur, max atomic.Int32
}

func (p *peak) enter() {
	n := p.cur.Add(1)
	for {
		m := p.max.Load()
		if n <= m || p.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (p *peak) leave() { p.cur.Add(-1) }

func testLimits() Limits {
	return Limits{CPUWorkers: 4, IOWorkers: 8, DefaultDeviceLimit: 2}
}

func TestDeviceAdmissionBound(t *testing.T) {
	t.Parallel()
	for _, inline := range []bool{false, true} {
		inline := inline
		name := "dispatched"
		if inline {
			name = "inline"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			lim := testLimits()
			lim.DeviceLimits = map[device.ID]int{"C": 2}
			m := newManager(t, lim)

			var opts []IOOption
			if inline {
				opts = append(opts, Inline())
			}
			var p peak
			var wg sync.WaitGroup
			var done atomic.Int32
			start := time.Now()
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					err := m.SubmitIO(context.Background(), `C:\media\clip.mkv`, "read", func(context.Context) error {
						p.enter()
						defer p.leave()
						time.Sleep(50 * time.Millisecond)
						return nil
					}, opts...)
					if err == nil {
						done.Add(1)
					}
				}(i)
			}
			wg.Wait()
			elapsed := time.Since(start)

			if got := done.Load(); got != 5 {
				t.Fatalf("completed = %d, want 5", got)
			}
			if got := p.max.Load(); got > 2 {
				t.Fatalf("peak concurrency on C = %d, want <= 2", got)
			}
			if elapsed < 150*time.Millisecond {
				t.Fatalf("elapsed = %v, want >= 150ms", elapsed)
			}
		})
	}
}

func TestDevicesAreIndependent(t *testing.T) {
	t.Parallel()
	lim := testLimits()
	lim.DefaultDeviceLimit = 1
	m := newManager(t, lim)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = m.SubmitIO(context.Background(), `C:\a`, "hold", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.SubmitIO(ctx, `D:\b`, "other", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("SubmitIO on D blocked by C: %v", err)
	}
}

func TestCPUResizeKeepsInFlightTasks(t *testing.T) {
	t.Parallel()
	m := newManager(t, testLimits())

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(4)
	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			results <- m.SubmitCPU(context.Background(), "score", func(context.Context) error {
				started.Done()
				<-release
				return nil
			})
		}()
	}
	started.Wait()

	if err := m.ResizeCPU(context.Background(), 1); err != nil {
		t.Fatalf("ResizeCPU error: %v", err)
	}
	if got := m.Limits().CPUWorkers; got != 1 {
		t.Fatalf("CPUWorkers = %d, want 1", got)
	}

	var p peak
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.SubmitCPU(context.Background(), "score", func(context.Context) error {
				p.enter()
				defer p.leave()
				time.Sleep(10 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()
	if got := p.max.Load(); got != 1 {
		t.Fatalf("peak concurrency for new tasks = %d, want 1", got)
	}

	close(release)
	for i := 0; i < 4; i++ {
		if err := <-results; err != nil {
			t.Fatalf("in-flight task err = %v", err)
		}
	}
}

func TestInvalidResizeLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	m := newManager(t, testLimits())
	if err := m.ResizeCPU(context.Background(), 0); !errors.Is(err, ErrInvalidResize) {
		t.Fatalf("ResizeCPU(0) err = %v, want ErrInvalidResize", err)
	}
	if err := m.ResizeIO(context.Background(), -3); !errors.Is(err, ErrInvalidResize) {
		t.Fatalf("ResizeIO(-3) err = %v, want ErrInvalidResize", err)
	}
	if err := m.SetDeviceLimit("C", 0); !errors.Is(err, ErrInvalidResize) {
		t.Fatalf("SetDeviceLimit(0) err = %v, want ErrInvalidResize", err)
	}
	if got := m.CPUPool().Size(); got != 4 {
		t.Fatalf("cpu size = %d, want 4", got)
	}
	if got := m.IOPool().Generation(); got != 1 {
		t.Fatalf("io generation = %d, want 1", got)
	}
}

func TestTaskErrorPassesThroughAndReleasesPermit(t *testing.T) {
	t.Parallel()
	m := newManager(t, testLimits())
	want := errors.New("disk full")
	err := m.SubmitIO(context.Background(), `C:\out`, "write", func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
	_, sem := m.DeviceSemaphore(`C:\out`)
	if got := sem.Held(); got != 0 {
		t.Fatalf("Held = %d, want 0", got)
	}
}

func TestPanicReleasesPermit(t *testing.T) {
	t.Parallel()
	m := newManager(t, testLimits())
	err := m.SubmitIO(context.Background(), `C:\x`, "boom", func(context.Context) error { panic("bad read") })
	if !errors.Is(err, workerpool.ErrPanic) {
		t.Fatalf("err = %v, want ErrPanic", err)
	}
	_, sem := m.DeviceSemaphore(`C:\x`)
	if got := sem.Held(); got != 0 {
		t.Fatalf("Held = %d, want 0", got)
	}

	func() {
		defer func() { _ = recover() }()
		_ = m.SubmitIO(context.Background(), `C:\x`, "boom", func(context.Context) error { panic("inline") }, Inline())
	}()
	if got := sem.Held(); got != 0 {
		t.Fatalf("Held after inline panic = %d, want 0", got)
	}
}

func TestCancelWhileWaitingForPermit(t *testing.T) {
	t.Parallel()
	m := newManager(t, testLimits())
	if err := m.SetDeviceLimit("C", 1); err != nil {
		t.Fatalf("SetDeviceLimit error: %v", err)
	}
	_, sem := m.DeviceSemaphore(`C:\`)
	if !sem.TryAcquire() {
		t.Fatal("TryAcquire failed")
	}
	defer func() { _ = sem.Release() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var ran atomic.Bool
	err := m.SubmitIO(ctx, `C:\f`, "read", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if ran.Load() {
		t.Fatal("body ran without a permit")
	}
	if got := sem.Held(); got != 1 {
		t.Fatalf("Held = %d, want 1", got)
	}
}

func TestCancelWhileQueuedReleasesPermit(t *testing.T) {
	t.Parallel()
	lim := testLimits()
	lim.IOWorkers = 1
	m := newManager(t, lim)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = m.SubmitIO(context.Background(), `D:\busy`, "hold", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- m.SubmitIO(ctx, `C:\queued`, "read", func(context.Context) error { return nil })
	}()
	_, sem := m.DeviceSemaphore(`C:\queued`)
	waitFor(t, func() bool { return sem.Held() == 1 })
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want Canceled", err)
	}
	close(release)
	waitFor(t, func() bool { return sem.Held() == 0 })
}

func TestReloadUnavailableKeepsLimits(t *testing.T) {
	t.Parallel()
	var fail atomic.Bool
	src := LimitsFunc(func(context.Context) (Limits, error) {
		if fail.Load() {
			return Limits{}, errors.New("settings db locked")
		}
		l := testLimits()
		l.DeviceLimits = map[device.ID]int{"C": 3}
		return l, nil
	})
	m := newManager(t, testLimits(), WithLimitsSource(src))
	if got := m.Limits().LimitFor("C"); got != 3 {
		t.Fatalf("LimitFor(C) = %d, want 3", got)
	}

	fail.Store(true)
	err := m.Reload(context.Background())
	if !errors.Is(err, ErrConfigUnavailable) {
		t.Fatalf("Reload err = %v, want ErrConfigUnavailable", err)
	}
	if got := m.Limits().LimitFor("C"); got != 3 {
		t.Fatalf("LimitFor(C) after failed reload = %d, want 3", got)
	}
	if got := m.CPUPool().Size(); got != 4 {
		t.Fatalf("cpu size = %d, want 4", got)
	}
}

func TestReloadAppliesAndResetsDroppedDevices(t *testing.T) {
	t.Parallel()
	var round atomic.Int32
	src := LimitsFunc(func(context.Context) (Limits, error) {
		l := testLimits()
		switch round.Load() {
		case 0:
			l.DeviceLimits = map[device.ID]int{"C": 5}
		case 1:
			l.CPUWorkers = 2
			l.IOWorkers = 3
		}
		return l, nil
	})
	m := newManager(t, testLimits(), WithLimitsSource(src))
	_, sem := m.DeviceSemaphore(`C:\movies`)
	if got := sem.Max(); got != 5 {
		t.Fatalf("Max = %d, want 5", got)
	}

	round.Store(1)
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if got := sem.Max(); got != 2 {
		t.Fatalf("Max after reload = %d, want default 2", got)
	}
	if got := m.CPUPool().Size(); got != 2 {
		t.Fatalf("cpu size = %d, want 2", got)
	}
	if got := m.IOPool().Size(); got != 3 {
		t.Fatalf("io size = %d, want 3", got)
	}
}

func TestReloadSkipsInvalidValues(t *testing.T) {
	t.Parallel()
	src := StaticLimits(Limits{CPUWorkers: 0, IOWorkers: 6, DefaultDeviceLimit: 1, DeviceLimits: map[device.ID]int{"C": -1, "D": 4}})
	m := newManager(t, testLimits())
	m.source = src

	err := m.Reload(context.Background())
	if !errors.Is(err, ErrInvalidResize) {
		t.Fatalf("Reload err = %v, want ErrInvalidResize", err)
	}
	lim := m.Limits()
	if lim.CPUWorkers != 4 {
		t.Fatalf("CPUWorkers = %d, want 4 (kept)", lim.CPUWorkers)
	}
	if lim.IOWorkers != 6 || m.IOPool().Size() != 6 {
		t.Fatalf("IOWorkers = %d / pool %d, want 6", lim.IOWorkers, m.IOPool().Size())
	}
	if got := lim.LimitFor("C"); got != 1 {
		t.Fatalf("LimitFor(C) = %d, want default 1", got)
	}
	if got := lim.LimitFor("D"); got != 4 {
		t.Fatalf("LimitFor(D) = %d, want 4", got)
	}
}

func TestDeviceAliases(t *testing.T) {
	t.Parallel()
	lim := testLimits()
	lim.DeviceAliases = map[device.ID]device.ID{"E": "D"}
	m := newManager(t, lim)
	idE, semE := m.DeviceSemaphore(`E:\tv`)
	idD, semD := m.DeviceSemaphore(`D:\films`)
	if idE != "D" || idD != "D" || semE != semD {
		t.Fatalf("aliased devices not shared: %q %q", idE, idD)
	}
}

func TestCloseRejectsNewWork(t *testing.T) {
	t.Parallel()
	m, err := New(context.Background(), WithDefaults(testLimits()))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := m.SubmitCPU(context.Background(), "x", func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("SubmitCPU err = %v, want ErrClosed", err)
	}
	if err := m.SubmitIO(context.Background(), `C:\`, "x", func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("SubmitIO err = %v, want ErrClosed", err)
	}
	if err := m.Reload(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Reload err = %v, want ErrClosed", err)
	}
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

type panickyCollector struct{}

func (panickyCollector) RecordOperation(metrics.ResourceType, string, time.Duration, time.Duration) {
	panic("collector broke")
}

func TestCollectorDoesNotAffectScheduling(t *testing.T) {
	t.Parallel()
	for _, c := range []metrics.Collector{nil, panickyCollector{}} {
		m := newManager(t, testLimits(), WithCollector(c))
		if err := m.SubmitCPU(context.Background(), "hash", func(context.Context) error { return nil }); err != nil {
			t.Fatalf("SubmitCPU err = %v", err)
		}
		if err := m.SubmitIO(context.Background(), `C:\f`, "read", func(context.Context) error { return nil }); err != nil {
			t.Fatalf("SubmitIO err = %v", err)
		}
	}
}

func TestMetricsRecorded(t *testing.T) {
	t.Parallel()
	stats := metrics.NewStats()
	m := newManager(t, testLimits(), WithCollector(stats))
	_ = m.SubmitCPU(context.Background(), "hash", func(context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	_ = m.SubmitIO(context.Background(), `C:\f`, "read", func(context.Context) error { return errors.New("eof") })

	cpu, ok := stats.Get(metrics.CPU, "hash")
	if !ok || cpu.Count != 1 || cpu.TotalExec < 5*time.Millisecond {
		t.Fatalf("cpu stats = %+v", cpu)
	}
	io, ok := stats.Get(metrics.IO, "read")
	if !ok || io.Count != 1 || io.Errors != 1 {
		t.Fatalf("io stats = %+v", io)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	m := newManager(t, testLimits())
	m.DeviceSemaphore(`D:\x`)
	m.DeviceSemaphore(`C:\x`)
	snap := m.Snapshot()
	if len(snap.Devices) != 2 || snap.Devices[0].ID != "C" || snap.Devices[1].Max != 2 {
		t.Fatalf("unexpected devices: %+v", snap.Devices)
	}
	if snap.CPU.Size != 4 || snap.IO.Size != 8 {
		t.Fatalf("unexpected pools: cpu=%d io=%d", snap.CPU.Size, snap.IO.Size)
	}
}
