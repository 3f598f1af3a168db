// Package respool arbitrates CPU-bound and IO-bound work for the process.
//
// A Manager owns a CPU worker pool, an IO worker pool and one resizable
// semaphore per physical device. IO work first takes a permit on the device
// that holds its path, then runs either on the caller or on the IO pool while
// the permit is held. All limits can change at runtime through Reload or the
// Resize methods without cancelling work already accepted.
package respool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"peerpool/internal/device"
	"peerpool/internal/eventbus"
	"peerpool/internal/metrics"
	"peerpool/internal/semaphore"
	"peerpool/internal/workerpool"
	"peerpool/pkg/logx"
)

const (
	cpuPoolName = "cpu"
	ioPoolName  = "io"

	defaultResizeTimeout = 30 * time.Second
)

type Manager struct {
	log       logx.Logger
	bus       eventbus.Bus
	collector metrics.Collector
	resolver  *device.Resolver
	source    LimitsSource
	warn      *logx.Throttle

	resizeTimeout time.Duration
	defaults      Limits

	cpu *workerpool.Pool
	io  *workerpool.Pool

	// reloadMu serializes limit changes; mu guards limits and devices.
	reloadMu sync.Mutex
	mu       sync.Mutex
	limits   Limits
	devices  map[device.ID]*semaphore.Semaphore

	closed atomic.Bool
}

type Option func(*Manager)

func WithLogger(log logx.Logger) Option { return func(m *Manager) { m.log = log } }
func WithBus(b eventbus.Bus) Option     { return func(m *Manager) { m.bus = b } }

// WithCollector sets the metrics sink. nil disables metrics.
func WithCollector(c metrics.Collector) Option { return func(m *Manager) { m.collector = c } }

func WithResolver(r *device.Resolver) Option { return func(m *Manager) { m.resolver = r } }

// WithLimitsSource sets where Reload reads limits from.
func WithLimitsSource(s LimitsSource) Option { return func(m *Manager) { m.source = s } }

// WithDefaults sets the limits used when the source is unavailable at start.
func WithDefaults(l Limits) Option { return func(m *Manager) { m.defaults = l.Clone() } }

// WithResizeTimeout bounds how long Reload waits for a previous pool drain.
func WithResizeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.resizeTimeout = d
		}
	}
}

// New builds the manager and its pools. Limits are fetched once from the
// source; an unreachable source is logged and the defaults are used.
func New(ctx context.Context, opts ...Option) (*Manager, error) {
	m := &Manager{
		defaults:      DefaultLimits(),
		resizeTimeout: defaultResizeTimeout,
		devices:       map[device.ID]*semaphore.Semaphore{},
		warn:          logx.NewThrottle(time.Minute, 3),
	}
	for _, o := range opts {
		o(m)
	}
	if m.resolver == nil {
		m.resolver = device.Default
	}
	m.log = m.log.With(logx.String("component", "respool"))

	lim := m.defaults.Clone()
	if m.source != nil {
		got, err := m.source.FetchLimits(ctx)
		if err != nil {
			m.log.Warn("limits unavailable at start; using defaults", logx.Err(err))
		} else {
			lim = got
		}
	}
	lim, invalid := sanitize(lim, m.defaults)
	for _, err := range invalid {
		m.log.Warn("ignoring invalid limit", logx.Err(err))
	}
	m.limits = lim

	var err error
	m.cpu, err = workerpool.New(cpuPoolName, lim.CPUWorkers, workerpool.WithLogger(m.log), workerpool.WithBus(m.bus))
	if err != nil {
		return nil, fmt.Errorf("cpu pool: %w", err)
	}
	m.io, err = workerpool.New(ioPoolName, lim.IOWorkers, workerpool.WithLogger(m.log), workerpool.WithBus(m.bus))
	if err != nil {
		_ = m.cpu.Close(ctx)
		return nil, fmt.Errorf("io pool: %w", err)
	}

	m.log.Info("resource manager started",
		logx.Int("cpu_workers", lim.CPUWorkers),
		logx.Int("io_workers", lim.IOWorkers),
		logx.Int("default_device_limit", lim.DefaultDeviceLimit),
		logx.Int("device_limits", len(lim.DeviceLimits)),
	)
	return m, nil
}

// sanitize replaces non-positive values with fallback ones and reports each.
func sanitize(l, fallback Limits) (Limits, []error) {
	var errs []error
	l = l.Clone()
	check := func(name string, v *int, def int) {
		if *v < 1 {
			errs = append(errs, fmt.Errorf("%w: %s=%d", ErrInvalidResize, name, *v))
			*v = def
		}
	}
	check("cpu_workers", &l.CPUWorkers, fallback.CPUWorkers)
	check("io_workers", &l.IOWorkers, fallback.IOWorkers)
	check("default_device_limit", &l.DefaultDeviceLimit, fallback.DefaultDeviceLimit)
	for id, n := range l.DeviceLimits {
		if n < 1 {
			errs = append(errs, fmt.Errorf("%w: device %s limit=%d", ErrInvalidResize, id, n))
			if prev, ok := fallback.DeviceLimits[id]; ok && prev >= 1 {
				l.DeviceLimits[id] = prev
			} else {
				delete(l.DeviceLimits, id)
			}
		}
	}
	return l, errs
}

func (m *Manager) CPUPool() *workerpool.Pool { return m.cpu }
func (m *Manager) IOPool() *workerpool.Pool  { return m.io }

// Resolve maps path to the physical device whose semaphore governs it.
func (m *Manager) Resolve(path string) device.ID {
	id := m.resolver.Resolve(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits.Physical(id)
}

// DeviceSemaphore returns the semaphore for path's device, creating it with
// the configured or default limit on first use.
func (m *Manager) DeviceSemaphore(path string) (device.ID, *semaphore.Semaphore) {
	id := m.resolver.Resolve(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	id = m.limits.Physical(id)
	return id, m.semaphoreLocked(id)
}

func (m *Manager) semaphoreLocked(id device.ID) *semaphore.Semaphore {
	if s, ok := m.devices[id]; ok {
		return s
	}
	// LimitFor is always >= 1, so New cannot fail here.
	s, _ := semaphore.New(m.limits.LimitFor(id))
	m.devices[id] = s
	m.log.Debug("device semaphore created", logx.String("device", string(id)), logx.Int("limit", s.Max()))
	return s
}

// Limits returns a copy of the limits in force.
func (m *Manager) Limits() Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits.Clone()
}

func (m *Manager) Closed() bool { return m.closed.Load() }

// Close drains both pools, bounded by ctx. The manager cannot be reused.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := m.cpu.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := m.io.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	m.log.Info("resource manager closed")
	return joinErrs(errs)
}

type DeviceStats struct {
	ID device.ID `json:"id"`
	semaphore.Stats
}

type Snapshot struct {
	Limits  Limits           `json:"limits"`
	CPU     workerpool.Stats `json:"cpu"`
	IO      workerpool.Stats `json:"io"`
	Devices []DeviceStats    `json:"devices"`
	Closed  bool             `json:"closed"`
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	snap := Snapshot{Limits: m.limits.Clone(), Closed: m.closed.Load()}
	for id, s := range m.devices {
		snap.Devices = append(snap.Devices, DeviceStats{ID: id, Stats: s.Stats()})
	}
	m.mu.Unlock()
	sort.Slice(snap.Devices, func(i, j int) bool { return snap.Devices[i].ID < snap.Devices[j].ID })
	snap.CPU = m.cpu.Stats()
	snap.IO = m.io.Stats()
	return snap
}

// record reports op; a misbehaving collector never affects scheduling.
func (m *Manager) record(op *metrics.OperationMetric) {
	if m.collector == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.warn.Warn(m.log, "collector.panic", "metrics collector panicked", logx.Any("panic", r))
		}
	}()
	op.Report(m.collector)
}
