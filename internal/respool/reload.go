package respool

import (
	"context"
	"fmt"

	"peerpool/internal/device"
	"peerpool/internal/eventbus"
	"peerpool/internal/semaphore"
	"peerpool/pkg/logx"
)

// Reload fetches limits from the source and applies them. If the source
// fails, the current limits stay in force and the error wraps
// ErrConfigUnavailable. Invalid values are skipped individually; the
// returned error then wraps ErrInvalidResize while the valid ones still apply.
func (m *Manager) Reload(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.source == nil {
		return nil
	}
	lim, err := m.source.FetchLimits(ctx)
	if err != nil {
		m.warn.Warn(m.log, "reload.unavailable", "limits unavailable; keeping current limits", logx.Err(err))
		eventbus.Emit(m.bus, eventbus.TypeLimitsReloadFailed, eventbus.ReloadFailed{Err: err.Error()})
		return fmt.Errorf("%w: %w", ErrConfigUnavailable, err)
	}
	return m.Apply(ctx, lim)
}

// Apply makes lim the limits in force. Pools are resized with
// drain-and-swap; device semaphores are resized in place, and devices no
// longer listed fall back to the default limit.
func (m *Manager) Apply(ctx context.Context, lim Limits) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	prev := m.Limits()
	lim, errs := sanitize(lim, prev)

	rctx, cancel := context.WithTimeout(ctx, m.resizeTimeout)
	defer cancel()
	if lim.CPUWorkers != m.cpu.Size() {
		if err := m.cpu.Resize(rctx, lim.CPUWorkers); err != nil {
			errs = append(errs, fmt.Errorf("cpu pool: %w", poolErr(err)))
			lim.CPUWorkers = m.cpu.Size()
		}
	}
	if lim.IOWorkers != m.io.Size() {
		if err := m.io.Resize(rctx, lim.IOWorkers); err != nil {
			errs = append(errs, fmt.Errorf("io pool: %w", poolErr(err)))
			lim.IOWorkers = m.io.Size()
		}
	}

	changed := m.swapLimits(lim)
	for _, err := range errs {
		m.log.Warn("limit not applied", logx.Err(err))
	}
	m.log.Info("limits applied",
		logx.Int("cpu_workers", lim.CPUWorkers),
		logx.Int("io_workers", lim.IOWorkers),
		logx.Int("default_device_limit", lim.DefaultDeviceLimit),
		logx.Int("devices_changed", changed),
	)
	eventbus.Emit(m.bus, eventbus.TypeLimitsReloaded, lim.Clone())
	return joinErrs(errs)
}

// swapLimits installs lim and resizes every existing device semaphore whose
// limit changed. Aliases only affect devices resolved afterwards.
func (m *Manager) swapLimits(lim Limits) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = lim
	changed := 0
	for id, sem := range m.devices {
		if m.resizeDeviceLocked(id, sem, lim.LimitFor(id)) {
			changed++
		}
	}
	return changed
}

func (m *Manager) resizeDeviceLocked(id device.ID, sem *semaphore.Semaphore, to int) bool {
	from := sem.Max()
	if from == to {
		return false
	}
	if err := sem.Resize(to); err != nil {
		m.log.Error("device resize failed", logx.String("device", string(id)), logx.Err(err))
		return false
	}
	m.log.Info("device.limit_changed", logx.String("device", string(id)), logx.Int("from", from), logx.Int("to", to))
	eventbus.Emit(m.bus, eventbus.TypeDeviceLimitChanged, eventbus.DeviceLimitChanged{Device: string(id), From: from, To: to})
	return true
}

// ResizeCPU changes the CPU pool size. n < 1 is rejected with no change.
func (m *Manager) ResizeCPU(ctx context.Context, n int) error {
	return m.resizePool(ctx, ClassCPU, n)
}

// ResizeIO changes the IO pool size. n < 1 is rejected with no change.
func (m *Manager) ResizeIO(ctx context.Context, n int) error {
	return m.resizePool(ctx, ClassIO, n)
}

func (m *Manager) resizePool(ctx context.Context, class Class, n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %s pool size %d", ErrInvalidResize, class, n)
	}
	if m.closed.Load() {
		return ErrClosed
	}
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	p := m.cpu
	if class == ClassIO {
		p = m.io
	}
	if err := p.Resize(ctx, n); err != nil {
		return poolErr(err)
	}
	m.mu.Lock()
	if class == ClassIO {
		m.limits.IOWorkers = n
	} else {
		m.limits.CPUWorkers = n
	}
	m.mu.Unlock()
	return nil
}

// SetDeviceLimit changes one device's admission limit. Holders above a
// lowered limit keep their permits.
func (m *Manager) SetDeviceLimit(id device.ID, n int) error {
	if n < 1 {
		return fmt.Errorf("%w: device %s limit %d", ErrInvalidResize, id, n)
	}
	if m.closed.Load() {
		return ErrClosed
	}
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	lim := m.limits.Clone()
	if lim.DeviceLimits == nil {
		lim.DeviceLimits = map[device.ID]int{}
	}
	lim.DeviceLimits[id] = n
	m.limits = lim
	if sem, ok := m.devices[id]; ok {
		m.resizeDeviceLocked(id, sem, n)
	}
	return nil
}

// SetDefaultDeviceLimit changes the limit for devices without their own entry.
func (m *Manager) SetDefaultDeviceLimit(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: default device limit %d", ErrInvalidResize, n)
	}
	if m.closed.Load() {
		return ErrClosed
	}
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits.DefaultDeviceLimit = n
	for id, sem := range m.devices {
		m.resizeDeviceLocked(id, sem, m.limits.LimitFor(id))
	}
	return nil
}
