package respool

import (
	"context"
	"maps"
	"runtime"

	"peerpool/internal/device"
)

const (
	DefaultIOWorkers   = 32
	DefaultDeviceLimit = 2
)

// Limits are the externally configured concurrency ceilings.
type Limits struct {
	CPUWorkers         int               `json:"cpu_workers"`
	IOWorkers          int               `json:"io_workers"`
	DefaultDeviceLimit int               `json:"default_device_limit"`
	DeviceLimits       map[device.ID]int `json:"device_limits,omitempty"`
	// DeviceAliases maps a resolved ID onto the physical device that backs it,
	// e.g. two partitions of one disk.
	DeviceAliases map[device.ID]device.ID `json:"device_aliases,omitempty"`
}

func DefaultLimits() Limits {
	return Limits{
		CPUWorkers:         runtime.NumCPU(),
		IOWorkers:          DefaultIOWorkers,
		DefaultDeviceLimit: DefaultDeviceLimit,
	}
}

// Clone returns a deep copy.
func (l Limits) Clone() Limits {
	l.DeviceLimits = maps.Clone(l.DeviceLimits)
	l.DeviceAliases = maps.Clone(l.DeviceAliases)
	return l
}

// LimitFor returns the admission limit for a physical device.
func (l Limits) LimitFor(id device.ID) int {
	if n, ok := l.DeviceLimits[id]; ok && n >= 1 {
		return n
	}
	if l.DefaultDeviceLimit >= 1 {
		return l.DefaultDeviceLimit
	}
	return DefaultDeviceLimit
}

// Physical follows the alias table once.
func (l Limits) Physical(id device.ID) device.ID {
	if to, ok := l.DeviceAliases[id]; ok && to != "" {
		return to
	}
	return id
}

// LimitsSource is the synchronous "fetch limits" collaborator.
type LimitsSource interface {
	FetchLimits(ctx context.Context) (Limits, error)
}

// LimitsFunc adapts a function to LimitsSource.
type LimitsFunc func(ctx context.Context) (Limits, error)

func (f LimitsFunc) FetchLimits(ctx context.Context) (Limits, error) { return f(ctx) }

// StaticLimits always returns the same limits.
type StaticLimits Limits

func (s StaticLimits) FetchLimits(context.Context) (Limits, error) { return Limits(s).Clone(), nil }
