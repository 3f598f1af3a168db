package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"peerpool/internal/config"
	"peerpool/internal/device"
	"peerpool/internal/respool"
	"peerpool/internal/storage"
	"peerpool/pkg/logx"
)

var errNoConfig = errors.New("no committed config")

// LimitsFromConfig maps the resources section onto manager limits. Omitted
// (zero) values take the defaults in def.
func LimitsFromConfig(rc config.ResourcesConfig, def respool.Limits) respool.Limits {
	lim := respool.Limits{
		CPUWorkers:         orDefault(rc.CPUWorkers, def.CPUWorkers),
		IOWorkers:          orDefault(rc.IOWorkers, def.IOWorkers),
		DefaultDeviceLimit: orDefault(rc.DefaultDeviceLimit, def.DefaultDeviceLimit),
	}
	if len(rc.DeviceLimits) > 0 {
		lim.DeviceLimits = make(map[device.ID]int, len(rc.DeviceLimits))
		for k, v := range rc.DeviceLimits {
			lim.DeviceLimits[device.Normalize(k)] = v
		}
	}
	if len(rc.DeviceAliases) > 0 {
		lim.DeviceAliases = make(map[device.ID]device.ID, len(rc.DeviceAliases))
		for k, v := range rc.DeviceAliases {
			lim.DeviceAliases[device.Normalize(k)] = device.Normalize(v)
		}
	}
	return lim
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// ApplyOverrides layers persisted operator overrides on top of lim.
func ApplyOverrides(lim respool.Limits, overrides []storage.Override) (respool.Limits, error) {
	lim = lim.Clone()
	var errs []error
	for _, o := range overrides {
		switch o.Kind {
		case storage.KindDevice:
			if lim.DeviceLimits == nil {
				lim.DeviceLimits = map[device.ID]int{}
			}
			lim.DeviceLimits[device.Normalize(o.Key)] = o.Value
		case storage.KindPool:
			switch strings.ToLower(o.Key) {
			case storage.PoolCPU:
				lim.CPUWorkers = o.Value
			case storage.PoolIO:
				lim.IOWorkers = o.Value
			case storage.PoolDefaultDevice:
				lim.DefaultDeviceLimit = o.Value
			default:
				errs = append(errs, fmt.Errorf("override: unknown pool %q", o.Key))
			}
		default:
			errs = append(errs, fmt.Errorf("override: unknown kind %q", o.Kind))
		}
	}
	return lim, errors.Join(errs...)
}

// limitsSource reads the committed config and the store on every fetch.
type limitsSource struct {
	cfgm     *config.ConfigManager
	store    storage.Store
	defaults respool.Limits
	log      logx.Logger
}

func (s *limitsSource) FetchLimits(ctx context.Context) (respool.Limits, error) {
	cfg := s.cfgm.Get()
	if cfg == nil {
		return respool.Limits{}, errNoConfig
	}
	lim := LimitsFromConfig(cfg.Resources, s.defaults)
	if s.store == nil {
		return lim, nil
	}
	ov, err := s.store.Overrides(ctx)
	if err != nil {
		return respool.Limits{}, fmt.Errorf("read overrides: %w", err)
	}
	// Unknown override entries are skipped; the rest still apply.
	lim, err = ApplyOverrides(lim, ov)
	if err != nil {
		s.log.Warn("ignoring invalid overrides", logx.Err(err))
	}
	return lim, nil
}
