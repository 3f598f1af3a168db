package config

import (
	"reflect"
	"sort"
	"strings"

	"peerpool/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed top-level sections,
// (2) structured fields describing the new values for logging, and
// (3) the device keys whose limit or alias changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	o, n := oldCfg.Resources, newCfg.Resources
	devices := changedDevices(o, n)
	if o.CPUWorkers != n.CPUWorkers ||
		o.IOWorkers != n.IOWorkers ||
		o.DefaultDeviceLimit != n.DefaultDeviceLimit ||
		strings.TrimSpace(o.ReloadEvery) != strings.TrimSpace(n.ReloadEvery) ||
		strings.TrimSpace(o.ResizeTimeout) != strings.TrimSpace(n.ResizeTimeout) ||
		o.Metrics != n.Metrics ||
		len(devices) > 0 {
		changed = append(changed, "resources")
		attrs = append(attrs,
			logx.Int("resources.cpu_workers", n.CPUWorkers),
			logx.Int("resources.io_workers", n.IOWorkers),
			logx.Int("resources.default_device_limit", n.DefaultDeviceLimit),
			logx.Int("resources.devices_changed", len(devices)),
			logx.Bool("resources.metrics", n.Metrics.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	if !reflect.DeepEqual(oldCfg.Scanner, newCfg.Scanner) {
		changed = append(changed, "scanner")
		if sc := newCfg.Scanner; sc != nil {
			attrs = append(attrs,
				logx.Bool("scanner.enabled", sc.Enabled),
				logx.Int("scanner.roots", len(sc.Roots)),
				logx.String("scanner.schedule", sc.Schedule),
			)
		}
	}

	return changed, attrs, devices
}

func changedDevices(o, n ResourcesConfig) []string {
	set := map[string]struct{}{}
	for k, v := range o.DeviceLimits {
		if nv, ok := n.DeviceLimits[k]; !ok || nv != v {
			set[k] = struct{}{}
		}
	}
	for k := range n.DeviceLimits {
		if _, ok := o.DeviceLimits[k]; !ok {
			set[k] = struct{}{}
		}
	}
	for k, v := range o.DeviceAliases {
		if nv, ok := n.DeviceAliases[k]; !ok || nv != v {
			set[k] = struct{}{}
		}
	}
	for k := range n.DeviceAliases {
		if _, ok := o.DeviceAliases[k]; !ok {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
