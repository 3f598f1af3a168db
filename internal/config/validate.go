package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"peerpool/internal/schedule"
)

// Validate checks cfg without touching any runtime state. It reports every
// problem it finds.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	r := cfg.Resources
	if r.CPUWorkers < 0 {
		add(fmt.Errorf("resources.cpu_workers: must be >= 1 (or 0 for default), got %d", r.CPUWorkers))
	}
	if r.IOWorkers < 0 {
		add(fmt.Errorf("resources.io_workers: must be >= 1 (or 0 for default), got %d", r.IOWorkers))
	}
	if r.DefaultDeviceLimit < 0 {
		add(fmt.Errorf("resources.default_device_limit: must be >= 1 (or 0 for default), got %d", r.DefaultDeviceLimit))
	}
	for dev, n := range r.DeviceLimits {
		if strings.TrimSpace(dev) == "" {
			add(errors.New("resources.device_limits: empty device key"))
		}
		if n < 1 {
			add(fmt.Errorf("resources.device_limits[%s]: must be >= 1, got %d", dev, n))
		}
	}
	for from, to := range r.DeviceAliases {
		if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
			add(fmt.Errorf("resources.device_aliases: empty entry %q -> %q", from, to))
		}
	}
	if s := strings.TrimSpace(r.ReloadEvery); s != "" {
		if _, err := schedule.Parse(s); err != nil {
			add(fmt.Errorf("resources.reload_every: %w", err))
		}
	}
	_, err := ParseDurationField("resources.resize_timeout", r.ResizeTimeout)
	add(err)
	_, err = ParseDurationField("resources.metrics.slow_threshold", r.Metrics.SlowThreshold)
	add(err)

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout)
		add(err)
	}

	if sc := cfg.Scanner; sc != nil && sc.Enabled {
		if len(sc.Roots) == 0 {
			add(errors.New("scanner.roots: at least one root required when enabled"))
		}
		for _, p := range append(append([]string{}, sc.Include...), sc.Exclude...) {
			if !doublestar.ValidatePattern(p) {
				add(fmt.Errorf("scanner: invalid pattern %q", p))
			}
		}
		if s := strings.TrimSpace(sc.Schedule); s != "" {
			if _, err := schedule.Parse(s); err != nil {
				add(fmt.Errorf("scanner.schedule: %w", err))
			}
		}
		switch strings.ToLower(strings.TrimSpace(sc.Algorithm)) {
		case "", "sha256", "sha1", "md5":
		default:
			add(fmt.Errorf("scanner.algorithm: unsupported %q", sc.Algorithm))
		}
		if sc.Parallelism < 0 {
			add(fmt.Errorf("scanner.parallelism: must be >= 0, got %d", sc.Parallelism))
		}
	}
	return errors.Join(errs...)
}
