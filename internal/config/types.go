package config

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
// Unknown keys are rejected.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Resources ResourcesConfig `json:"resources"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Scanner   *ScannerConfig  `json:"scanner,omitempty"`
}

// ResourcesConfig holds the limits the resource manager enforces.
//
// Zero values mean "use the default":
//   - cpu_workers: number of CPUs
//   - io_workers: 32
//   - default_device_limit: 2
//   - resize_timeout: "30s"
//
// Device keys are drive letters ("C", "d:") or mount points ("/mnt/media").
type ResourcesConfig struct {
	CPUWorkers         int               `json:"cpu_workers,omitempty"`
	IOWorkers          int               `json:"io_workers,omitempty"`
	DefaultDeviceLimit int               `json:"default_device_limit,omitempty"`
	DeviceLimits       map[string]int    `json:"device_limits,omitempty"`
	DeviceAliases      map[string]string `json:"device_aliases,omitempty"`

	// ReloadEvery re-reads limits on a schedule in addition to file watching.
	// Accepts cron ("*/5 * * * *"), "@every 1m", "10m" or "01:30".
	ReloadEvery string `json:"reload_every,omitempty"`

	// ResizeTimeout bounds how long a reload waits for a previous pool drain.
	ResizeTimeout string `json:"resize_timeout,omitempty"`

	Metrics MetricsConfig `json:"metrics"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
	// SlowThreshold promotes operation logs to info. Default "750ms".
	SlowThreshold string `json:"slow_threshold,omitempty"`
}

// StorageConfig controls persistence of operator overrides and the audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./peerpool.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// ScannerConfig drives the periodic media hashing scan.
type ScannerConfig struct {
	Enabled bool     `json:"enabled"`
	Roots   []string `json:"roots"`
	// Include and Exclude are doublestar patterns matched against paths
	// relative to each root, e.g. "**/*.{mkv,mp4}".
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
	// Schedule uses the same forms as resources.reload_every.
	Schedule    string `json:"schedule,omitempty"`
	Algorithm   string `json:"algorithm,omitempty"` // sha256 (default), sha1, md5
	Parallelism int    `json:"parallelism,omitempty"`
	RunOnStart  bool   `json:"run_on_start,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
