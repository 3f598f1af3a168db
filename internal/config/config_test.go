package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
resources:
  cpu_workers: 4
  io_workers: 16
  default_device_limit: 2
  device_limits:
    C: 3
    /mnt/media: 1
  device_aliases:
    E: D
  reload_every: 5m
  metrics:
    enabled: true
    slow_threshold: 1s
storage:
  driver: sqlite
  path: ./peerpool.db
scanner:
  enabled: true
  roots: [/mnt/media]
  include: ["**/*.{mkv,mp4}"]
  schedule: "0 3 * * *"
`

func TestParseYAML(t *testing.T) {
	t.Parallel()
	cfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseBytes error: %v", err)
	}
	if cfg.Resources.CPUWorkers != 4 || cfg.Resources.DeviceLimits["/mnt/media"] != 1 {
		t.Fatalf("unexpected resources: %+v", cfg.Resources)
	}
	if cfg.Resources.DeviceAliases["E"] != "D" {
		t.Fatalf("aliases = %v", cfg.Resources.DeviceAliases)
	}
	if cfg.Scanner == nil || cfg.Scanner.Include[0] != "**/*.{mkv,mp4}" {
		t.Fatalf("scanner = %+v", cfg.Scanner)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := ParseBytes("config.json", []byte(`{"resources":{"cpu_workerz":2}}`))
	if err == nil || !strings.Contains(err.Error(), "cpu_workerz") {
		t.Fatalf("err = %v, want unknown field error", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	if _, err := ParseBytes("config.json", []byte(`{} {}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Resources: ResourcesConfig{
			CPUWorkers:    -1,
			DeviceLimits:  map[string]int{"C": 0},
			ReloadEvery:   "sometimes",
			ResizeTimeout: "soon",
		},
		Storage: &StorageConfig{Driver: "postgres"},
		Scanner: &ScannerConfig{Enabled: true, Include: []string{"[bad"}, Algorithm: "crc32"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"cpu_workers", "device_limits[C]", "reload_every", "resize_timeout",
		"storage.driver", "scanner.roots", "invalid pattern", "scanner.algorithm",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{Resources: ResourcesConfig{CPUWorkers: 4, DeviceLimits: map[string]int{"C": 2, "D": 1}}}
	next := &Config{
		Logging:   LoggingConfig{Level: "debug"},
		Resources: ResourcesConfig{CPUWorkers: 4, DeviceLimits: map[string]int{"C": 3}, DeviceAliases: map[string]string{"E": "C"}},
	}
	sections, attrs, devices := SummarizeConfigChange(old, next)
	if strings.Join(sections, ",") != "logging,resources" {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	if strings.Join(devices, ",") != "C,D,E" {
		t.Fatalf("devices = %v", devices)
	}

	if s, _, d := SummarizeConfigChange(next, next); len(s) != 0 || len(d) != 0 {
		t.Fatalf("identical configs reported changes: %v %v", s, d)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("empty: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
}

func TestParseDurationFieldNamesKey(t *testing.T) {
	t.Parallel()
	_, err := ParseDurationField("resources.resize_timeout", "soon")
	if err == nil || !strings.Contains(err.Error(), "resources.resize_timeout") {
		t.Fatalf("err = %v", err)
	}
	d, err := ParseDurationOrDefault("storage.busy_timeout", " 250ms ", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("got %v %v", d, err)
	}
}

func TestParseBytesYAMLNumericDeviceKey(t *testing.T) {
	t.Parallel()
	cfg, err := ParseBytes("peerpool.yml", []byte("resources:\n  device_limits:\n    1: 2\n"))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if cfg.Resources.DeviceLimits["1"] != 2 {
		t.Fatalf("device_limits = %v", cfg.Resources.DeviceLimits)
	}
	if _, err := ParseBytes("peerpool.yaml", []byte("resources: [")); err == nil || !strings.Contains(err.Error(), "peerpool.yaml") {
		t.Fatalf("bad yaml err = %v", err)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "peerpool.json")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(`{"resources":{"cpu_workers":2}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)

	write(`{"resources":{"cpu_workers":-5}}`)
	time.Sleep(500 * time.Millisecond)
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg.Resources)
	default:
	}

	write(`{"resources":{"cpu_workers":6}}`)
	select {
	case cfg := <-ch:
		if cfg.Resources.CPUWorkers != 6 {
			t.Fatalf("CPUWorkers = %d, want 6", cfg.Resources.CPUWorkers)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config change not published")
	}
	if got := m.Get().Resources.CPUWorkers; got != 6 {
		t.Fatalf("Get().CPUWorkers = %d, want 6", got)
	}
}
