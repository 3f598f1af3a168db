package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON lines journal plus snapshot
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Override kinds.
const (
	KindDevice = "device" // Key is a device ID, Value its admission limit
	KindPool   = "pool"   // Key is one of the Pool* keys below
)

// Keys for KindPool overrides.
const (
	PoolCPU           = "cpu"
	PoolIO            = "io"
	PoolDefaultDevice = "default_device"
)

// Override replaces one configured limit.
type Override struct {
	Kind      string    `json:"kind"`
	Key       string    `json:"key"`
	Value     int       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditEntry records one applied (or rejected) limit change.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Source string    `json:"source"` // "reload", "cli", "override"
	Action string    `json:"action"` // e.g. "pool.resized", "device.limit_changed"
	Target string    `json:"target"`
	From   int       `json:"from"`
	To     int       `json:"to"`
	Error  string    `json:"error,omitempty"`
}
