package eventbus

// Event types published by the pools and the resource manager.
const (
	TypePoolResized        = "pool.resized"
	TypePoolDrained        = "pool.drained"
	TypeDeviceLimitChanged = "device.limit_changed"
	TypeLimitsReloaded     = "limits.reloaded"
	TypeLimitsReloadFailed = "limits.reload_failed"
	TypeSemaphoreViolation = "semaphore.violation"
	TypeMissingPathParam   = "task.missing_path"
	TypeScanCompleted      = "scan.completed"
)

type PoolResized struct {
	Pool       string `json:"pool"`
	From       int    `json:"from"`
	To         int    `json:"to"`
	Generation uint64 `json:"generation"`
}

type PoolDrained struct {
	Pool       string `json:"pool"`
	Generation uint64 `json:"generation"`
}

type DeviceLimitChanged struct {
	Device string `json:"device"`
	From   int    `json:"from"`
	To     int    `json:"to"`
}

type SemaphoreViolation struct {
	Device string `json:"device"`
	Op     string `json:"op"`
	Err    string `json:"err"`
}

type ReloadFailed struct {
	Err string `json:"err"`
}

type ScanCompleted struct {
	Root  string `json:"root"`
	Files int    `json:"files"`
	Bytes int64  `json:"bytes"`
	Err   string `json:"err,omitempty"`
}
