package storage

import (
	"context"
	"errors"
	"strings"

	"peerpool/pkg/logx"
)

// Store is the persistence API used by the app and the CLI.
type Store interface {
	PutOverride(ctx context.Context, o Override) error
	DeleteOverride(ctx context.Context, kind, key string) error
	Overrides(ctx context.Context) ([]Override, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("component", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func validOverride(o Override) error {
	if o.Kind != KindDevice && o.Kind != KindPool {
		return errors.New("override: unknown kind " + o.Kind)
	}
	if strings.TrimSpace(o.Key) == "" {
		return errors.New("override: empty key")
	}
	if o.Value < 1 {
		return errors.New("override: value must be >= 1")
	}
	return nil
}
