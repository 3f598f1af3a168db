package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"peerpool/internal/config"
	"peerpool/internal/device"
	"peerpool/internal/respool"
	"peerpool/internal/storage"
)

var ErrStorageDisabled = errors.New("storage is disabled; set storage.driver to persist overrides")

// SetOverride persists o and audits it. Running instances pick it up at
// their next limits reload.
func SetOverride(ctx context.Context, st storage.Store, o storage.Override, source string) error {
	if st == nil {
		return ErrStorageDisabled
	}
	o.Key = strings.TrimSpace(o.Key)
	if o.Kind == storage.KindDevice {
		o.Key = string(device.Normalize(o.Key))
	}
	if o.Kind == storage.KindPool {
		o.Key = strings.ToLower(o.Key)
	}

	from := 0
	if cur, err := st.Overrides(ctx); err == nil {
		for _, c := range cur {
			if c.Kind == o.Kind && c.Key == o.Key {
				from = c.Value
			}
		}
	}

	err := st.PutOverride(ctx, o)
	entry := storage.AuditEntry{
		At:     time.Now(),
		Source: source,
		Action: "override.set",
		Target: o.Kind + ":" + o.Key,
		From:   from,
		To:     o.Value,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if aerr := st.AppendAudit(ctx, entry); aerr != nil {
		return errors.Join(err, aerr)
	}
	return err
}

// EffectiveLimits is what a manager started with cfg and st would run with.
func EffectiveLimits(ctx context.Context, cfg *config.Config, st storage.Store) (respool.Limits, []storage.Override, error) {
	lim := LimitsFromConfig(cfg.Resources, respool.DefaultLimits())
	if st == nil {
		return lim, nil, nil
	}
	ov, err := st.Overrides(ctx)
	if err != nil {
		return lim, nil, err
	}
	lim, err = ApplyOverrides(lim, ov)
	return lim, ov, err
}

// SetOverride persists o and reloads the manager so it applies at once.
func (a *App) SetOverride(ctx context.Context, o storage.Override) error {
	if err := SetOverride(ctx, a.store, o, "api"); err != nil {
		return err
	}
	return a.mgr.Reload(ctx)
}
