package app

import (
	"context"
	"time"

	"peerpool/internal/eventbus"
	"peerpool/internal/storage"
	"peerpool/pkg/logx"
)

// auditLoop logs every bus event and records limit changes in the store.
func (a *App) auditLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			entry, ok := auditEntry(e)
			if !ok || a.store == nil {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, time.Second)
			if err := a.store.AppendAudit(wctx, entry); err != nil {
				a.log.Warn("audit write failed", logx.String("action", entry.Action), logx.Err(err))
			}
			cancel()
		}
	}
}

// auditEntry maps the events worth auditing.
func auditEntry(e eventbus.Event) (storage.AuditEntry, bool) {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	switch d := e.Data.(type) {
	case eventbus.PoolResized:
		return storage.AuditEntry{At: at, Source: "runtime", Action: e.Type, Target: d.Pool, From: d.From, To: d.To}, true
	case eventbus.DeviceLimitChanged:
		return storage.AuditEntry{At: at, Source: "runtime", Action: e.Type, Target: d.Device, From: d.From, To: d.To}, true
	case eventbus.ReloadFailed:
		return storage.AuditEntry{At: at, Source: "reload", Action: e.Type, Target: "limits", Error: d.Err}, true
	case eventbus.SemaphoreViolation:
		return storage.AuditEntry{At: at, Source: "runtime", Action: e.Type, Target: d.Device, Error: d.Err}, true
	}
	return storage.AuditEntry{}, false
}
