package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"peerpool/internal/config"
	"peerpool/internal/eventbus"
	"peerpool/internal/media"
	"peerpool/internal/metrics"
	"peerpool/internal/respool"
	"peerpool/internal/runtime/supervisor"
	"peerpool/internal/schedule"
	"peerpool/internal/storage"
	"peerpool/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	stats  *metrics.Stats
	mgr    *respool.Manager
	hasher *media.Hasher

	cronMu sync.Mutex
	cron   *cron.Cron

	scanMu sync.Mutex // one scan at a time
}

// NewApp loads the config file and builds every component. Nothing runs in
// the background until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := OpenStore(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	if store != nil {
		appLog.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
	}

	stats := metrics.NewStats()
	collector := metrics.Collector(stats)
	if cfg.Resources.Metrics.Enabled {
		slow, _ := config.ParseDurationOrDefault("resources.metrics.slow_threshold", cfg.Resources.Metrics.SlowThreshold, 0)
		collector = metrics.Multi(stats, metrics.NewLogCollector(log, slow))
	}

	resizeTimeout, _ := config.ParseDurationOrDefault("resources.resize_timeout", cfg.Resources.ResizeTimeout, 0)
	defaults := respool.DefaultLimits()
	mgr, err := respool.New(context.Background(),
		respool.WithLogger(log),
		respool.WithBus(bus),
		respool.WithCollector(collector),
		respool.WithDefaults(defaults),
		respool.WithLimitsSource(&limitsSource{cfgm: cfgm, store: store, defaults: defaults, log: appLog}),
		respool.WithResizeTimeout(resizeTimeout),
	)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		logSvc.Close()
		return nil, err
	}

	algo := media.SHA256
	if cfg.Scanner != nil {
		algo, err = media.ParseAlgorithm(cfg.Scanner.Algorithm)
	}
	var hasher *media.Hasher
	if err == nil {
		hasher, err = media.NewHasher(mgr, algo, media.WithLogger(log.With(logx.String("comp", "media"))))
	}
	if err != nil {
		_ = mgr.Close(context.Background())
		if store != nil {
			_ = store.Close()
		}
		logSvc.Close()
		return nil, err
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		stats:   stats,
		mgr:     mgr,
		hasher:  hasher,
	}, nil
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func (a *App) Manager() *respool.Manager     { return a.mgr }
func (a *App) Hasher() *media.Hasher         { return a.hasher }
func (a *App) Store() storage.Store          { return a.store }
func (a *App) Stats() *metrics.Stats         { return a.stats }
func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Config() *config.ConfigManager { return a.cfgm }
func (a *App) Logger() logx.Logger           { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Reject a bad hot reload before it is committed.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if cfg.Scanner != nil {
			if _, err := media.ParseAlgorithm(cfg.Scanner.Algorithm); err != nil {
				return err
			}
		}
		return nil
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.audit", func(c context.Context) error {
		defer unsub()
		a.auditLoop(c, events)
		return nil
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	cfg := a.cfgm.Get()
	if err := a.applySchedules(cfg); err != nil {
		return err
	}
	if sc := cfg.Scanner; sc != nil && sc.Enabled && sc.RunOnStart {
		a.sup.Go("scanner.initial", func(c context.Context) error {
			a.RunScan(c)
			return nil
		})
	}

	a.startWatchdog()
	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, devices := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(devices) > 0 {
		a.log.Debug("device limit changes detected", logx.Strings("devices", devices))
	}
	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(logConfig(next))

	if err := a.mgr.Reload(ctx); err != nil {
		a.log.Warn("limits reload failed; keeping previous", logx.Err(err))
	}
	if err := a.applySchedules(next); err != nil {
		a.log.Warn("schedules not updated", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applySchedules replaces the cron with one built from cfg.
func (a *App) applySchedules(cfg *config.Config) error {
	c := cron.New(
		cron.WithParser(schedule.Parser),
		cron.WithChain(cron.Recover(cronLogger{a.log}), cron.SkipIfStillRunning(cronLogger{a.log})),
	)
	ctx := a.sup.Context()

	if raw := strings.TrimSpace(cfg.Resources.ReloadEvery); raw != "" {
		if err := addJob(c, raw, func() {
			if err := a.mgr.Reload(ctx); err != nil {
				a.log.Warn("scheduled limits reload failed", logx.Err(err))
			}
		}); err != nil {
			return fmt.Errorf("resources.reload_every: %w", err)
		}
	}
	if sc := cfg.Scanner; sc != nil && sc.Enabled && strings.TrimSpace(sc.Schedule) != "" {
		if err := addJob(c, sc.Schedule, func() { a.RunScan(ctx) }); err != nil {
			return fmt.Errorf("scanner.schedule: %w", err)
		}
	}

	a.cronMu.Lock()
	old := a.cron
	a.cron = c
	a.cronMu.Unlock()
	if old != nil {
		old.Stop()
	}
	c.Start()
	return nil
}

func addJob(c *cron.Cron, raw string, fn func()) error {
	spec, err := schedule.Parse(raw)
	if err != nil {
		return err
	}
	sch, err := spec.Schedule()
	if err != nil {
		return err
	}
	c.Schedule(sch, cron.FuncJob(fn))
	return nil
}

// RunScan hashes the configured scanner roots once. A scan already in
// progress makes this a no-op.
func (a *App) RunScan(ctx context.Context) {
	if !a.scanMu.TryLock() {
		a.log.Info("scan already running; skipping")
		return
	}
	defer a.scanMu.Unlock()

	cfg := a.cfgm.Get()
	if cfg == nil || cfg.Scanner == nil || !cfg.Scanner.Enabled {
		return
	}
	sc := cfg.Scanner
	s, err := media.NewScanner(a.hasher, media.ScanOptions{
		Roots:       sc.Roots,
		Include:     sc.Include,
		Exclude:     sc.Exclude,
		Parallelism: sc.Parallelism,
	}, media.WithScanLogger(a.log.With(logx.String("comp", "scanner"))), media.WithScanBus(a.bus))
	if err != nil {
		a.log.Warn("scanner misconfigured", logx.Err(err))
		return
	}
	s.Scan(ctx)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	if a.sup != nil {
		a.sdNotify(daemon.SdNotifyStopping)
		a.sup.Cancel()
	}

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			if limit > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("cron", time.Second, func(c context.Context) error {
		a.cronMu.Lock()
		cr := a.cron
		a.cron = nil
		a.cronMu.Unlock()
		if cr == nil {
			return nil
		}
		select {
		case <-cr.Stop().Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("resources", 5*time.Second, a.mgr.Close)
	if a.sup != nil {
		step("supervisor", 2*time.Second, a.sup.Wait)
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
