package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"peerpool/internal/app"
	"peerpool/internal/config"
	"peerpool/internal/device"
	"peerpool/internal/media"
	"peerpool/internal/parallel"
	"peerpool/internal/respool"
	"peerpool/internal/storage"
	"peerpool/pkg/logx"

	"github.com/alexflint/go-arg"
	"github.com/dustin/go-humanize"
)

type runCmd struct{}

type hashCmd struct {
	Paths     []string `arg:"positional,required" help:"files to hash"`
	Algorithm string   `arg:"-a,--algorithm" help:"sha256 (default), sha1 or md5"`
}

type resolveCmd struct {
	Paths []string `arg:"positional,required" help:"paths to resolve to a physical device"`
}

type setLimitCmd struct {
	Device string `arg:"--device,required" help:"device id as printed by resolve"`
	Limit  int    `arg:"--limit,required" help:"concurrent IO operations allowed on the device"`
}

type setPoolCmd struct {
	Class string `arg:"--class,required" help:"cpu, io or default_device"`
	Size  int    `arg:"--size,required" help:"new size"`
}

type limitsCmd struct {
	Audit int `arg:"--audit" default:"10" help:"number of recent audit entries to show"`
}

type args struct {
	Config string `arg:"-c,--config,env:PEERPOOL_CONFIG" default:"./peerpool.yaml" help:"path to config (json or yaml)"`

	Run      *runCmd      `arg:"subcommand:run" help:"run the resource manager until interrupted"`
	Hash     *hashCmd     `arg:"subcommand:hash" help:"hash files through the resource pools"`
	Resolve  *resolveCmd  `arg:"subcommand:resolve" help:"print the physical device of each path"`
	SetLimit *setLimitCmd `arg:"subcommand:set-limit" help:"persist a device limit override"`
	SetPool  *setPoolCmd  `arg:"subcommand:set-pool" help:"persist a pool size override"`
	Limits   *limitsCmd   `arg:"subcommand:limits" help:"show effective limits, overrides and recent audit entries"`
}

func (args) Description() string {
	return "peerpool arbitrates CPU-bound and per-device IO-bound work for a media peer"
}

func (args) Version() string { return "peerpool 0.1.0" }

func main() {
	var a args
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case a.Run != nil:
		err = run(ctx, a.Config)
	case a.Hash != nil:
		err = hash(ctx, a.Config, a.Hash)
	case a.Resolve != nil:
		resolve(a.Resolve)
	case a.SetLimit != nil:
		err = setOverride(ctx, a.Config, storage.Override{Kind: storage.KindDevice, Key: a.SetLimit.Device, Value: a.SetLimit.Limit})
	case a.SetPool != nil:
		err = setPool(ctx, a.Config, a.SetPool)
	case a.Limits != nil:
		err = limits(ctx, a.Config, a.Limits)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSIGINT
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

func hash(ctx context.Context, cfgPath string, c *hashCmd) error {
	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopAppStop)
	}()

	h := a.Hasher()
	if strings.TrimSpace(c.Algorithm) != "" {
		algo, err := media.ParseAlgorithm(c.Algorithm)
		if err != nil {
			return err
		}
		if h, err = media.NewHasher(a.Manager(), algo); err != nil {
			return err
		}
	}

	tasks := make([]parallel.Task[media.Digest], len(c.Paths))
	for i, p := range c.Paths {
		tasks[i] = parallel.Call(h.Hash, p)
	}
	results, err := parallel.ExecuteAll(ctx, tasks...)
	if err != nil {
		return err
	}

	var failed int
	for i, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", c.Paths[i], r.Err)
			continue
		}
		d := r.Value
		fmt.Printf("%s  %s  (%s, %s)\n", d.Sum, d.Path, humanize.IBytes(uint64(d.Size)), d.Took.Round(time.Millisecond))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(c.Paths))
	}
	return nil
}

func resolve(c *resolveCmd) {
	for _, p := range c.Paths {
		fmt.Printf("%s\t%s\n", device.Default.Resolve(p), p)
	}
}

func setPool(ctx context.Context, cfgPath string, c *setPoolCmd) error {
	class := strings.ToLower(strings.TrimSpace(c.Class))
	switch class {
	case storage.PoolCPU, storage.PoolIO, storage.PoolDefaultDevice:
	default:
		return fmt.Errorf("unknown class %q (want cpu, io or default_device)", c.Class)
	}
	return setOverride(ctx, cfgPath, storage.Override{Kind: storage.KindPool, Key: class, Value: c.Size})
}

func openStore(cfgPath string) (*config.Config, storage.Store, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, nil, err
	}
	st, err := app.OpenStore(cfg, logx.NewConsole("warn"))
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

func setOverride(ctx context.Context, cfgPath string, o storage.Override) error {
	if o.Value < 1 {
		return fmt.Errorf("%w: %d", respool.ErrInvalidResize, o.Value)
	}
	_, st, err := openStore(cfgPath)
	if err != nil {
		return err
	}
	if st == nil {
		return app.ErrStorageDisabled
	}
	defer st.Close()
	if err := app.SetOverride(ctx, st, o, "cli"); err != nil {
		return err
	}
	fmt.Printf("%s %s set to %d; applied at the next limits reload\n", o.Kind, o.Key, o.Value)
	return nil
}

func limits(ctx context.Context, cfgPath string, c *limitsCmd) error {
	cfg, st, err := openStore(cfgPath)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	lim, ov, err := app.EffectiveLimits(ctx, cfg, st)
	if err != nil && !errors.Is(err, storage.ErrDisabled) {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}
	out := struct {
		Limits    respool.Limits       `json:"limits"`
		Overrides []storage.Override   `json:"overrides,omitempty"`
		Audit     []storage.AuditEntry `json:"audit,omitempty"`
	}{Limits: lim, Overrides: ov}
	if st != nil && c.Audit > 0 {
		if out.Audit, err = st.RecentAudit(ctx, c.Audit); err != nil {
			fmt.Fprintln(os.Stderr, "warning:", err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
