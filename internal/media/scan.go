package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"peerpool/internal/eventbus"
	"peerpool/internal/parallel"
	"peerpool/pkg/logx"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/kr/fs"
)

// ScanOptions selects the files a Scanner hashes. Patterns are doublestar
// globs matched case-insensitively against slash-separated paths relative to
// the root. An empty Include matches every file.
type ScanOptions struct {
	Roots       []string
	Include     []string
	Exclude     []string
	Parallelism int
}

// RootResult is the outcome of hashing one root.
type RootResult struct {
	Root    string
	Digests []Digest
	Failed  map[string]error
	Bytes   int64
	Took    time.Duration
	Err     error
}

type Scanner struct {
	h    *Hasher
	opts ScanOptions
	log  logx.Logger
	bus  eventbus.Bus
}

type ScannerOption func(*Scanner)

func WithScanLogger(log logx.Logger) ScannerOption { return func(s *Scanner) { s.log = log } }
func WithScanBus(b eventbus.Bus) ScannerOption      { return func(s *Scanner) { s.bus = b } }

func NewScanner(h *Hasher, opts ScanOptions, o ...ScannerOption) (*Scanner, error) {
	if h == nil {
		return nil, errors.New("media: nil hasher")
	}
	for _, p := range append(append([]string{}, opts.Include...), opts.Exclude...) {
		if !doublestar.ValidatePattern(normalizePattern(p)) {
			return nil, fmt.Errorf("media: invalid pattern %q", p)
		}
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 4
	}
	s := &Scanner{h: h, opts: opts}
	for _, fn := range o {
		if fn != nil {
			fn(s)
		}
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s, nil
}

// Collect walks root and returns the regular files that pass the filters, in
// walk order. Unreadable subdirectories are skipped and logged.
func (s *Scanner) Collect(ctx context.Context, root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("media: %s is not a directory", root)
	}

	var files []string
	w := fs.Walk(root)
	for w.Step() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := w.Err(); err != nil {
			s.log.Warn("scan: skipping unreadable entry", logx.String("path", w.Path()), logx.Err(err))
			continue
		}
		st := w.Stat()
		if st == nil || !st.Mode().IsRegular() {
			continue
		}
		rel, err := filepath.Rel(root, w.Path())
		if err != nil {
			continue
		}
		if s.match(filepath.ToSlash(rel)) {
			files = append(files, w.Path())
		}
	}
	return files, nil
}

func (s *Scanner) match(rel string) bool {
	rel = strings.ToLower(rel)
	for _, p := range s.opts.Exclude {
		if ok, _ := doublestar.Match(normalizePattern(p), rel); ok {
			return false
		}
	}
	if len(s.opts.Include) == 0 {
		return true
	}
	for _, p := range s.opts.Include {
		if ok, _ := doublestar.Match(normalizePattern(p), rel); ok {
			return true
		}
	}
	return false
}

func normalizePattern(p string) string {
	return strings.ToLower(filepath.ToSlash(strings.TrimSpace(p)))
}

// ScanRoot hashes every matching file under root, Parallelism files at a
// time. Per-file failures are collected in Failed and do not stop the scan.
func (s *Scanner) ScanRoot(ctx context.Context, root string) RootResult {
	start := time.Now()
	res := RootResult{Root: root, Failed: map[string]error{}}
	defer func() {
		res.Took = time.Since(start)
		s.report(res)
	}()

	files, err := s.Collect(ctx, root)
	if err != nil {
		res.Err = err
		return res
	}

	for lo := 0; lo < len(files); lo += s.opts.Parallelism {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		batch := files[lo:min(lo+s.opts.Parallelism, len(files))]
		tasks := make([]parallel.Task[Digest], len(batch))
		for i, p := range batch {
			tasks[i] = parallel.Call(s.h.Hash, p)
		}
		results, err := parallel.ExecuteAll(ctx, tasks...)
		if err != nil {
			res.Err = err
			return res
		}
		for i, r := range results {
			if r.Err != nil {
				res.Failed[batch[i]] = r.Err
				continue
			}
			res.Digests = append(res.Digests, r.Value)
			res.Bytes += r.Value.Size
		}
	}
	return res
}

// Scan hashes every configured root in turn.
func (s *Scanner) Scan(ctx context.Context) []RootResult {
	out := make([]RootResult, 0, len(s.opts.Roots))
	for _, root := range s.opts.Roots {
		if ctx.Err() != nil {
			break
		}
		out = append(out, s.ScanRoot(ctx, root))
	}
	return out
}

func (s *Scanner) report(r RootResult) {
	ev := eventbus.ScanCompleted{Root: r.Root, Files: len(r.Digests), Bytes: r.Bytes}
	fields := []logx.Field{
		logx.String("root", r.Root),
		logx.Int("files", len(r.Digests)),
		logx.Int("failed", len(r.Failed)),
		logx.String("bytes", humanize.IBytes(uint64(r.Bytes))),
		logx.Duration("took", r.Took),
	}
	if r.Err != nil {
		ev.Err = r.Err.Error()
		s.log.Warn("scan aborted", append(fields, logx.Err(r.Err))...)
	} else {
		s.log.Info("scan completed", fields...)
	}
	eventbus.Emit(s.bus, eventbus.TypeScanCompleted, ev)
}
