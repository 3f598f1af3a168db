package media

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
	"time"

	"peerpool/internal/respool"
	"peerpool/pkg/logx"

	"github.com/dustin/go-humanize"
)

// ChunkSize is the size of a single read.
const ChunkSize = 8 << 10

// DefaultBlockSize is how much of a file one IO task reads before handing
// the bytes to the CPU pool.
const DefaultBlockSize = 1 << 20

type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA1   Algorithm = "sha1"
	MD5    Algorithm = "md5"
)

var ErrUnknownAlgorithm = errors.New("media: unknown hash algorithm")

// ParseAlgorithm accepts sha256 (the default when s is empty), sha1 and md5.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return SHA256, nil
	case SHA256, SHA1, MD5:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

func (a Algorithm) newHash() hash.Hash {
	switch a {
	case SHA1:
		return sha1.New()
	case MD5:
		return md5.New()
	default:
		return sha256.New()
	}
}

// Digest is the hash of one file.
type Digest struct {
	Path      string        `json:"path"`
	Algorithm Algorithm     `json:"algorithm"`
	Sum       string        `json:"sum"`
	Size      int64         `json:"size"`
	Took      time.Duration `json:"took"`
}

type readReq struct {
	Path   string `pool:"path"`
	Offset int64
	Size   int
}

type block struct {
	data []byte
	eof  bool
}

type digestReq struct {
	h    hash.Hash
	data []byte
}

// Hasher hashes files through a resource manager.
type Hasher struct {
	log       logx.Logger
	algo      Algorithm
	blockSize int

	read   func(context.Context, readReq) (block, error)
	digest func(context.Context, digestReq) (struct{}, error)
}

type HasherOption func(*Hasher)

func WithLogger(log logx.Logger) HasherOption { return func(h *Hasher) { h.log = log } }

// WithBlockSize sets the bytes read per IO task. Values below ChunkSize are
// raised to ChunkSize.
func WithBlockSize(n int) HasherOption { return func(h *Hasher) { h.blockSize = n } }

func NewHasher(m *respool.Manager, algo Algorithm, opts ...HasherOption) (*Hasher, error) {
	if m == nil {
		return nil, errors.New("media: nil manager")
	}
	if _, err := ParseAlgorithm(string(algo)); err != nil {
		return nil, err
	}
	if algo == "" {
		algo = SHA256
	}
	h := &Hasher{algo: algo, blockSize: DefaultBlockSize}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	if h.blockSize < ChunkSize {
		h.blockSize = ChunkSize
	}
	h.read = respool.IO(m, "media.read_block", respool.Param[readReq]("path"), readBlock)
	h.digest = respool.CPU(m, "media.digest_block", digestBlock)
	return h, nil
}

func (h *Hasher) Algorithm() Algorithm { return h.algo }

// Hash reads path block by block and returns its digest.
func (h *Hasher) Hash(ctx context.Context, path string) (Digest, error) {
	start := time.Now()
	sum := h.algo.newHash()
	var off int64
	for {
		if err := ctx.Err(); err != nil {
			return Digest{}, err
		}
		b, err := h.read(ctx, readReq{Path: path, Offset: off, Size: h.blockSize})
		if err != nil {
			return Digest{}, err
		}
		if len(b.data) > 0 {
			if _, err := h.digest(ctx, digestReq{h: sum, data: b.data}); err != nil {
				return Digest{}, err
			}
			off += int64(len(b.data))
		}
		if b.eof {
			break
		}
	}

	d := Digest{
		Path:      path,
		Algorithm: h.algo,
		Sum:       hex.EncodeToString(sum.Sum(nil)),
		Size:      off,
		Took:      time.Since(start),
	}
	h.log.Debug("file hashed",
		logx.String("path", path),
		logx.String("size", humanize.IBytes(uint64(d.Size))),
		logx.String("rate", rate(d.Size, d.Took)),
		logx.Duration("took", d.Took),
	)
	return d, nil
}

func readBlock(ctx context.Context, r readReq) (block, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return block{}, err
	}
	defer f.Close()
	if _, err := f.Seek(r.Offset, io.SeekStart); err != nil {
		return block{}, err
	}

	buf := make([]byte, 0, r.Size)
	chunk := make([]byte, ChunkSize)
	for len(buf) < r.Size {
		if err := ctx.Err(); err != nil {
			return block{}, err
		}
		want := min(ChunkSize, r.Size-len(buf))
		n, err := f.Read(chunk[:want])
		buf = append(buf, chunk[:n]...)
		if errors.Is(err, io.EOF) {
			return block{data: buf, eof: true}, nil
		}
		if err != nil {
			return block{}, err
		}
	}
	return block{data: buf}, nil
}

func digestBlock(_ context.Context, r digestReq) (struct{}, error) {
	_, err := r.h.Write(r.data)
	return struct{}{}, err
}

func rate(n int64, d time.Duration) string {
	if d <= 0 || n <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(float64(n)/d.Seconds())) + "/s"
}
