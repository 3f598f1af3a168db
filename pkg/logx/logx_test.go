package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
}

func TestWithFieldsAreEmitted(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewJSON(&buf, "debug").With(String("component", "pool"))
	l.Info("resized", Int("size", 4))

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if rec["component"] != "pool" || rec["message"] != "resized" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["size"] != float64(4) {
		t.Fatalf("size = %v, want 4", rec["size"])
	}
}

func TestThrottleSuppressesRepeats(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewJSON(&buf, "debug")
	th := NewThrottle(time.Hour, 1)
	for i := 0; i < 5; i++ {
		th.Warn(l, "same", "missing path")
	}
	th.Warn(l, "other", "missing path")
	if got := strings.Count(buf.String(), "missing path"); got != 2 {
		t.Fatalf("emitted %d warnings, want 2", got)
	}
}
