package logx

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle lets at most one message per key through every interval, with a
// small burst. Suppressed counts are reported on the next allowed message.
type Throttle struct {
	every time.Duration
	burst int

	mu       sync.Mutex
	limiters map[string]*throttleEntry
}

type throttleEntry struct {
	lim        *rate.Limiter
	suppressed int
}

func NewThrottle(every time.Duration, burst int) *Throttle {
	if every <= 0 {
		every = time.Minute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{every: every, burst: burst, limiters: map[string]*throttleEntry{}}
}

// Allow reports whether a message for key may be logged now, and how many
// were dropped since the last allowed one.
func (t *Throttle) Allow(key string) (ok bool, suppressed int) {
	if t == nil {
		return true, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ent := t.limiters[key]
	if ent == nil {
		ent = &throttleEntry{lim: rate.NewLimiter(rate.Every(t.every), t.burst)}
		t.limiters[key] = ent
	}
	if !ent.lim.Allow() {
		ent.suppressed++
		return false, 0
	}
	n := ent.suppressed
	ent.suppressed = 0
	return true, n
}

// Warn logs through l when key is not throttled.
func (t *Throttle) Warn(l Logger, key, msg string, fields ...Field) {
	ok, n := t.Allow(key)
	if !ok {
		return
	}
	if n > 0 {
		fields = append(fields, Int("suppressed", n))
	}
	l.Warn(msg, fields...)
}
