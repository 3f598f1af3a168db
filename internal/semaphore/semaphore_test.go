package semaphore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func mustNew(t *testing.T, n int) *Semaphore {
	t.Helper()
	s, err := New(n)
	if err != nil {
		t.Fatalf("New(%d) error: %v", n, err)
	}
	return s
}

func TestNewRejectsNegative(t *testing.T) {
	t.Parallel()
	if _, err := New(-1); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("New(-1) err = %v, want ErrInvalidSize", err)
	}
}

func TestReleaseWithoutAcquire(t *testing.T) {
	t.Parallel()
	s := mustNew(t, 2)
	if err := s.Release(); !errors.Is(err, ErrReleaseWithoutAcquire) {
		t.Fatalf("Release err = %v, want ErrReleaseWithoutAcquire", err)
	}
	if got := s.Available(); got != 2 {
		t.Fatalf("Available = %d, want 2", got)
	}
}

func TestShrinkDoesNotRevokeHeldPermits(t *testing.T) {
	t.Parallel()
	s := mustNew(t, 4)
	for i := 0; i < 4; i++ {
		if !s.TryAcquire() {
			t.Fatalf("TryAcquire %d failed", i)
		}
	}
	if err := s.Resize(1); err != nil {
		t.Fatalf("Resize error: %v", err)
	}
	if got := s.Held(); got != 4 {
		t.Fatalf("Held = %d, want 4", got)
	}
	if got := s.Available(); got != 0 {
		t.Fatalf("Available = %d, want 0", got)
	}

	// Available must stay at zero until held drops below the new max.
	for i := 0; i < 3; i++ {
		if err := s.Release(); err != nil {
			t.Fatalf("Release error: %v", err)
		}
		if got := s.Available(); got != 0 {
			t.Fatalf("after %d releases Available = %d, want 0", i+1, got)
		}
		if s.TryAcquire() {
			t.Fatalf("TryAcquire succeeded with held=%d max=1", s.Held())
		}
	}
	if err := s.Release(); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if got := s.Available(); got != 1 {
		t.Fatalf("Available = %d, want 1", got)
	}
}

func TestResizeRejectsNegative(t *testing.T) {
	t.Parallel()
	s := mustNew(t, 3)
	if err := s.Resize(-2); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("Resize(-2) err = %v, want ErrInvalidSize", err)
	}
	if got := s.Max(); got != 3 {
		t.Fatalf("Max = %d, want 3", got)
	}
}

func TestGrowWakesWaiters(t *testing.T) {
	t.Parallel()
	s := mustNew(t, 0)

	const waiters = 3
	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(context.Background()); err == nil {
				acquired.Add(1)
			}
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Waiting() != waiters {
		if time.Now().After(deadline) {
			t.Fatalf("Waiting = %d, want %d", s.Waiting(), waiters)
		}
		time.Sleep(time.Millisecond)
	}
	if err := s.Resize(waiters); err != nil {
		t.Fatalf("Resize error: %v", err)
	}
	wg.Wait()
	if got := acquired.Load(); got != waiters {
		t.Fatalf("acquired = %d, want %d", got, waiters)
	}
}

func TestAcquireCancelledHoldsNothing(t *testing.T) {
	t.Parallel()
	s := mustNew(t, 1)
	if !s.TryAcquire() {
		t.Fatal("TryAcquire failed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire err = %v, want DeadlineExceeded", err)
	}
	if got := s.Held(); got != 1 {
		t.Fatalf("Held = %d, want 1", got)
	}
	if got := s.Waiting(); got != 0 {
		t.Fatalf("Waiting = %d, want 0", got)
	}
}

func TestAcquireTimeout(t *testing.T) {
	t.Parallel()
	s := mustNew(t, 1)
	if !s.AcquireTimeout(10 * time.Millisecond) {
		t.Fatal("first AcquireTimeout failed")
	}
	if s.AcquireTimeout(10 * time.Millisecond) {
		t.Fatal("second AcquireTimeout succeeded on a full semaphore")
	}
}

func TestDoReleasesOnPanic(t *testing.T) {
	t.Parallel()
	s := mustNew(t, 1)
	func() {
		defer func() { _ = recover() }()
		_ = s.Do(context.Background(), func(context.Context) error { panic("boom") })
	}()
	if got := s.Held(); got != 0 {
		t.Fatalf("Held = %d, want 0", got)
	}
}

func TestConcurrencyNeverExceedsMax(t *testing.T) {
	t.Parallel()
	s := mustNew(t, 2)
	var cur, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(context.Background(), func(context.Context) error {
				n := cur.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				cur.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", got)
	}
}
