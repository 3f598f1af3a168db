// Package semaphore provides a counting semaphore whose capacity can change
// while permits are held.
package semaphore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrInvalidSize = errors.New("semaphore: size must be >= 0")
	// ErrReleaseWithoutAcquire reports a Release with no permit held.
	ErrReleaseWithoutAcquire = errors.New("semaphore: release without acquire")
)

// Semaphore admits at most Max holders at a time.
//
// Shrinking Max never revokes held permits: Available stays at zero until
// enough holders release. Admission order is not FIFO.
type Semaphore struct {
	mu      sync.Mutex
	max     int
	held    int
	waiting int
	// wake is closed and replaced whenever capacity may have become available.
	wake chan struct{}
}

func New(max int) (*Semaphore, error) {
	if max < 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidSize, max)
	}
	return &Semaphore{max: max, wake: make(chan struct{})}, nil
}

// Acquire blocks until a permit is available or ctx is done. On ctx error no
// permit is held.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.held < s.max {
		s.held++
		s.mu.Unlock()
		return nil
	}
	s.waiting++
	for {
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.waiting--
			s.mu.Unlock()
			return ctx.Err()
		case <-wake:
		}

		s.mu.Lock()
		if s.held < s.max {
			s.held++
			s.waiting--
			s.mu.Unlock()
			return nil
		}
	}
}

// TryAcquire takes a permit only if one is free right now.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held < s.max {
		s.held++
		return true
	}
	return false
}

// AcquireTimeout waits up to d for a permit.
func (s *Semaphore) AcquireTimeout(d time.Duration) bool {
	if d <= 0 {
		return s.TryAcquire()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Acquire(ctx) == nil
}

func (s *Semaphore) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held == 0 {
		return ErrReleaseWithoutAcquire
	}
	s.held--
	s.broadcastLocked()
	return nil
}

// Resize changes the capacity. Growing wakes waiters immediately; shrinking
// only lowers the ceiling for future admissions.
func (s *Semaphore) Resize(max int) error {
	if max < 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidSize, max)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	grew := max > s.max
	s.max = max
	if grew {
		s.broadcastLocked()
	}
	return nil
}

// Do runs fn while holding a permit. The permit is returned on every exit
// path, including a panic in fn.
func (s *Semaphore) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer func() { _ = s.Release() }()
	return fn(ctx)
}

func (s *Semaphore) broadcastLocked() {
	if s.waiting == 0 {
		return
	}
	close(s.wake)
	s.wake = make(chan struct{})
}

func (s *Semaphore) Max() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max
}

func (s *Semaphore) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Available is max(0, Max-Held).
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held >= s.max {
		return 0
	}
	return s.max - s.held
}

// Waiting is the number of callers blocked in Acquire.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

// Stats is a point-in-time view of a semaphore.
type Stats struct {
	Max       int `json:"max"`
	Held      int `json:"held"`
	Available int `json:"available"`
	Waiting   int `json:"waiting"`
}

func (s *Semaphore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	avail := s.max - s.held
	if avail < 0 {
		avail = 0
	}
	return Stats{Max: s.max, Held: s.held, Available: avail, Waiting: s.waiting}
}
