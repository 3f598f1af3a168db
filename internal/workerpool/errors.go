package workerpool

import "errors"

var (
	ErrClosed      = errors.New("worker pool closed")
	ErrInvalidSize = errors.New("worker pool size must be >= 1")
	ErrNilFunc     = errors.New("worker pool: nil func")
	// ErrPanic wraps a panic recovered from a task.
	ErrPanic = errors.New("task panicked")
)
