package respool

import "errors"

var (
	// ErrConfigUnavailable means the limits source could not be read. The
	// manager keeps its previous limits.
	ErrConfigUnavailable = errors.New("resource limits unavailable")
	// ErrInvalidResize rejects a non-positive pool size or device limit.
	ErrInvalidResize = errors.New("invalid resize: value must be >= 1")
	ErrClosed        = errors.New("resource manager closed")
	ErrNilFunc       = errors.New("resource manager: nil func")
)
