package respool

import (
	"errors"
	"fmt"

	"peerpool/internal/workerpool"
)

func joinErrs(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

// poolErr maps pool shutdown onto ErrClosed.
func poolErr(err error) error {
	if errors.Is(err, workerpool.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}
