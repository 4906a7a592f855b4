package engine

import (
	"context"
	"errors"
)

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped due to overlap policy")
)

// IsInterrupted reports whether a task error came from its context being
// canceled or timing out. Such runs are not failures: the scheduler is
// shutting down or the task hit its own timeout.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case IsInterrupted(err):
		return OutcomeInterrupted
	default:
		return OutcomeFailed
	}
}
