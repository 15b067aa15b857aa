package scheduler

import "errors"

var (
	ErrInvalidDeadline = errors.New("scheduler: invalid deadline")
	ErrStopped         = errors.New("scheduler: stopped")
	ErrDispatchTimeout = errors.New("scheduler: dispatch timed out")
	ErrDispatchPanic   = errors.New("scheduler: dispatch panicked")
)
