package timer

import (
	"errors"
	"fmt"
)

var (
	ErrNoTask         = errors.New("timer: task is nil")
	ErrAlreadyStarted = errors.New("timer: already started")
	ErrStopped        = errors.New("timer: stopped")
)

// ActionError is a failure (error or panic) raised by the scheduled task.
type ActionError struct {
	Task  string
	Err   error
	Panic bool
}

func (e *ActionError) Error() string {
	if e.Panic {
		return fmt.Sprintf("timer: action %s panicked: %v", e.Task, e.Err)
	}
	return fmt.Sprintf("timer: action %s: %v", e.Task, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
