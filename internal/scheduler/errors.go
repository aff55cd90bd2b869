package scheduler

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrHookExecution matches every hook failure, timeouts included.
	ErrHookExecution = errors.New("hook execution failed")
	// ErrTimeout matches hooks that exceeded their timeout.
	ErrTimeout = errors.New("hook timed out")
)

// HookExecutionError wraps the failure of one hook.
type HookExecutionError struct {
	Hook  string
	Batch int
	Err   error
}

func (e *HookExecutionError) Error() string {
	return fmt.Sprintf("hook %s (batch %d): %v", e.Hook, e.Batch, e.Err)
}

func (e *HookExecutionError) Unwrap() error { return e.Err }

func (e *HookExecutionError) Is(target error) bool { return target == ErrHookExecution }

// TimeoutError is the cause of a HookExecutionError when the hook ran out
// of time.
type TimeoutError struct {
	Hook    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("hook %s timed out after %s", e.Hook, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == ErrHookExecution
}
