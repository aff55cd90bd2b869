package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rnwolfe/hooksched/internal/hook"
)

// ErrCycle matches any CycleError.
var ErrCycle = errors.New("dependency cycle")

// CycleError reports a dependency cycle among the requested hooks.
type CycleError struct {
	// Cycle is a path whose first and last elements are the same hook.
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// Is makes errors.Is(err, ErrCycle) work.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycle
}

// ErrUnknownHook matches any UnknownHookError.
var ErrUnknownHook = hook.ErrUnknownHook

// UnknownHookError lists requested hooks that are missing or inactive.
type UnknownHookError = hook.UnknownHookError
