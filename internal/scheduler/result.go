package scheduler

import (
	"time"

	"github.com/rnwolfe/hooksched/internal/conflict"
)

// Status is the outcome of one hook within an execution.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	// StatusSkipped marks conflict losers.
	StatusSkipped Status = "skipped"
	// StatusNotRun marks hooks in batches that never started.
	StatusNotRun Status = "not_run"
)

// Outcome summarises a whole execution.
type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeFailed          Outcome = "failed"
	OutcomeRolledBack      Outcome = "rolled_back"
	OutcomeRollbackPartial Outcome = "rollback_partial"
)

// HookResult is the record of one planned hook.
type HookResult struct {
	Hook      string        `json:"hook"`
	Batch     int           `json:"batch"`
	Status    Status        `json:"status"`
	Output    any           `json:"output,omitempty"`
	Err       error         `json:"-"`
	Error     string        `json:"error,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Duration  time.Duration `json:"duration"`
}

// Result is the outcome of executing a plan.
type Result struct {
	ExecutionID    string                `json:"execution_id"`
	PlanID         string                `json:"plan_id"`
	Trigger        string                `json:"trigger"`
	OverallSuccess bool                  `json:"overall_success"`
	Hooks          []HookResult          `json:"hooks"`
	Conflicts      []conflict.Resolution `json:"conflicts,omitempty"`

	RollbackEnabled   bool     `json:"rollback_enabled"`
	RollbackTx        string   `json:"rollback_tx,omitempty"`
	RollbackPerformed bool     `json:"rollback_performed"`
	RollbackSuccess   bool     `json:"rollback_success"`
	RollbackErrors    []string `json:"rollback_errors,omitempty"`

	// Err is set when the execution was cut short by its context.
	Err error `json:"-"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Outcome classifies the result.
func (r *Result) Outcome() Outcome {
	switch {
	case r.OverallSuccess:
		return OutcomeSucceeded
	case r.RollbackPerformed && r.RollbackSuccess:
		return OutcomeRolledBack
	case r.RollbackPerformed:
		return OutcomeRollbackPartial
	default:
		return OutcomeFailed
	}
}

// Hook returns the result for name.
func (r *Result) Hook(name string) (HookResult, bool) {
	for _, h := range r.Hooks {
		if h.Hook == name {
			return h, true
		}
	}
	return HookResult{}, false
}

// Count returns how many hooks ended with status.
func (r *Result) Count(status Status) int {
	n := 0
	for _, h := range r.Hooks {
		if h.Status == status {
			n++
		}
	}
	return n
}

// Errors returns the hook failures in plan order.
func (r *Result) Errors() []error {
	var out []error
	for _, h := range r.Hooks {
		if h.Err != nil {
			out = append(out, h.Err)
		}
	}
	return out
}

// ExecutionSummary is the retained record of a finished execution.
type ExecutionSummary struct {
	ID        string        `json:"id"`
	PlanID    string        `json:"plan_id"`
	Trigger   string        `json:"trigger"`
	Outcome   Outcome       `json:"outcome"`
	Hooks     int           `json:"hooks"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

func (r *Result) summary() ExecutionSummary {
	return ExecutionSummary{
		ID:        r.ExecutionID,
		PlanID:    r.PlanID,
		Trigger:   r.Trigger,
		Outcome:   r.Outcome(),
		Hooks:     len(r.Hooks),
		Failed:    r.Count(StatusFailed) + r.Count(StatusTimedOut),
		Skipped:   r.Count(StatusSkipped),
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
	}
}
