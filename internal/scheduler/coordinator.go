package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rnwolfe/hooksched/internal/conflict"
	"github.com/rnwolfe/hooksched/internal/history"
	"github.com/rnwolfe/hooksched/internal/hook"
	"github.com/rnwolfe/hooksched/internal/plan"
	"github.com/rnwolfe/hooksched/internal/rollback"
)

// compensationTimeout bounds each compensation run during rollback.
const compensationTimeout = 30 * time.Second

// Execute plans trigger and runs the plan. Only planning errors are
// returned; execution failures are reported in the Result.
func (s *System) Execute(ctx context.Context, trigger string, names []string, hctx *hook.Context) (*Result, error) {
	p, err := s.CalculateExecutionOrder(trigger, names, hctx)
	if err != nil {
		return nil, err
	}
	return s.ExecuteWithPriority(ctx, p, hctx), nil
}

// execution is the mutable state of one ExecuteWithPriority call.
type execution struct {
	id       string
	plan     *plan.Plan
	hctx     *hook.Context
	tx       string
	results  []HookResult
	index    map[string]int
	skip     map[string]string // conflict loser -> reason
	strategy conflict.Strategy
}

// ExecuteWithPriority runs p batch by batch. Batches run strictly in order;
// hooks inside a batch run concurrently up to the batch's MaxParallelism
// and the System's worker limit. With rollback enabled the first failing
// batch stops the execution and every completed hook is compensated.
func (s *System) ExecuteWithPriority(ctx context.Context, p *plan.Plan, hctx *hook.Context) *Result {
	if hctx == nil {
		hctx = p.Context
	}
	if hctx == nil {
		hctx = hook.NewContext(p.Trigger, nil)
	}
	s.active.Add(1)
	defer s.active.Add(-1)

	res := &Result{
		ExecutionID:     uuid.NewString(),
		PlanID:          p.ID,
		Trigger:         p.Trigger,
		RollbackEnabled: s.opts.rollbackFor(hctx),
		StartedAt:       time.Now(),
	}
	ex := &execution{
		id:      res.ExecutionID,
		plan:    p,
		hctx:    hctx,
		index: make(map[string]int),
		skip:  make(map[string]string),
	}
	for _, b := range p.Batches {
		for _, name := range b.Hooks {
			ex.index[name] = len(ex.results)
			ex.results = append(ex.results, HookResult{Hook: name, Batch: b.Index, Status: StatusNotRun})
		}
	}

	strategy, err := s.opts.strategyFor(p.Trigger, hctx)
	if err != nil {
		s.logger.Warn("ignoring conflict strategy override", zap.String("trigger", p.Trigger), zap.Error(err))
		strategy = s.opts.DefaultStrategy
	}
	ex.strategy = strategy
	res.Conflicts = s.resolveGroups(ex)

	if res.RollbackEnabled {
		scope := s.opts.RollbackScope
		if override := hctx.RollbackScope(); override != "" {
			if sc, err := rollback.ParseScope(override); err == nil {
				scope = sc
			}
		}
		ex.tx = s.rollbacks.CreateFor(p.Trigger, scope, p.Hooks())
		res.RollbackTx = ex.tx
	}

	failed := false
	for _, b := range p.Batches {
		if err := ctx.Err(); err != nil {
			res.Err = err
			failed = true
			break
		}
		runnable := ex.skipLosers(b)
		if !s.runBatch(ctx, ex, b, runnable) {
			failed = true
			if res.RollbackEnabled {
				break
			}
		}
	}
	res.Hooks = ex.results
	res.OverallSuccess = !failed

	if res.RollbackEnabled {
		if failed {
			ok, err := s.rollbacks.Rollback(ex.tx)
			res.RollbackPerformed = true
			res.RollbackSuccess = ok
			for _, e := range multierr.Errors(err) {
				res.RollbackErrors = append(res.RollbackErrors, e.Error())
			}
		} else {
			s.rollbacks.Commit(ex.tx)
		}
	}
	res.Duration = time.Since(res.StartedAt)
	s.remember(res.summary())

	s.logger.Info("execution finished",
		zap.String("execution", res.ExecutionID),
		zap.String("trigger", p.Trigger),
		zap.String("outcome", string(res.Outcome())),
		zap.Int("hooks", len(res.Hooks)),
		zap.Int("failed", res.Count(StatusFailed)+res.Count(StatusTimedOut)),
		zap.Duration("duration", res.Duration),
	)
	return res
}

// resolveGroups decides every conflict group of the plan once, over all
// planned members bound to the trigger, whichever batch they landed in.
func (s *System) resolveGroups(ex *execution) []conflict.Resolution {
	groups := make(map[string][]string)
	var order []string
	for _, name := range ex.plan.Hooks() {
		d := ex.plan.Descriptors[name]
		if d.ConflictGroup == "" || !d.HandlesTrigger(ex.plan.Trigger) {
			continue
		}
		if _, seen := groups[d.ConflictGroup]; !seen {
			order = append(order, d.ConflictGroup)
		}
		groups[d.ConflictGroup] = append(groups[d.ConflictGroup], name)
	}

	var resolutions []conflict.Resolution
	for _, group := range order {
		members := groups[group]
		if len(members) < 2 {
			continue
		}
		r, err := s.conflicts.Resolve(ex.plan.Trigger, members, ex.strategy, conflict.Inputs{
			Scores:      ex.plan.Scores,
			Descriptors: ex.plan.Descriptors,
			SystemLoad:  ex.hctx.SystemLoad(),
		})
		if err != nil {
			s.logger.Warn("resolving conflict", zap.String("group", group), zap.Error(err))
			continue
		}
		resolutions = append(resolutions, r)
		for _, l := range r.Losers {
			ex.skip[l] = fmt.Sprintf("lost conflict group %s to %s (%s)", group, r.Winner, r.Strategy)
		}
	}
	return resolutions
}

// skipLosers marks conflict losers in b as skipped and returns the rest.
func (ex *execution) skipLosers(b plan.Batch) []string {
	runnable := make([]string, 0, len(b.Hooks))
	for _, name := range b.Hooks {
		if reason, ok := ex.skip[name]; ok {
			hr := &ex.results[ex.index[name]]
			hr.Status = StatusSkipped
			hr.Reason = reason
			continue
		}
		runnable = append(runnable, name)
	}
	return runnable
}

// runBatch runs hooks and reports whether all of them succeeded.
func (s *System) runBatch(ctx context.Context, ex *execution, b plan.Batch, hooks []string) bool {
	if len(hooks) == 0 {
		return true
	}
	limit := b.MaxParallelism
	if limit <= 0 || limit > len(hooks) {
		limit = len(hooks)
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, name := range hooks {
		g.Go(func() error {
			s.runOne(ctx, ex, b, name)
			return nil
		})
	}
	_ = g.Wait()

	ok := true
	for _, name := range hooks {
		if ex.results[ex.index[name]].Status != StatusSucceeded {
			ok = false
		}
	}
	s.logger.Debug("batch finished",
		zap.String("execution", ex.id),
		zap.Int("batch", b.Index),
		zap.String("phase", string(b.Phase)),
		zap.Int("hooks", len(hooks)),
		zap.Bool("ok", ok),
	)
	return ok
}

// runOne runs a single hook under the shared worker limit and records the
// outcome. Each goroutine writes only its own result slot.
func (s *System) runOne(ctx context.Context, ex *execution, b plan.Batch, name string) {
	hr := &ex.results[ex.index[name]]
	d := ex.plan.Descriptors[name]
	timeout := s.opts.timeoutFor(d, b.Phase)

	s.queued.Add(1)
	err := s.workers.Acquire(ctx, 1)
	s.queued.Add(-1)
	if err != nil {
		hr.Status = StatusFailed
		hr.Err = &HookExecutionError{Hook: name, Batch: b.Index, Err: err}
		hr.Error = hr.Err.Error()
		return
	}
	defer s.workers.Release(1)

	hr.StartedAt = time.Now()
	out, err := s.invoke(ctx, name, ex.hctx.Clone(), timeout)
	hr.Duration = time.Since(hr.StartedAt)

	switch {
	case err == nil:
		hr.Status = StatusSucceeded
		hr.Output = out
	case errors.Is(err, ErrTimeout):
		hr.Status = StatusTimedOut
	default:
		hr.Status = StatusFailed
	}
	if err != nil {
		hr.Err = &HookExecutionError{Hook: name, Batch: b.Index, Err: err}
		hr.Error = hr.Err.Error()
		s.logger.Warn("hook failed",
			zap.String("execution", ex.id),
			zap.String("hook", name),
			zap.Duration("duration", hr.Duration),
			zap.Error(err),
		)
	}

	rec := history.Record{
		Hook:        name,
		ExecutionID: ex.id,
		Timestamp:   hr.StartedAt,
		Duration:    hr.Duration,
		Success:     err == nil,
	}
	if err != nil {
		rec.Err = err.Error()
	}
	s.history.Append(rec)

	if err == nil && ex.tx != "" {
		s.rollbacks.AddSnapshot(ex.tx, name, out)
		if comp, ok := s.runner.(hook.Compensator); ok {
			cctx := context.WithoutCancel(ctx)
			s.rollbacks.AddAction(ex.tx, name, func() error {
				tctx, cancel := context.WithTimeout(cctx, compensationTimeout)
				defer cancel()
				return comp.Compensate(tctx, name, out)
			})
		}
	}
}

// invoke calls the runner and stops waiting once the timeout fires, even
// if the runner ignores cancellation. Runner panics become errors.
func (s *System) invoke(ctx context.Context, name string, hctx *hook.Context, timeout time.Duration) (any, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := s.runner.RunHook(tctx, name, hctx)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{Hook: name, Timeout: timeout}
		}
		return o.out, o.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TimeoutError{Hook: name, Timeout: timeout}
	}
}
