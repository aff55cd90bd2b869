// Package scheduler ties planning, conflict resolution, execution and
// rollback together behind the System facade.
package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rnwolfe/hooksched/internal/conflict"
	"github.com/rnwolfe/hooksched/internal/history"
	"github.com/rnwolfe/hooksched/internal/hook"
	"github.com/rnwolfe/hooksched/internal/optimize"
	"github.com/rnwolfe/hooksched/internal/plan"
	"github.com/rnwolfe/hooksched/internal/priority"
	"github.com/rnwolfe/hooksched/internal/rollback"
)

// System is one hook scheduler instance. All state lives in its fields.
type System struct {
	store  hook.Store
	runner hook.Runner
	opts   Options
	logger *zap.Logger

	history     *history.History
	adjustments *priority.Adjustments
	calc        *priority.Calculator
	planner     *plan.Resolver
	optimizer   *optimize.Optimizer
	conflicts   *conflict.Resolver
	rollbacks   *rollback.Manager
	workers     *semaphore.Weighted

	active    atomic.Int64
	queued    atomic.Int64
	graphSize atomic.Int64

	execMu     sync.Mutex
	executions []ExecutionSummary
}

// Option configures a System.
type Option func(*System)

// WithOptions replaces the default Options.
func WithOptions(o Options) Option {
	return func(s *System) { s.opts = o }
}

// WithHistory shares an existing performance history.
func WithHistory(h *history.History) Option {
	return func(s *System) { s.history = h }
}

// WithAdjustments shares existing priority adjustments.
func WithAdjustments(a *priority.Adjustments) Option {
	return func(s *System) { s.adjustments = a }
}

// WithRollbackManager shares an existing rollback manager.
func WithRollbackManager(m *rollback.Manager) Option {
	return func(s *System) { s.rollbacks = m }
}

// WithLogger sets the logger for the System and the components it builds.
func WithLogger(l *zap.Logger) Option {
	return func(s *System) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a System reading hook metadata from store and running hooks
// through runner.
func New(store hook.Store, runner hook.Runner, opts ...Option) *System {
	s := &System{
		store:  store,
		runner: runner,
		opts:   DefaultOptions(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.opts.MaxWorkers < 1 {
		s.opts.MaxWorkers = 1
	}
	if s.opts.ExecutionHistory <= 0 {
		s.opts.ExecutionHistory = DefaultExecutionHistory
	}
	if s.opts.DefaultStrategy == "" {
		s.opts.DefaultStrategy = conflict.PriorityBased
	}

	if s.history == nil {
		s.history = history.New(history.DefaultSize, history.WithLogger(s.logger))
	}
	if s.adjustments == nil {
		s.adjustments = priority.NewAdjustments(s.logger)
	}
	if s.rollbacks == nil {
		s.rollbacks = rollback.NewManager(rollback.WithLogger(s.logger))
	}

	var adj *priority.Adjustments
	if s.opts.DynamicPriority {
		adj = s.adjustments
	}
	s.calc = priority.NewCalculator(store, s.history, adj)
	s.calc.SuccessWeight = s.opts.SuccessWeight
	if s.opts.HistoryWindow > 0 {
		s.calc.Window = s.opts.HistoryWindow
	}

	s.planner = plan.NewResolver(store, s.calc, s.history, s.logger)
	optOpts := s.opts.Optimizer
	if optOpts.MaxWorkers <= 0 || optOpts.MaxWorkers > s.opts.MaxWorkers {
		optOpts.MaxWorkers = s.opts.MaxWorkers
	}
	s.optimizer = optimize.New(optOpts, s.history, s.logger)

	copts := []conflict.Option{conflict.WithLogger(s.logger), conflict.WithLoadThreshold(s.opts.LoadThreshold)}
	if s.opts.Seed != 0 {
		copts = append(copts, conflict.WithSeed(s.opts.Seed))
	}
	s.conflicts = conflict.New(copts...)
	s.workers = semaphore.NewWeighted(int64(s.opts.MaxWorkers))
	return s
}

// History returns the performance history.
func (s *System) History() *history.History { return s.history }

// Adjustments returns the dynamic priority adjustments.
func (s *System) Adjustments() *priority.Adjustments { return s.adjustments }

// Rollbacks returns the rollback manager.
func (s *System) Rollbacks() *rollback.Manager { return s.rollbacks }

// CalculateExecutionOrder scores, resolves and optimizes a plan for
// trigger. Planning errors are returned unchanged.
func (s *System) CalculateExecutionOrder(trigger string, names []string, hctx *hook.Context) (*plan.Plan, error) {
	p, err := s.planner.Plan(trigger, names, hctx)
	if err != nil {
		return nil, err
	}
	if s.opts.OptimizerEnabled {
		p = s.optimizer.Apply(p)
	}
	s.graphSize.Store(int64(p.Len()))
	return p, nil
}

// ResolveConflicts decides among competitors for trigger. An empty strategy
// uses the trigger's configured strategy.
func (s *System) ResolveConflicts(trigger string, competitors []string, strategy conflict.Strategy) (conflict.Resolution, error) {
	if len(competitors) == 0 {
		return conflict.Resolution{}, conflict.ErrNoCompetitors
	}
	hctx := hook.NewContext(trigger, nil)
	if strategy == "" {
		var err error
		if strategy, err = s.opts.strategyFor(trigger, hctx); err != nil {
			return conflict.Resolution{}, err
		}
	}
	ds, err := hook.ResolveActive(s.store, competitors)
	if err != nil {
		return conflict.Resolution{}, err
	}
	scores, err := s.calc.Score(competitors, hctx)
	if err != nil {
		return conflict.Resolution{}, err
	}
	byName := make(map[string]hook.Descriptor, len(ds))
	for _, d := range ds {
		byName[d.Name] = d
	}
	return s.conflicts.Resolve(trigger, competitors, strategy, conflict.Inputs{
		Scores:      scores,
		Descriptors: byName,
		SystemLoad:  hctx.SystemLoad(),
	})
}

// CreateRollbackTransaction opens a rollback transaction.
func (s *System) CreateRollbackTransaction(scope rollback.Scope, hooks []string) string {
	return s.rollbacks.Create(scope, hooks)
}

// RollbackTransaction rolls back id and reports whether every action
// succeeded. Unknown or finished ids return false.
func (s *System) RollbackTransaction(id string) bool {
	ok, err := s.rollbacks.Rollback(id)
	if err != nil {
		s.logger.Warn("rollback incomplete", zap.String("tx", id), zap.Error(err))
	}
	return ok
}

// HookPriority returns the current score of one hook.
func (s *System) HookPriority(name string, hctx *hook.Context) (float64, error) {
	scores, err := s.calc.Score([]string{name}, hctx)
	if err != nil {
		return 0, err
	}
	score, ok := scores[name]
	if !ok {
		return 0, fmt.Errorf("no score for %s", name)
	}
	return score, nil
}

// ExecutionHistory returns up to limit finished executions, newest first.
// limit <= 0 returns all retained executions.
func (s *System) ExecutionHistory(limit int) []ExecutionSummary {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	n := len(s.executions)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ExecutionSummary, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.executions[i])
	}
	return out
}

func (s *System) remember(sum ExecutionSummary) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	s.executions = append(s.executions, sum)
	if over := len(s.executions) - s.opts.ExecutionHistory; over > 0 {
		s.executions = append(s.executions[:0:0], s.executions[over:]...)
	}
}
