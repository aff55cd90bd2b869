package scheduler

import (
	"fmt"
	"time"

	"github.com/rnwolfe/hooksched/internal/config"
	"github.com/rnwolfe/hooksched/internal/conflict"
	"github.com/rnwolfe/hooksched/internal/hook"
	"github.com/rnwolfe/hooksched/internal/optimize"
	"github.com/rnwolfe/hooksched/internal/rollback"
)

// DefaultExecutionHistory bounds the execution summaries a System keeps.
const DefaultExecutionHistory = 100

// Options holds the tunables of a System.
type Options struct {
	MaxWorkers  int
	HookTimeout time.Duration
	// PhaseTimeouts apply to hooks without their own timeout.
	PhaseTimeouts map[hook.Phase]time.Duration

	DefaultStrategy   conflict.Strategy
	TriggerStrategies map[string]conflict.Strategy
	LoadThreshold     float64
	Seed              uint64

	// EnableRollback is the policy for calls whose context does not set
	// enableRollback.
	EnableRollback bool
	RollbackScope  rollback.Scope

	DynamicPriority bool
	SuccessWeight   float64
	HistoryWindow   int

	OptimizerEnabled bool
	Optimizer        optimize.Options

	SuccessThreshold float64
	TrendTolerance   float64
	SlowThreshold    time.Duration

	ExecutionHistory int
}

// DefaultOptions returns the built-in defaults.
func DefaultOptions() Options {
	return Options{
		MaxWorkers:       8,
		HookTimeout:      hook.DefaultTimeout,
		DefaultStrategy:  conflict.PriorityBased,
		LoadThreshold:    conflict.DefaultLoadThreshold,
		EnableRollback:   true,
		RollbackScope:    rollback.ScopeTriggerGroup,
		DynamicPriority:  true,
		SuccessWeight:    0.5,
		HistoryWindow:    20,
		OptimizerEnabled: true,
		Optimizer:        optimize.DefaultOptions(),
		SuccessThreshold: 0.8,
		TrendTolerance:   0.25,
		SlowThreshold:    5 * time.Second,
		ExecutionHistory: DefaultExecutionHistory,
	}
}

// OptionsFromConfig converts a validated configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	o := DefaultOptions()
	o.MaxWorkers = cfg.Scheduler.MaxWorkers
	o.HookTimeout = cfg.HookTimeout()
	o.Seed = cfg.Scheduler.Seed
	o.EnableRollback = config.IsEnabled(cfg.Scheduler.EnableRollback, true)
	o.DynamicPriority = config.IsEnabled(cfg.Scheduler.EnableDynamicPriority, true)

	s, err := conflict.ParseStrategy(cfg.Scheduler.DefaultConflictStrategy)
	if err != nil {
		return o, fmt.Errorf("scheduler.default_conflict_strategy: %w", err)
	}
	o.DefaultStrategy = s
	o.TriggerStrategies = make(map[string]conflict.Strategy, len(cfg.Scheduler.ConflictStrategies))
	for trigger, name := range cfg.Scheduler.ConflictStrategies {
		s, err := conflict.ParseStrategy(name)
		if err != nil {
			return o, fmt.Errorf("scheduler.conflict_strategies.%s: %w", trigger, err)
		}
		o.TriggerStrategies[trigger] = s
	}
	if cfg.Scheduler.DefaultRollbackScope != "" {
		scope, err := rollback.ParseScope(cfg.Scheduler.DefaultRollbackScope)
		if err != nil {
			return o, fmt.Errorf("scheduler.default_rollback_scope: %w", err)
		}
		o.RollbackScope = scope
	}

	o.SuccessWeight = cfg.Priority.SuccessWeight
	o.HistoryWindow = cfg.Priority.HistoryWindow
	if cfg.Priority.LoadThreshold > 0 {
		o.LoadThreshold = cfg.Priority.LoadThreshold
	}

	o.OptimizerEnabled = config.IsEnabled(cfg.Optimizer.Enabled, true)
	o.Optimizer.MaxWorkers = cfg.Scheduler.MaxWorkers
	o.Optimizer.MaxBatchSize = cfg.Optimizer.MaxBatchSize
	o.Optimizer.CPUCeiling = cfg.Optimizer.CPUCeiling
	o.Optimizer.MemoryCeilingMB = cfg.Optimizer.MemoryCeilingMB
	if cfg.Optimizer.HeavyCPU > 0 {
		o.Optimizer.HeavyCPU = cfg.Optimizer.HeavyCPU
	}

	o.PhaseTimeouts = make(map[hook.Phase]time.Duration)
	o.Optimizer.PhaseParallelism = make(map[hook.Phase]int)
	for name, pc := range cfg.Phases {
		phase, err := hook.ParsePhase(name)
		if err != nil || phase == "" {
			return o, fmt.Errorf("phases.%s: unknown phase", name)
		}
		if d := cfg.PhaseTimeout(name); d > 0 {
			o.PhaseTimeouts[phase] = d
		}
		if pc.MaxParallelism > 0 {
			o.Optimizer.PhaseParallelism[phase] = pc.MaxParallelism
		}
	}

	o.SuccessThreshold = cfg.Performance.SuccessThreshold
	if cfg.Performance.TrendTolerance > 0 {
		o.TrendTolerance = cfg.Performance.TrendTolerance
	}
	o.SlowThreshold = cfg.SlowThreshold()
	return o, nil
}

// timeoutFor picks the hook timeout, then the phase timeout, then the default.
func (o Options) timeoutFor(d hook.Descriptor, phase hook.Phase) time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	if t := o.PhaseTimeouts[phase]; t > 0 {
		return t
	}
	if o.HookTimeout > 0 {
		return o.HookTimeout
	}
	return hook.DefaultTimeout
}

// strategyFor applies the context override, then the per-trigger setting,
// then the default.
func (o Options) strategyFor(trigger string, hctx *hook.Context) (conflict.Strategy, error) {
	if name := hctx.ConflictStrategy(); name != "" {
		return conflict.ParseStrategy(name)
	}
	if s, ok := o.TriggerStrategies[trigger]; ok {
		return s, nil
	}
	return o.DefaultStrategy, nil
}

// rollbackFor applies the context's enableRollback flag when present, then
// the configured default.
func (o Options) rollbackFor(hctx *hook.Context) bool {
	if b, ok := hctx.Bool(hook.KeyEnableRollback); ok {
		return b
	}
	return o.EnableRollback
}
