package scheduler

// Metrics is a point-in-time view of a System.
type Metrics struct {
	ActiveExecutions           int    `json:"active_executions"`
	QueueSize                  int    `json:"queue_size"`
	DependencyGraphSize        int    `json:"dependency_graph_size"`
	PerformanceHistorySize     int    `json:"performance_history_size"`
	RollbackTransactions       int    `json:"rollback_transactions"`
	ConflictResolutionStrategy string `json:"conflict_resolution_strategy"`
	MaxWorkers                 int    `json:"max_workers"`
	DynamicPriorityEnabled     bool   `json:"dynamic_priority_enabled"`
	RollbackEnabled            bool   `json:"rollback_enabled"`
	OptimizerEnabled           bool   `json:"optimizer_enabled"`
	Executions                 int    `json:"executions"`
}

// SystemMetrics reports the current counters. QueueSize counts hooks
// waiting for a worker slot; DependencyGraphSize is the hook count of the
// most recent plan.
func (s *System) SystemMetrics() Metrics {
	s.execMu.Lock()
	executions := len(s.executions)
	s.execMu.Unlock()

	return Metrics{
		ActiveExecutions:           int(s.active.Load()),
		QueueSize:                  int(s.queued.Load()),
		DependencyGraphSize:        int(s.graphSize.Load()),
		PerformanceHistorySize:     s.history.Size(),
		RollbackTransactions:       s.rollbacks.Active(),
		ConflictResolutionStrategy: string(s.opts.DefaultStrategy),
		MaxWorkers:                 s.opts.MaxWorkers,
		DynamicPriorityEnabled:     s.opts.DynamicPriority,
		RollbackEnabled:            s.opts.EnableRollback,
		OptimizerEnabled:           s.opts.OptimizerEnabled,
		Executions:                 executions,
	}
}
