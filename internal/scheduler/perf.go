package scheduler

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Adjustment steps applied by OptimizeSystemPerformance.
const (
	penaltyFactor  = 0.9
	recoveryFactor = 1.1
)

// Action is what the performance optimizer did to a hook.
type Action string

const (
	ActionNone      Action = "none"
	ActionPenalized Action = "penalized"
	ActionRecovered Action = "recovered"
)

// Finding describes one analysed hook.
type Finding struct {
	Hook        string        `json:"hook"`
	Records     int           `json:"records"`
	SuccessRate float64       `json:"success_rate"`
	Mean        time.Duration `json:"mean"`
	Trend       float64       `json:"trend"`
	Reasons     []string      `json:"reasons,omitempty"`
	Action      Action        `json:"action"`
	Before      float64       `json:"before"`
	After       float64       `json:"after"`
}

// OptimizationReport is the outcome of one OptimizeSystemPerformance pass.
type OptimizationReport struct {
	Analyzed  int `json:"analyzed"`
	Penalized int `json:"penalized"`
	Recovered int `json:"recovered"`
	// ReportOnly is set when dynamic priority is disabled.
	ReportOnly bool      `json:"report_only"`
	Findings   []Finding `json:"findings"`
	Timestamp  time.Time `json:"timestamp"`
}

// OptimizeSystemPerformance reviews the performance history. Hooks with a
// low trailing success rate, a rising duration trend or a slow mean get
// their priority nudged down; healthy hooks that were penalised recover
// toward neutral. With dynamic priority disabled nothing is changed.
func (s *System) OptimizeSystemPerformance() OptimizationReport {
	rep := OptimizationReport{
		ReportOnly: !s.opts.DynamicPriority,
		Timestamp:  time.Now(),
	}
	stats := s.history.Stats()
	for _, name := range s.history.Hooks() {
		st := stats[name]
		f := Finding{
			Hook:        name,
			Records:     st.Count,
			SuccessRate: st.RecentSuccessRate,
			Mean:        st.RecentMean,
			Action:      ActionNone,
			Before:      s.adjustments.Get(name),
		}
		if trend, ok := s.history.Trend(name, s.opts.HistoryWindow); ok {
			f.Trend = trend
		}

		if f.SuccessRate < s.opts.SuccessThreshold {
			f.Reasons = append(f.Reasons, fmt.Sprintf("success rate %.0f%% below %.0f%%", f.SuccessRate*100, s.opts.SuccessThreshold*100))
		}
		if s.opts.TrendTolerance > 0 && f.Trend > s.opts.TrendTolerance {
			f.Reasons = append(f.Reasons, fmt.Sprintf("duration up %.0f%%", f.Trend*100))
		}
		if s.opts.SlowThreshold > 0 && f.Mean > s.opts.SlowThreshold {
			f.Reasons = append(f.Reasons, fmt.Sprintf("mean %s above %s", f.Mean.Round(time.Millisecond), s.opts.SlowThreshold))
		}

		f.After = f.Before
		if !rep.ReportOnly {
			switch {
			case len(f.Reasons) > 0:
				f.After = s.adjustments.Nudge(name, penaltyFactor, strings.Join(f.Reasons, "; "))
				f.Action = ActionPenalized
				rep.Penalized++
			case f.Before < 1:
				if next := f.Before * recoveryFactor; next >= 1 {
					s.adjustments.Reset(name)
					f.After = 1
				} else {
					f.After = s.adjustments.Set(name, next, "recovering")
				}
				f.Action = ActionRecovered
				rep.Recovered++
			}
		}
		rep.Findings = append(rep.Findings, f)
	}
	rep.Analyzed = len(rep.Findings)

	s.logger.Info("performance review",
		zap.Int("analyzed", rep.Analyzed),
		zap.Int("penalized", rep.Penalized),
		zap.Int("recovered", rep.Recovered),
		zap.Bool("report_only", rep.ReportOnly),
	)
	return rep
}
