package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rnwolfe/hooksched/internal/history"
	"github.com/rnwolfe/hooksched/internal/priority"
	"github.com/rnwolfe/hooksched/internal/rollback"
	"github.com/rnwolfe/hooksched/internal/scheduler"
	"github.com/rnwolfe/hooksched/internal/ui"
)

var (
	metricsJSON  bool
	metricsLimit int
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show scheduler settings, hook performance and recent rollbacks",
	Args:  cobra.NoArgs,
	RunE:  runMetrics,
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Print metrics as JSON")
	metricsCmd.Flags().IntVar(&metricsLimit, "rollbacks", 5, "Number of recent rollback transactions to show")
}

// metricsReport is the --json shape of the metrics command.
type metricsReport struct {
	System      scheduler.Metrics      `json:"system"`
	Hooks       []history.Stats        `json:"hooks"`
	Adjustments []priority.Adjustment  `json:"adjustments"`
	Rollbacks   []rollback.Transaction `json:"rollbacks"`
	// LastOptimized is empty until `hooksched optimize` has run.
	LastOptimized string `json:"last_optimized,omitempty"`
}

func runMetrics(_ *cobra.Command, _ []string) (err error) {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	rep := metricsReport{
		System:      a.sys.SystemMetrics(),
		Adjustments: a.sys.Adjustments().All(),
	}
	stats := a.sys.History().Stats()
	for _, name := range a.sys.History().Hooks() {
		rep.Hooks = append(rep.Hooks, stats[name])
	}
	if metricsLimit > 0 {
		if rep.Rollbacks, err = a.journal.Recent(metricsLimit); err != nil {
			return fmt.Errorf("reading rollback journal: %w", err)
		}
	}

	if rep.LastOptimized, err = a.db.GetKV(lastOptimizedKey); err != nil {
		return fmt.Errorf("reading last optimize run: %w", err)
	}

	if metricsJSON {
		return printJSON(rep)
	}
	renderMetrics(rep)
	return nil
}

func renderMetrics(rep metricsReport) {
	m := rep.System

	fmt.Println()
	fmt.Println(ui.Title.Render("  Scheduler"))
	fmt.Println()
	ui.Kv("Max workers", strconv.Itoa(m.MaxWorkers))
	ui.Kv("Conflict strategy", m.ConflictResolutionStrategy)
	ui.Kv("Rollback", onOff(m.RollbackEnabled))
	ui.Kv("Dynamic priority", onOff(m.DynamicPriorityEnabled))
	ui.Kv("Optimizer", onOff(m.OptimizerEnabled))
	ui.Kv("History records", strconv.Itoa(m.PerformanceHistorySize))
	if rep.LastOptimized != "" {
		ui.Kv("Last optimized", rep.LastOptimized)
	}
	fmt.Println()

	fmt.Println(ui.Title.Render("  Hooks"))
	fmt.Println()
	if len(rep.Hooks) == 0 {
		fmt.Println(ui.Muted.Render("  No executions recorded yet."))
	} else {
		factors := make(map[string]float64, len(rep.Adjustments))
		for _, adj := range rep.Adjustments {
			factors[adj.Hook] = adj.Factor
		}
		t := ui.Table{Headers: []string{"HOOK", "RUNS", "SUCCESS", "RECENT", "P50", "P95", "P99", "FACTOR"}}
		for _, s := range rep.Hooks {
			factor := "1.00"
			if f, ok := factors[s.Hook]; ok {
				factor = fmt.Sprintf("%.2f", f)
			}
			t.Append(s.Hook, strconv.Itoa(s.Count), percent(s.SuccessRate), percent(s.RecentSuccessRate),
				ms(s.P50), ms(s.P95), ms(s.P99), factor)
		}
		t.Render(os.Stdout, ui.TermWidth())
	}
	fmt.Println()

	if len(rep.Rollbacks) > 0 {
		fmt.Println(ui.Title.Render("  Recent transactions"))
		fmt.Println()
		t := ui.Table{Headers: []string{"WHEN", "TRIGGER", "STATE", "ACTIONS", "FAILURES", "ID"}}
		for _, tx := range rep.Rollbacks {
			t.Append(tx.CreatedAt.Local().Format("Jan 2 15:04:05"), tx.Trigger, ui.Status(string(tx.State)),
				strconv.Itoa(tx.Actions), strconv.Itoa(tx.Failures), ui.Muted.Render(tx.ID))
		}
		t.Render(os.Stdout, ui.TermWidth())
		fmt.Println()
	}
}

func onOff(b bool) string {
	if b {
		return ui.Success.Render("on")
	}
	return ui.Muted.Render("off")
}

func percent(f float64) string {
	return fmt.Sprintf("%.0f%%", f*100)
}

func ms(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
