package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rnwolfe/hooksched/internal/scheduler"
	"github.com/rnwolfe/hooksched/internal/ui"
)

// lastOptimizedKey records when the last review ran.
const lastOptimizedKey = "optimize.last_run"

var (
	optimizeReset        bool
	optimizeClearHistory bool
	optimizeJSON         bool
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Adjust hook priorities from recorded performance",
	Long: `Review the execution history and nudge priorities: hooks that fail often,
slow down or run long lose priority; healthy hooks recover toward neutral.

With scheduler.enable_dynamic_priority off the review is reported only.`,
	Args: cobra.NoArgs,
	RunE: runOptimize,
}

func init() {
	optimizeCmd.Flags().BoolVar(&optimizeReset, "reset", false, "Clear every priority adjustment")
	optimizeCmd.Flags().BoolVar(&optimizeClearHistory, "clear-history", false, "Delete recorded executions")
	optimizeCmd.Flags().BoolVar(&optimizeJSON, "json", false, "Print the report as JSON")
}

func runOptimize(_ *cobra.Command, _ []string) (err error) {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	if optimizeReset || optimizeClearHistory {
		if optimizeReset {
			n := len(a.sys.Adjustments().All())
			a.sys.Adjustments().Reset()
			ui.Ok(fmt.Sprintf("Cleared %d priority adjustments", n))
		}
		if optimizeClearHistory {
			n := a.sys.History().Size()
			a.sys.History().Reset()
			if a.records != nil {
				if err := a.records.Clear(); err != nil {
					return fmt.Errorf("clearing history: %w", err)
				}
			}
			ui.Ok(fmt.Sprintf("Cleared %d execution records", n))
		}
		return nil
	}

	rep := a.sys.OptimizeSystemPerformance()
	if err := a.db.SetKV(lastOptimizedKey, rep.Timestamp.UTC().Format(time.RFC3339)); err != nil {
		a.logger.Warn("recording optimize run", zap.Error(err))
	}
	if optimizeJSON {
		return printJSON(rep)
	}
	renderOptimization(rep)
	return nil
}

func renderOptimization(rep scheduler.OptimizationReport) {
	fmt.Println()
	if rep.Analyzed == 0 {
		fmt.Println(ui.Muted.Render("  No executions recorded yet."))
		fmt.Println()
		return
	}

	t := ui.Table{Headers: []string{"HOOK", "RUNS", "SUCCESS", "MEAN", "ACTION", "FACTOR", "WHY"}}
	for _, f := range rep.Findings {
		action := string(f.Action)
		switch f.Action {
		case scheduler.ActionPenalized:
			action = ui.Warning.Render(action)
		case scheduler.ActionRecovered:
			action = ui.Success.Render(action)
		default:
			action = ui.Muted.Render(action)
		}
		factor := fmt.Sprintf("%.2f", f.After)
		if f.After != f.Before {
			factor = fmt.Sprintf("%.2f %s %.2f", f.Before, ui.IconArrow, f.After)
		}
		t.Append(f.Hook, strconv.Itoa(f.Records), percent(f.SuccessRate), ms(f.Mean), action, factor, strings.Join(f.Reasons, "; "))
	}
	t.Render(os.Stdout, ui.TermWidth())
	fmt.Println()

	ui.Kv("Analyzed", strconv.Itoa(rep.Analyzed))
	ui.Kv("Penalized", strconv.Itoa(rep.Penalized))
	ui.Kv("Recovered", strconv.Itoa(rep.Recovered))
	if rep.ReportOnly {
		fmt.Println()
		ui.Tip(fmt.Sprintf("Dynamic priority is off. Enable it: %s",
			ui.Accent.Render("hooksched config set scheduler.enable_dynamic_priority true")))
	}
	fmt.Println()
}
