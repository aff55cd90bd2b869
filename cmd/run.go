package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rnwolfe/hooksched/internal/conflict"
	"github.com/rnwolfe/hooksched/internal/hook"
	"github.com/rnwolfe/hooksched/internal/scheduler"
	"github.com/rnwolfe/hooksched/internal/ui"
)

var (
	runJSON       bool
	runNoRollback bool
	runStrategy   string
	runSet        = contextFlag{}
)

var runCmd = &cobra.Command{
	Use:   "run <trigger> [hook...]",
	Short: "Plan and execute the hooks for a trigger",
	Long: `Plan the hooks for a trigger and run them batch by batch.

Each hook's exec command receives the hook context as JSON on stdin. When
rollback is enabled and a hook fails, every completed hook's compensate
command runs in reverse completion order.

Examples:
  hooksched run deploy
  hooksched run deploy --no-rollback
  hooksched run user_prompt --strategy round_robin --set timeSensitivity=urgent`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the result as JSON")
	runCmd.Flags().BoolVar(&runNoRollback, "no-rollback", false, "Keep going after failures instead of rolling back")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "Conflict strategy for this run ("+strategyNames()+")")
	addContextFlag(runCmd.Flags(), runSet)
}

func runRun(_ *cobra.Command, args []string) (err error) {
	trigger := args[0]
	hctx := runSet.context(trigger)
	if runNoRollback {
		hctx.Set(hook.KeyEnableRollback, false)
	}
	if runStrategy != "" {
		s, err := conflict.ParseStrategy(runStrategy)
		if err != nil {
			return err
		}
		hctx.Set(hook.KeyConflictStrategy, string(s))
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := a.sys.Execute(ctx, trigger, args[1:], hctx)
	if err != nil {
		return err
	}
	if runJSON {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		renderResult(res)
	}

	if !res.OverallSuccess {
		failed := res.Count(scheduler.StatusFailed) + res.Count(scheduler.StatusTimedOut)
		return fmt.Errorf("%s: %d of %d hooks failed", res.Outcome(), failed, len(res.Hooks))
	}
	return nil
}

func renderResult(res *scheduler.Result) {
	fmt.Println()
	fmt.Printf("  %s %s  %s\n", ui.Title.Render("Run"), ui.Accent.Render(res.Trigger), ui.Status(string(res.Outcome())))
	fmt.Println()

	if len(res.Hooks) == 0 {
		fmt.Println(ui.Muted.Render("  No active hooks for this trigger."))
		fmt.Println()
		return
	}

	t := ui.Table{Headers: []string{"BATCH", "HOOK", "STATUS", "TIME", "DETAIL"}}
	for _, h := range res.Hooks {
		detail := h.Reason
		if h.Error != "" {
			detail = h.Error
		}
		dur := ""
		if h.Duration > 0 {
			dur = h.Duration.Round(time.Millisecond).String()
		}
		t.Append(strconv.Itoa(h.Batch), h.Hook, ui.Status(string(h.Status)), dur, detail)
	}
	t.Render(os.Stdout, ui.TermWidth())
	fmt.Println()

	for _, c := range res.Conflicts {
		fmt.Printf("  %s %s %s %s %s\n",
			ui.IconSkip,
			ui.Accent.Render(c.Winner),
			ui.Muted.Render("won over"),
			strings.Join(c.Losers, ", "),
			ui.Muted.Render("("+string(c.Strategy)+")"),
		)
	}
	if len(res.Conflicts) > 0 {
		fmt.Println()
	}

	if res.RollbackPerformed {
		state := "rolled_back"
		if !res.RollbackSuccess {
			state = "rollback_partial"
		}
		ui.Kv(ui.IconRollback+" Rollback", ui.Status(state))
		for _, e := range res.RollbackErrors {
			ui.Warn(e)
		}
	}
	if res.Err != nil {
		ui.Kv(ui.IconWarn+"Interrupted", res.Err.Error())
	}
	ui.Kv(ui.IconClock+" Duration", res.Duration.Round(time.Millisecond).String())
	ui.Kv(ui.IconDot+" Execution", ui.Muted.Render(res.ExecutionID))
	fmt.Println()
}

func strategyNames() string {
	names := make([]string, 0, len(conflict.Strategies))
	for _, s := range conflict.Strategies {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}
