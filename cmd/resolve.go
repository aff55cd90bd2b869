package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rnwolfe/hooksched/internal/conflict"
	"github.com/rnwolfe/hooksched/internal/ui"
)

var resolveStrategy string

var resolveCmd = &cobra.Command{
	Use:   "resolve <trigger> <hook> <hook>...",
	Short: "Pick one hook among competitors",
	Long: `Decide which of several competing hooks runs for a trigger.

Without --strategy the trigger's configured strategy is used. round_robin
rotation is per process, so repeated invocations start from the beginning.`,
	Args: cobra.MinimumNArgs(3),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveStrategy, "strategy", "", "Conflict strategy ("+strategyNames()+")")
}

func runResolve(_ *cobra.Command, args []string) (err error) {
	var strategy conflict.Strategy
	if resolveStrategy != "" {
		if strategy, err = conflict.ParseStrategy(resolveStrategy); err != nil {
			return err
		}
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	r, err := a.sys.ResolveConflicts(args[0], args[1:], strategy)
	if err != nil {
		return err
	}

	fmt.Println()
	ui.Ok(fmt.Sprintf("%s wins", ui.Accent.Render(r.Winner)))
	fmt.Println()
	ui.Kv("Trigger", r.Trigger)
	ui.Kv("Strategy", string(r.Strategy))
	if len(r.Losers) > 0 {
		ui.Kv("Skipped", strings.Join(r.Losers, ", "))
	}
	if r.Reason != "" {
		ui.Kv("Reason", r.Reason)
	}
	fmt.Println()
	return nil
}
