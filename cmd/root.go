package cmd

import (
	"os"

	"github.com/rnwolfe/hooksched/internal/ui"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "hooksched",
	Short: "Priority-aware hook scheduling",
	Long: `hooksched plans and runs hooks for a trigger: dependencies become batches,
batches run in parallel under a worker limit, conflicting hooks are resolved
by strategy, and completed work is rolled back when a later hook fails.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.Err(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log scheduler activity to stderr")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
