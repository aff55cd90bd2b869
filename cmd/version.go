package cmd

import (
	"fmt"

	"github.com/rnwolfe/hooksched/internal/version"
	"github.com/spf13/cobra"
)

var (
	versionShort bool
	versionJSON  bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print hooksched version",
	Run:   runVersion,
}

func runVersion(_ *cobra.Command, _ []string) {
	switch {
	case versionShort:
		fmt.Println(version.Short())
	case versionJSON:
		_ = printJSON(version.Get())
	default:
		fmt.Printf("hooksched %s\n", version.Full())
	}
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version number")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print build information as JSON")
}
