package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gitperf/gitperf/pkg/version"
)

// NewVersionCommand returns the "version" subcommand. GIT_PERF_VERSION, if
// set, overrides the reported version string only.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			v := version.Version
			if override := os.Getenv("GIT_PERF_VERSION"); override != "" {
				v = override
			}

			fmt.Fprintf(cmd.OutOrStdout(), "gitperf %s (commit: %s, built: %s, notes-schema: v%d)\n",
				v, version.Commit, version.Date, version.Binary)
		},
	}
}
