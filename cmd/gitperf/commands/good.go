package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gitperf/gitperf/internal/audit"
	"github.com/gitperf/gitperf/internal/gitperferr"
)

// NewGoodCommand returns the "good" subcommand: the audit engine's
// aggregate pass/fail decision exposed as an exit-code-only alias, for
// scripts that only care whether the commit is "good".
func NewGoodCommand() *cobra.Command {
	f := &seriesFlags{}

	cmd := &cobra.Command{
		Use:   "good",
		Short: "Exit 0 if every named measurement passes audit, nonzero otherwise",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			results, err := collectAuditResults(cmd, f)
			if err != nil {
				return err
			}

			if audit.OverallFailed(results) {
				fmt.Fprintln(cmd.OutOrStdout(), "bad")

				return gitperferr.New("good", gitperferr.ClassAuditRegression, errAuditFailed)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "good")

			return nil
		},
	}

	bindSeriesFlags(cmd, f)

	return cmd
}
