// Package main provides the entry point for the gitperf CLI tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gitperf/gitperf/cmd/gitperf/commands"
	"github.com/gitperf/gitperf/internal/gitperferr"
	"github.com/gitperf/gitperf/internal/notesstore"
	"github.com/gitperf/gitperf/pkg/version"
)

var (
	verbose bool
	quiet   bool
)

func main() {
	version.InitBinaryVersion(notesstore.Ref)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "gitperf",
		Short: "gitperf - performance measurement storage and regression audit over git notes",
		Long: `gitperf stores and analyzes performance measurements against the commits
of a git repository, treating the repository itself as the database.

Commands:
  add         Append a measurement to a commit's note
  measure     Time a subprocess and record its duration
  push        Push the perf-notes ref to the notes remote
  pull        Fetch and merge the remote's perf-notes ref
  report      Render summary statistics for one or more measurements
  audit       Audit measurements for regression against their trailing history
  remove      Remove matching records from a commit's note
  prune       Drop notes for commits outside the kept ancestry window
  bump-epoch  Exclude prior records of a measurement from analysis
  good        Exit 0 if every named measurement passes audit, nonzero otherwise`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (accepted; has no effect)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output (accepted; has no effect)")

	rootCmd.AddCommand(
		commands.NewAddCommand(),
		commands.NewMeasureCommand(),
		commands.NewPushCommand(),
		commands.NewPullCommand(),
		commands.NewReportCommand(),
		commands.NewAuditCommand(),
		commands.NewRemoveCommand(),
		commands.NewPruneCommand(),
		commands.NewBumpEpochCommand(),
		commands.NewGoodCommand(),
		commands.NewVersionCommand(),
	)

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(gitperferr.ExitCode(err))
	}
}
