package commands

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/gitperf/gitperf/internal/gitperferr"
	"github.com/gitperf/gitperf/internal/record"
)

// measureFlags holds the measure command's flags.
type measureFlags struct {
	repo      string
	remote    string
	commit    string
	selectors []string
}

// NewMeasureCommand returns the "measure" subcommand: time a subprocess,
// then record its wall-clock duration in seconds as a measurement.
func NewMeasureCommand() *cobra.Command {
	f := &measureFlags{}

	cmd := &cobra.Command{
		Use:   "measure NAME -- CMD [ARGS...]",
		Short: "Time a subprocess and record its duration",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMeasure(cmd, f, args[0], args[1:])
		},
	}

	bindCoreFlags(cmd, &f.repo, &f.remote)
	cmd.Flags().StringVar(&f.commit, "commit", "HEAD", "commit-ish to attach the measurement to")
	cmd.Flags().StringArrayVarP(&f.selectors, "selector", "s", nil, "key=value selector (repeatable)")

	return cmd
}

func runMeasure(cmd *cobra.Command, f *measureFlags, name string, argv []string) error {
	ctx := cmd.Context()

	subprocess := exec.CommandContext(ctx, argv[0], argv[1:]...)
	subprocess.Stdout = cmd.OutOrStdout()
	subprocess.Stderr = cmd.ErrOrStderr()
	subprocess.Stdin = os.Stdin

	start := time.Now()
	runErr := subprocess.Run()
	elapsed := time.Since(start)

	c, err := newCore(ctx, f.repo, f.remote)
	if err != nil {
		return gitperferr.New("measure", gitperferr.Classify(err), err)
	}
	defer c.close(ctx)

	hash, err := c.vcs.RevParse(ctx, f.commit)
	if err != nil {
		return gitperferr.New("measure", gitperferr.Classify(err), err)
	}

	m := record.Measurement{
		Name:      name,
		Value:     elapsed.Seconds(),
		Timestamp: start.Unix(),
		Selectors: parseSelectors(f.selectors),
	}

	if appendErr := c.store.AppendBatch(ctx, hash, []record.Measurement{m}); appendErr != nil {
		return gitperferr.New("measure", gitperferr.Classify(appendErr), appendErr)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "recorded %s=%gs at %s\n", name, m.Value, hash)

	if runErr != nil {
		return gitperferr.New("measure", gitperferr.ClassInputMalformed, fmt.Errorf("subprocess: %w", runErr))
	}

	return nil
}
