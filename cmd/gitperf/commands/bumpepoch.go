package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gitperf/gitperf/internal/gitperferr"
	"github.com/gitperf/gitperf/internal/notesstore"
	"github.com/gitperf/gitperf/internal/walker"
	"github.com/gitperf/gitperf/pkg/safeconv"
)

// bumpEpochFlags holds the bump-epoch command's flags.
type bumpEpochFlags struct {
	repo   string
	remote string
	commit string
	epoch  int64
}

// NewBumpEpochCommand returns the "bump-epoch" subcommand: write an epoch
// directive excluding every prior record of NAME from analysis.
func NewBumpEpochCommand() *cobra.Command {
	f := &bumpEpochFlags{epoch: -1}

	cmd := &cobra.Command{
		Use:   "bump-epoch NAME",
		Short: "Exclude prior records of a measurement from analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBumpEpoch(cmd, f, args[0])
		},
	}

	bindCoreFlags(cmd, &f.repo, &f.remote)
	cmd.Flags().StringVar(&f.commit, "commit", "HEAD", "commit-ish to resolve the current epoch from and stamp the new one on")
	cmd.Flags().Int64Var(&f.epoch, "epoch", -1, "new epoch value (defaults to current+1; rejected if not strictly greater than current)")

	return cmd
}

func runBumpEpoch(cmd *cobra.Command, f *bumpEpochFlags, name string) error {
	ctx := cmd.Context()

	c, err := newCore(ctx, f.repo, f.remote)
	if err != nil {
		return gitperferr.New("bump-epoch", gitperferr.Classify(err), err)
	}
	defer c.close(ctx)

	hash, err := c.vcs.RevParse(ctx, f.commit)
	if err != nil {
		return gitperferr.New("bump-epoch", gitperferr.Classify(err), err)
	}

	current, err := currentEpoch(ctx, c, hash.String(), name)
	if err != nil {
		return gitperferr.New("bump-epoch", gitperferr.Classify(err), err)
	}

	next, err := resolveNextEpoch(current, f.epoch)
	if err != nil {
		return gitperferr.New("bump-epoch", gitperferr.ClassInputMalformed, err)
	}

	if err := c.store.AppendEpoch(ctx, hash, name, next); err != nil {
		return gitperferr.New("bump-epoch", gitperferr.Classify(err), err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "bumped epoch for %s from %d to %d at %s\n", name, current, next, hash)

	return nil
}

// currentEpoch resolves the effective epoch for name at commitish by walking
// a single commit of ancestry.
func currentEpoch(ctx context.Context, c *core, commitish, name string) (uint32, error) {
	w := walker.New(c.vcs, notesstore.Ref, 1).WithMetrics(c.walkMetrics)

	points, err := w.All(ctx, commitish, 1)
	if err != nil {
		return 0, err
	}

	if len(points) == 0 {
		return 0, nil
	}

	return points[0].Epochs[name], nil
}

// resolveNextEpoch picks the epoch to write: requested if set (validated
// strictly greater than current) or current+1 otherwise.
func resolveNextEpoch(current uint32, requested int64) (uint32, error) {
	if requested < 0 {
		return current + 1, nil
	}

	next := safeconv.MustIntToUint32(int(requested))
	if next <= current {
		return 0, fmt.Errorf("requested epoch %d must be strictly greater than current epoch %d", next, current)
	}

	return next, nil
}
