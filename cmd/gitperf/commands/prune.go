package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gitperf/gitperf/internal/gitperferr"
	"github.com/gitperf/gitperf/internal/notesstore"
	"github.com/gitperf/gitperf/pkg/objectid"
)

// pruneFlags holds the prune command's flags.
type pruneFlags struct {
	repo   string
	remote string
	start  string
	depth  int
}

// NewPruneCommand returns the "prune" subcommand: drop every note whose
// commit falls outside the ancestry window rooted at --start, force-pushing
// the rewritten ref.
func NewPruneCommand() *cobra.Command {
	f := &pruneFlags{}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop notes for commits outside the kept ancestry window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPrune(cmd, f)
		},
	}

	bindCoreFlags(cmd, &f.repo, &f.remote)
	cmd.Flags().StringVar(&f.start, "start", "HEAD", "commit-ish the keep window is rooted at")
	cmd.Flags().IntVar(&f.depth, "depth", 0, "ancestry depth to keep (0 = every first-parent ancestor of --start)")

	return cmd
}

func runPrune(cmd *cobra.Command, f *pruneFlags) error {
	ctx := cmd.Context()

	c, err := newCore(ctx, f.repo, f.remote)
	if err != nil {
		return gitperferr.New("prune", gitperferr.Classify(err), err)
	}
	defer c.close(ctx)

	entries, err := c.vcs.Walk(ctx, notesstore.Ref, f.start, f.depth)
	if err != nil {
		return gitperferr.New("prune", gitperferr.Classify(err), err)
	}

	keep := make(map[objectid.Hash]bool, len(entries))
	for _, e := range entries {
		keep[e.Commit] = true
	}

	dropped, err := c.store.Prune(ctx, func(commit objectid.Hash) bool {
		return keep[commit]
	})
	if err != nil {
		return gitperferr.New("prune", gitperferr.Classify(err), err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "dropped %d note(s) outside %s~%d\n", dropped, f.start, f.depth)

	return nil
}
