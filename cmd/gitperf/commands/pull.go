package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gitperf/gitperf/internal/gitperferr"
	"github.com/gitperf/gitperf/internal/notesstore"
)

// NewPullCommand returns the "pull" subcommand: fetch the remote's
// perf-notes ref and merge it into the local ref, the same fetch+merge step
// the append protocol runs on a rejected push.
func NewPullCommand() *cobra.Command {
	var repo, remote string

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Fetch and merge the remote's perf-notes ref",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			c, err := newCore(ctx, repo, remote)
			if err != nil {
				return gitperferr.New("pull", gitperferr.Classify(err), err)
			}
			defer c.close(ctx)

			if err := c.vcs.Fetch(ctx, remote, notesstore.Ref, 0); err != nil {
				return gitperferr.New("pull", gitperferr.Classify(err), err)
			}

			if err := c.vcs.NotesMerge(ctx, notesstore.Ref, notesstore.Ref); err != nil {
				return gitperferr.New("pull", gitperferr.Classify(err), err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "merged %s from %s\n", notesstore.Ref, remote)

			return nil
		},
	}

	bindCoreFlags(cmd, &repo, &remote)

	return cmd
}
