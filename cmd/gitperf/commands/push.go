package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gitperf/gitperf/internal/gitperferr"
	"github.com/gitperf/gitperf/internal/notesstore"
)

// NewPushCommand returns the "push" subcommand: push the local perf-notes
// ref to the notes remote, same refspec convention as the append protocol's
// own push step.
func NewPushCommand() *cobra.Command {
	var repo, remote string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push the perf-notes ref to the notes remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			c, err := newCore(ctx, repo, remote)
			if err != nil {
				return gitperferr.New("push", gitperferr.Classify(err), err)
			}
			defer c.close(ctx)

			refspec := notesstore.Ref + ":" + notesstore.Ref

			if err := c.vcs.Push(ctx, remote, refspec, false); err != nil {
				return gitperferr.New("push", gitperferr.Classify(err), err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "pushed %s to %s\n", notesstore.Ref, remote)

			return nil
		},
	}

	bindCoreFlags(cmd, &repo, &remote)

	return cmd
}
