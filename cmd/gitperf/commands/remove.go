package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gitperf/gitperf/internal/filter"
	"github.com/gitperf/gitperf/internal/gitperferr"
	"github.com/gitperf/gitperf/internal/record"
)

// removeFlags holds the remove command's flags.
type removeFlags struct {
	repo      string
	remote    string
	name      string
	selectors []string
}

// NewRemoveCommand returns the "remove" subcommand: drop every record
// matching --name (and, if given, --selector) from one commit's note,
// leaving unrelated records and epoch directives untouched.
func NewRemoveCommand() *cobra.Command {
	f := &removeFlags{}

	cmd := &cobra.Command{
		Use:   "remove COMMIT",
		Short: "Remove matching records from a commit's note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd, f, args[0])
		},
	}

	bindCoreFlags(cmd, &f.repo, &f.remote)
	cmd.Flags().StringVarP(&f.name, "name", "m", "", "measurement name to remove (required)")
	cmd.Flags().StringArrayVarP(&f.selectors, "selector", "s", nil, "key=value selector narrowing the removal (repeatable)")
	cmd.MarkFlagRequired("name") //nolint:errcheck // cobra registration error only, never occurs for a known flag

	return cmd
}

func runRemove(cmd *cobra.Command, f *removeFlags, commitish string) error {
	ctx := cmd.Context()

	spec := filter.Spec{Name: f.name, Selectors: parseSelectors(f.selectors), Aggregate: filter.AggregateNone}

	series, err := filter.Compile(spec)
	if err != nil {
		return gitperferr.New("remove", gitperferr.ClassInputMalformed, err)
	}

	c, err := newCore(ctx, f.repo, f.remote)
	if err != nil {
		return gitperferr.New("remove", gitperferr.Classify(err), err)
	}
	defer c.close(ctx)

	hash, err := c.vcs.RevParse(ctx, commitish)
	if err != nil {
		return gitperferr.New("remove", gitperferr.Classify(err), err)
	}

	if err := c.store.Remove(ctx, hash, buildKeepLine(series)); err != nil {
		return gitperferr.New("remove", gitperferr.Classify(err), err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "removed %s records from %s\n", f.name, hash)

	return nil
}

// buildKeepLine returns a predicate for Store.Remove that drops exactly the
// lines matching series, preserving everything else: epoch directives,
// unparseable lines, and records series doesn't match.
func buildKeepLine(series *filter.Series) func(line string) bool {
	return func(line string) bool {
		decoded := record.Decode(line)
		if len(decoded.Measurements) == 0 {
			return true
		}

		return !series.Match(decoded.Measurements[0])
	}
}
