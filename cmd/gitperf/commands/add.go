package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gitperf/gitperf/internal/gitperferr"
	"github.com/gitperf/gitperf/internal/record"
)

// addFlags holds the add command's flags.
type addFlags struct {
	repo      string
	remote    string
	commit    string
	timestamp int64
	selectors []string
	extra     []string
}

// NewAddCommand returns the "add" subcommand: append a measurement record to
// a commit's note. Additional NAME=VALUE pairs given via --kv are written to
// the same note in the same append-protocol run.
func NewAddCommand() *cobra.Command {
	f := &addFlags{}

	cmd := &cobra.Command{
		Use:   "add NAME VALUE",
		Short: "Append a measurement to a commit's note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, f, args[0], args[1])
		},
	}

	bindCoreFlags(cmd, &f.repo, &f.remote)
	cmd.Flags().StringVar(&f.commit, "commit", "HEAD", "commit-ish to attach the measurement to")
	cmd.Flags().Int64Var(&f.timestamp, "timestamp", 0, "unix seconds timestamp (defaults to now)")
	cmd.Flags().StringArrayVarP(&f.selectors, "selector", "s", nil, "key=value selector (repeatable)")
	cmd.Flags().StringArrayVar(&f.extra, "kv", nil, "additional NAME=VALUE measurement, batched with the positional one (repeatable)")

	return cmd
}

func runAdd(cmd *cobra.Command, f *addFlags, name, rawValue string) error {
	ctx := cmd.Context()

	timestamp := f.timestamp
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}

	selectors := parseSelectors(f.selectors)

	records, err := buildAddRecords(name, rawValue, f.extra, timestamp, selectors)
	if err != nil {
		return gitperferr.New("add", gitperferr.ClassInputMalformed, err)
	}

	c, err := newCore(ctx, f.repo, f.remote)
	if err != nil {
		return gitperferr.New("add", gitperferr.Classify(err), err)
	}
	defer c.close(ctx)

	hash, err := c.vcs.RevParse(ctx, f.commit)
	if err != nil {
		return gitperferr.New("add", gitperferr.Classify(err), err)
	}

	if err := c.store.AppendBatch(ctx, hash, records); err != nil {
		return gitperferr.New("add", gitperferr.Classify(err), err)
	}

	for _, m := range records {
		fmt.Fprintf(cmd.OutOrStdout(), "recorded %s=%g at %s\n", m.Name, m.Value, hash)
	}

	return nil
}

// buildAddRecords assembles the positional NAME/VALUE pair plus every --kv
// NAME=VALUE pair into the batch of measurements one add invocation writes.
func buildAddRecords(name, rawValue string, extra []string, timestamp int64, selectors map[string]string) ([]record.Measurement, error) {
	value, err := strconv.ParseFloat(rawValue, 64)
	if err != nil {
		return nil, fmt.Errorf("parse value %q: %w", rawValue, err)
	}

	records := []record.Measurement{{
		Name:      name,
		Value:     value,
		Timestamp: timestamp,
		Selectors: selectors,
	}}

	for _, kv := range extra {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("malformed --kv %q: expected NAME=VALUE", kv)
		}

		value, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parse --kv %q: %w", kv, err)
		}

		records = append(records, record.Measurement{
			Name:      k,
			Value:     value,
			Timestamp: timestamp,
			Selectors: selectors,
		})
	}

	return records, nil
}

// bindCoreFlags registers the --repo and --remote flags shared by every
// subcommand that touches the notes store.
func bindCoreFlags(cmd *cobra.Command, repo, remote *string) {
	cmd.Flags().StringVar(repo, "repo", ".", "path to the repository")
	cmd.Flags().StringVar(remote, "remote", defaultRemote, "notes remote name")
}
