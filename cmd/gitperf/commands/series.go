package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gitperf/gitperf/internal/audit"
	"github.com/gitperf/gitperf/internal/filter"
	"github.com/gitperf/gitperf/internal/notesstore"
	"github.com/gitperf/gitperf/internal/record"
	"github.com/gitperf/gitperf/internal/walker"
	"github.com/gitperf/gitperf/pkg/objectid"
)

// decodeCacheEntries bounds the per-process LRU decode cache a walker uses
// across the commits visited by one invocation.
const decodeCacheEntries = 4096

// seriesFlags are the commit-selection and filter flags shared by report,
// audit, and good.
type seriesFlags struct {
	repo      string
	remote    string
	start     string
	depth     int
	names     []string
	regex     bool
	selectors []string
}

// auditInputFor walks the repository rooted at f.start and builds one
// audit.Input for measurement name, aggregated per the resolved aggregate_by
// parameter: samples[0] is HEAD, the rest form the trailing baseline.
func auditInputFor(ctx context.Context, c *core, f *seriesFlags, name string) (audit.Input, error) {
	samples, err := seriesFor(ctx, c, f, name)
	if err != nil {
		return audit.Input{}, err
	}

	head, tail := splitHeadTail(samples)

	return audit.Input{Name: name, Head: head, Tail: tail}, nil
}

// seriesFor walks f.start's ancestry and reduces each commit's matching
// measurements into an ordered sequence of samples, HEAD first.
func seriesFor(ctx context.Context, c *core, f *seriesFlags, name string) ([]filter.Sample, error) {
	aggregate, err := c.resolver.AggregateBy(name)
	if err != nil {
		return nil, fmt.Errorf("resolve aggregate_by for %q: %w", name, err)
	}

	spec := filter.Spec{
		Name:        name,
		NameIsRegex: f.regex,
		Selectors:   parseSelectors(f.selectors),
		Aggregate:   aggregate,
	}

	series, err := filter.Compile(spec)
	if err != nil {
		return nil, fmt.Errorf("compile filter for %q: %w", name, err)
	}

	w := walker.New(c.vcs, notesstore.Ref, decodeCacheEntries).WithMetrics(c.walkMetrics)
	c.registerWalkCache("walker_decode", w)

	points, err := w.All(ctx, f.start, f.depth)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", f.start, err)
	}

	commits := make([]objectid.Hash, len(points))
	measurements := make([][]record.Measurement, len(points))

	for i, p := range points {
		commits[i] = p.Commit
		measurements[i] = p.Measurements
	}

	return series.BuildSeries(commits, measurements), nil
}

// splitHeadTail separates a HEAD-first ordered sample sequence into HEAD's
// own value(s) and the flattened trailing baseline.
func splitHeadTail(samples []filter.Sample) (head, tail []float64) {
	if len(samples) == 0 {
		return nil, nil
	}

	head = samples[0].Values

	for _, s := range samples[1:] {
		tail = append(tail, s.Values...)
	}

	return head, tail
}

// bindSeriesFlags registers the commit-selection and filter flags shared by
// report, audit, and good onto cmd, backed by f.
func bindSeriesFlags(cmd *cobra.Command, f *seriesFlags) {
	bindCoreFlags(cmd, &f.repo, &f.remote)
	cmd.Flags().StringVar(&f.start, "start", "HEAD", "commit-ish to walk ancestry from")
	cmd.Flags().IntVar(&f.depth, "depth", 0, "ancestry depth limit (0 = unbounded)")
	cmd.Flags().StringArrayVarP(&f.names, "name", "m", nil, "measurement name (repeatable)")
	cmd.Flags().BoolVar(&f.regex, "regex", false, "treat each --name as an extended regular expression")
	cmd.Flags().StringArrayVarP(&f.selectors, "selector", "s", nil, "key=value selector (repeatable)")
}
