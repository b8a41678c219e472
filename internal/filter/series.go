package filter

import (
	"github.com/gitperf/gitperf/internal/record"
	"github.com/gitperf/gitperf/pkg/objectid"
)

// Sample is one commit's reduced scalar(s) surviving a Series' filters: a
// commit with zero matching records never produces a Sample.
type Sample struct {
	Commit objectid.Hash
	Values []float64
}

// BuildSeries reduces an ordered sequence of per-commit measurement sets
// into the ordered (commit, scalar) sequence described for the filter and
// aggregation stage: the "tail" preceding HEAD and the "head" at HEAD are
// both just prefixes/suffixes of this one sequence, sliced by the caller.
func (s *Series) BuildSeries(commits []objectid.Hash, measurements [][]record.Measurement) []Sample {
	samples := make([]Sample, 0, len(commits))

	for i, commit := range commits {
		values, ok := s.Reduce(measurements[i])
		if !ok {
			continue
		}

		samples = append(samples, Sample{Commit: commit, Values: values})
	}

	return samples
}
