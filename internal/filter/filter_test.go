package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitperf/gitperf/internal/filter"
	"github.com/gitperf/gitperf/internal/record"
	"github.com/gitperf/gitperf/pkg/objectid"
)

func TestSeries_Reduce_ExactNameAndSelectorSuperset(t *testing.T) {
	t.Parallel()

	s, err := filter.Compile(filter.Spec{
		Name:      "runtime_ms",
		Selectors: map[string]string{"os": "linux"},
		Aggregate: filter.AggregateMean,
	})
	require.NoError(t, err)

	measurements := []record.Measurement{
		{Name: "runtime_ms", Value: 10, Selectors: map[string]string{"os": "linux", "arch": "x64"}},
		{Name: "runtime_ms", Value: 20, Selectors: map[string]string{"os": "darwin"}},
		{Name: "other", Value: 99, Selectors: map[string]string{"os": "linux"}},
	}

	values, ok := s.Reduce(measurements)
	require.True(t, ok)
	assert.Equal(t, []float64{10}, values)
}

func TestSeries_Reduce_RegexName(t *testing.T) {
	t.Parallel()

	s, err := filter.Compile(filter.Spec{
		Name:        "^bench_.*_ms$",
		NameIsRegex: true,
		Aggregate:   filter.AggregateMax,
	})
	require.NoError(t, err)

	values, ok := s.Reduce([]record.Measurement{
		{Name: "bench_parse_ms", Value: 3},
		{Name: "bench_render_ms", Value: 7},
		{Name: "unrelated", Value: 100},
	})
	require.True(t, ok)
	assert.Equal(t, []float64{7}, values)
}

func TestSeries_Reduce_NoMatchYieldsNoPoint(t *testing.T) {
	t.Parallel()

	s, err := filter.Compile(filter.Spec{Name: "missing", Aggregate: filter.AggregateNone})
	require.NoError(t, err)

	_, ok := s.Reduce([]record.Measurement{{Name: "present", Value: 1}})
	assert.False(t, ok)
}

func TestSeries_Reduce_NonePassesThroughAllMatches(t *testing.T) {
	t.Parallel()

	s, err := filter.Compile(filter.Spec{Name: "x", Aggregate: filter.AggregateNone})
	require.NoError(t, err)

	values, ok := s.Reduce([]record.Measurement{
		{Name: "x", Value: 1},
		{Name: "x", Value: 2},
	})
	require.True(t, ok)
	assert.ElementsMatch(t, []float64{1, 2}, values)
}

func TestSeries_Reduce_MedianAndMin(t *testing.T) {
	t.Parallel()

	records := []record.Measurement{
		{Name: "x", Value: 1},
		{Name: "x", Value: 2},
		{Name: "x", Value: 3},
	}

	median, err := filter.Compile(filter.Spec{Name: "x", Aggregate: filter.AggregateMedian})
	require.NoError(t, err)
	values, ok := median.Reduce(records)
	require.True(t, ok)
	assert.Equal(t, []float64{2}, values)

	minimum, err := filter.Compile(filter.Spec{Name: "x", Aggregate: filter.AggregateMin})
	require.NoError(t, err)
	values, ok = minimum.Reduce(records)
	require.True(t, ok)
	assert.Equal(t, []float64{1}, values)
}

func TestCompile_UnknownAggregateErrors(t *testing.T) {
	t.Parallel()

	_, err := filter.Compile(filter.Spec{Name: "x", Aggregate: "bogus"})
	assert.ErrorIs(t, err, filter.ErrUnknownAggregate)
}

func TestCompile_InvalidRegexErrors(t *testing.T) {
	t.Parallel()

	_, err := filter.Compile(filter.Spec{Name: "(", NameIsRegex: true, Aggregate: filter.AggregateNone})
	assert.Error(t, err)
}

func TestSeries_BuildSeries_SkipsCommitsWithNoMatch(t *testing.T) {
	t.Parallel()

	s, err := filter.Compile(filter.Spec{Name: "x", Aggregate: filter.AggregateMean})
	require.NoError(t, err)

	a := objectid.NewHash("1111111111111111111111111111111111111111")
	b := objectid.NewHash("2222222222222222222222222222222222222222")

	samples := s.BuildSeries(
		[]objectid.Hash{a, b},
		[][]record.Measurement{
			{{Name: "x", Value: 5}},
			{{Name: "unrelated", Value: 9}},
		},
	)

	require.Len(t, samples, 1)
	assert.Equal(t, a, samples[0].Commit)
	assert.Equal(t, []float64{5}, samples[0].Values)
}
