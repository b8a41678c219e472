// Package filter reduces the decoded measurements from a commit walk into a
// per-commit scalar time series: name/regex match, selector superset match,
// then per-commit aggregation.
package filter

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/gitperf/gitperf/internal/record"
	"github.com/gitperf/gitperf/pkg/alg/stats"
)

// ErrUnknownAggregate is returned by Compile for an Aggregate outside the
// closed set of known modes.
var ErrUnknownAggregate = errors.New("filter: unknown aggregate mode")

// Aggregate is the per-commit reduction mode applied to the records
// surviving name and selector filtering.
type Aggregate string

// Aggregate modes. None passes every matching value through unreduced.
const (
	AggregateNone   Aggregate = "none"
	AggregateMin    Aggregate = "min"
	AggregateMax    Aggregate = "max"
	AggregateMedian Aggregate = "median"
	AggregateMean   Aggregate = "mean"
)

// Spec configures one filter-and-aggregate pass. Name is matched exactly
// first; if it doesn't match and NameIsRegex is set, Name is compiled as an
// extended regular expression instead.
type Spec struct {
	Name        string
	NameIsRegex bool
	Selectors   map[string]string
	Aggregate   Aggregate
}

// Series holds a compiled Spec ready to filter repeated commits without
// recompiling Name's regexp on every call.
type Series struct {
	spec    Spec
	nameRe  *regexp.Regexp
	reducer func([]float64) []float64
}

// Compile validates spec and prepares a reusable Series. An invalid regex
// Name or unknown Aggregate mode is a permanent configuration error.
func Compile(spec Spec) (*Series, error) {
	reducer, err := reducerFor(spec.Aggregate)
	if err != nil {
		return nil, err
	}

	s := &Series{spec: spec, reducer: reducer}

	if spec.NameIsRegex {
		re, err := regexp.Compile(spec.Name)
		if err != nil {
			return nil, fmt.Errorf("filter: compile name regex %q: %w", spec.Name, err)
		}

		s.nameRe = re
	}

	return s, nil
}

func reducerFor(mode Aggregate) (func([]float64) []float64, error) {
	switch mode {
	case AggregateNone:
		return func(v []float64) []float64 { return v }, nil
	case AggregateMin:
		return reduceTo(stats.Min[float64]), nil
	case AggregateMax:
		return reduceTo(stats.Max[float64]), nil
	case AggregateMedian:
		return reduceTo(stats.Median), nil
	case AggregateMean:
		return reduceTo(stats.Mean), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAggregate, mode)
	}
}

func reduceTo(f func([]float64) float64) func([]float64) []float64 {
	return func(v []float64) []float64 { return []float64{f(v)} }
}

// Match reports whether m's name and selectors satisfy the series' Spec.
func (s *Series) Match(m record.Measurement) bool {
	if !s.matchName(m.Name) {
		return false
	}

	return selectorSuperset(m.Selectors, s.spec.Selectors)
}

func (s *Series) matchName(name string) bool {
	if name == s.spec.Name {
		return true
	}

	return s.nameRe != nil && s.nameRe.MatchString(name)
}

// selectorSuperset reports whether have contains every key=value pair in
// want; extra keys in have are permitted.
func selectorSuperset(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}

	return true
}

// Reduce applies the series' filters to measurements and reduces the
// survivors per the configured Aggregate. A commit with zero matching
// records yields ok=false and no point, per the "no point" rule.
func (s *Series) Reduce(measurements []record.Measurement) (values []float64, ok bool) {
	var matched []float64

	for _, m := range measurements {
		if s.Match(m) {
			matched = append(matched, m.Value)
		}
	}

	if len(matched) == 0 {
		return nil, false
	}

	return s.reducer(matched), true
}
