// Package audit implements the pass/fail/skip decision procedure over a
// measurement's recent history: compare HEAD against a trailing baseline
// by z-score, falling back to a relative-deviation threshold before
// declaring a regression.
package audit

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/gitperf/gitperf/internal/config"
	"github.com/gitperf/gitperf/pkg/alg/stats"
)

// Status is the audit's closed outcome set.
type Status string

// The closed set of audit outcomes.
const (
	StatusPass          Status = "pass"
	StatusPassThreshold Status = "pass-threshold"
	StatusFail          Status = "fail"
	StatusSkipped       Status = "skipped"
)

// Direction classifies where HEAD sits relative to the tail mean.
type Direction string

// The closed set of directions.
const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// Input is one measurement name's audit inputs: HEAD's scalar(s) (multiple
// only when aggregate_by=none) and the ordered tail preceding it.
type Input struct {
	Name string
	Head []float64
	Tail []float64
}

// Result is one measurement name's full audit output.
type Result struct {
	Name              string
	Status            Status
	Note              string
	Z                 float64
	Direction         Direction
	Mean              float64
	StdDev            float64
	MAD               float64
	Median            float64
	N                 int
	RelativeDeviation float64
	Unit              string
	Sparkline         string
}

// Audit runs the seven-step decision procedure for one measurement name
// against parameters resolved for it from resolver. Returns a
// Config-invalid error (see config.Resolver) if a resolved parameter falls
// outside its documented domain.
func Audit(in Input, resolver *config.Resolver) (Result, error) {
	unit := resolver.Unit(in.Name)
	spark := sparkline(append(append([]float64{}, in.Tail...), in.Head...))

	n := len(in.Tail)

	minMeasurements, err := resolver.MinMeasurements(in.Name)
	if err != nil {
		return Result{}, err
	}

	if n < minMeasurements {
		return Result{
			Name:      in.Name,
			Status:    StatusSkipped,
			Note:      "insufficient data",
			N:         n,
			Unit:      unit,
			Sparkline: spark,
		}, nil
	}

	mean, stddev := stats.MeanStdDev(in.Tail)
	mad := stats.MAD(in.Tail)
	median := stats.Median(in.Tail)
	// HEAD may carry several values (e.g. aggregate_by=none); δ and z use
	// their arithmetic mean whatever aggregate_by says.
	head := stats.Mean(in.Head)

	dispersionMethod, err := resolver.Dispersion(in.Name)
	if err != nil {
		return Result{}, err
	}

	dispersion := mad
	if dispersionMethod == config.DispersionStdDev {
		dispersion = stddev
	}

	z := stats.ZScore(head, mean, dispersion)
	direction := directionOf(head, mean)
	relDev := relativeDeviation(head, median)

	result := Result{
		Name:              in.Name,
		Z:                 z,
		Direction:         direction,
		Mean:              mean,
		StdDev:            stddev,
		MAD:               mad,
		Median:            median,
		N:                 n,
		RelativeDeviation: relDev,
		Unit:              unit,
		Sparkline:         spark,
	}

	sigmaThr, err := resolver.Sigma(in.Name)
	if err != nil {
		return Result{}, err
	}

	minRelDev := resolver.MinRelativeDeviation(in.Name)

	switch {
	case math.Abs(z) <= sigmaThr:
		result.Status = StatusPass
	case relDev < minRelDev:
		result.Status = StatusPassThreshold
		result.Note = "below relative threshold"
	default:
		result.Status = StatusFail
		result.Note = "regression detected"
	}

	return result, nil
}

func directionOf(head, mean float64) Direction {
	switch {
	case head > mean:
		return DirectionUp
	case head < mean:
		return DirectionDown
	default:
		return DirectionFlat
	}
}

func relativeDeviation(head, median float64) float64 {
	if median == 0 {
		if head != 0 {
			return math.Inf(1)
		}

		return 0
	}

	return math.Abs(head/median-1) * 100
}

// AuditAll runs Audit for every input independently and concurrently,
// preserving input order in the result slice. Cancelling ctx stops
// in-flight audits at the next per-measurement boundary.
func AuditAll(ctx context.Context, inputs []Input, resolver *config.Resolver) ([]Result, error) {
	results := make([]Result, len(inputs))

	g, gctx := errgroup.WithContext(ctx)

	for i, in := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			result, err := Audit(in, resolver)
			if err != nil {
				return err
			}

			results[i] = result

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// OverallFailed reports whether any Result in results is a failure: overall
// process status is fail iff any audited name is fail.
func OverallFailed(results []Result) bool {
	for _, r := range results {
		if r.Status == StatusFail {
			return true
		}
	}

	return false
}
