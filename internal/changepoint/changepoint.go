// Package changepoint detects regime shifts in a numeric series using
// Pruned Exact Linear Time (PELT) with a sum-of-squared-deviations cost,
// then enriches surviving change points with magnitude/direction/confidence.
package changepoint

import (
	"math"

	"github.com/gitperf/gitperf/pkg/alg/stats"
)

// Direction classifies the mean shift at a change point.
type Direction int

// Directions a change point can report.
const (
	Flat Direction = iota
	Increase
	Decrease
)

// String renders the direction name.
func (d Direction) String() string {
	switch d {
	case Increase:
		return "increase"
	case Decrease:
		return "decrease"
	default:
		return "flat"
	}
}

// Point is one reported change point: Index is the series position where
// the new regime begins (the first point belonging to the segment after).
type Point struct {
	Index        int
	MagnitudePct float64
	Direction    Direction
	Confidence   float64
}

// Confidence-heuristic tuning constants: named and defaulted per the
// requirement that they be concrete rather than buried magic numbers.
const (
	// confidenceLengthScale is the combined segment length at which the
	// length factor saturates to 1.
	confidenceLengthScale = 20.0
	// confidenceMagnitudePctScale is the |magnitude_pct| at which the
	// magnitude factor saturates to 1.
	confidenceMagnitudePctScale = 50.0
	// confidenceVarianceRatioScale is the between/within variance ratio at
	// which the variance factor saturates to 1.
	confidenceVarianceRatioScale = 4.0
	// varianceEpsilon guards the between/within ratio against a zero
	// within-segment variance.
	varianceEpsilon = 1e-9
)

// Detect runs PELT over x with the given penalty multiplier, dropping
// change points whose magnitude or confidence falls short of the supplied
// thresholds. Fewer than minDataPoints values yields no change points.
func Detect(x []float64, penalty, minMagnitudePct, confidenceThreshold float64, minDataPoints int) []Point {
	n := len(x)
	if n < minDataPoints {
		return nil
	}

	_, stddev := stats.MeanStdDev(x)
	beta := penalty * math.Log(float64(n)) * stddev * stddev

	boundaries := pelt(x, beta)

	return enrich(x, boundaries, minMagnitudePct, confidenceThreshold)
}

// prefixSums precomputes running sum and sum-of-squares so any segment's
// sum-of-squared-deviations cost is an O(1) lookup.
type prefixSums struct {
	sum   []float64
	sumSq []float64
}

func newPrefixSums(x []float64) prefixSums {
	p := prefixSums{sum: make([]float64, len(x)+1), sumSq: make([]float64, len(x)+1)}

	for i, v := range x {
		p.sum[i+1] = p.sum[i] + v
		p.sumSq[i+1] = p.sumSq[i] + v*v
	}

	return p
}

// cost returns the sum-of-squared-deviations cost of segment [a,b).
func (p prefixSums) cost(a, b int) float64 {
	if b <= a {
		return 0
	}

	count := float64(b - a)
	sum := p.sum[b] - p.sum[a]
	sumSq := p.sumSq[b] - p.sumSq[a]
	mean := sum / count

	// sum((x-mean)^2) = sumSq - 2*mean*sum + count*mean^2 = sumSq - mean*sum,
	// since count*mean == sum.
	return sumSq - mean*sum
}

// pelt runs the classical Killick-pruned recurrence and backtracks to the
// set of internal change-point indices, ties broken toward the lowest τ.
func pelt(x []float64, beta float64) []int {
	n := len(x)
	sums := newPrefixSums(x)

	f := make([]float64, n+1)
	cp := make([]int, n+1)
	f[0] = -beta

	active := []int{0}

	for t := 1; t <= n; t++ {
		raw := make([]float64, len(active))
		best := math.Inf(1)
		bestTau := 0

		for i, tau := range active {
			raw[i] = f[tau] + sums.cost(tau, t)

			val := raw[i] + beta
			if val < best {
				best = val
				bestTau = tau
			}
		}

		f[t] = best
		cp[t] = bestTau

		threshold := best

		next := make([]int, 0, len(active)+1)

		for i, tau := range active {
			if raw[i] <= threshold {
				next = append(next, tau)
			}
		}

		active = append(next, t)
	}

	var internal []int

	for t := n; t > 0; {
		tau := cp[t]
		if tau > 0 {
			internal = append(internal, tau)
		}

		t = tau
	}

	for i, j := 0, len(internal)-1; i < j; i, j = i+1, j-1 {
		internal[i], internal[j] = internal[j], internal[i]
	}

	return internal
}

// enrich computes magnitude/direction/confidence for each internal boundary
// and drops those failing either threshold.
func enrich(x []float64, internal []int, minMagnitudePct, confidenceThreshold float64) []Point {
	if len(internal) == 0 {
		return nil
	}

	boundaries := make([]int, 0, len(internal)+2)
	boundaries = append(boundaries, 0)
	boundaries = append(boundaries, internal...)
	boundaries = append(boundaries, len(x))

	var points []Point

	for k := 1; k < len(boundaries)-1; k++ {
		idx := boundaries[k]
		before := x[boundaries[k-1]:idx]
		after := x[idx:boundaries[k+1]]

		meanBefore := stats.Mean(before)
		meanAfter := stats.Mean(after)

		magnitudePct := magnitude(meanBefore, meanAfter)
		direction := directionOf(magnitudePct)
		confidence := confidenceOf(before, after, meanBefore, meanAfter)

		if math.Abs(magnitudePct) < minMagnitudePct || confidence < confidenceThreshold {
			continue
		}

		points = append(points, Point{
			Index:        idx,
			MagnitudePct: magnitudePct,
			Direction:    direction,
			Confidence:   confidence,
		})
	}

	return points
}

func magnitude(before, after float64) float64 {
	if before == 0 {
		if after == 0 {
			return 0
		}

		if after > 0 {
			return math.Inf(1)
		}

		return math.Inf(-1)
	}

	return 100 * (after/before - 1)
}

func directionOf(magnitudePct float64) Direction {
	switch {
	case magnitudePct > 0:
		return Increase
	case magnitudePct < 0:
		return Decrease
	default:
		return Flat
	}
}

// confidenceOf blends three factors, each saturating to 1: combined segment
// length, |magnitude_pct|, and the ratio of between- to within-segment
// variance (a one-way ANOVA-style F-ratio over the two segments).
func confidenceOf(before, after []float64, meanBefore, meanAfter float64) float64 {
	n := len(before) + len(after)

	lengthFactor := math.Min(1, float64(n)/confidenceLengthScale)
	magnitudeFactor := math.Min(1, math.Abs(magnitude(meanBefore, meanAfter))/confidenceMagnitudePctScale)

	withinSS := sumSquaredDeviation(before, meanBefore) + sumSquaredDeviation(after, meanAfter)
	withinVar := withinSS / float64(n)

	combinedMean := (meanBefore*float64(len(before)) + meanAfter*float64(len(after))) / float64(n)
	betweenVar := (float64(len(before))*sq(meanBefore-combinedMean) + float64(len(after))*sq(meanAfter-combinedMean)) / float64(n)

	ratio := betweenVar / (withinVar + varianceEpsilon)
	varianceFactor := math.Min(1, ratio/confidenceVarianceRatioScale)

	return (lengthFactor + magnitudeFactor + varianceFactor) / 3
}

func sumSquaredDeviation(values []float64, mean float64) float64 {
	var sum float64

	for _, v := range values {
		sum += sq(v - mean)
	}

	return sum
}

func sq(v float64) float64 {
	return v * v
}
