package audit

import "math"

// sparkBlocks are the eight block levels a normalized value maps to, lowest
// to highest.
var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// sparkline renders values as a block-character string, each value
// normalized to the 0-100 percent range spanned by the full slice. A slice
// of fewer than two distinct values renders as the lowest block throughout.
func sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}

	lo, hi := values[0], values[0]

	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	span := hi - lo

	out := make([]rune, len(values))

	for i, v := range values {
		var frac float64
		if span > 0 {
			frac = (v - lo) / span
		}

		out[i] = sparkBlocks[level(frac)]
	}

	return string(out)
}

func level(frac float64) int {
	idx := int(frac * float64(len(sparkBlocks)-1))

	return int(math.Max(0, math.Min(float64(len(sparkBlocks)-1), float64(idx))))
}
