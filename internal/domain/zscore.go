package domain

// Default sentinels returned for values outside the reference range.
const (
	DefaultBelowRangeZ = -3.1
	DefaultAboveRangeZ = 3.1
)

// Sentinels bounds the Z-scores reported for out-of-range values.
type Sentinels struct {
	Below float64
	Above float64
}

// DefaultSentinels returns the -3.1/+3.1 sentinels used by SISVAN reports.
func DefaultSentinels() Sentinels {
	return Sentinels{Below: DefaultBelowRangeZ, Above: DefaultAboveRangeZ}
}

// InterpolateZ estimates the Z-score of value against the reference point
// by piecewise-linear interpolation between adjacent available Z columns.
// Values below the lowest or above the highest available reference value
// return the corresponding sentinel instead of extrapolating. A value equal
// to a reference value returns that column's Z exactly; on a plateau of
// equal values the lowest Z wins. The second return value is false when the
// point has no values at all.
func InterpolateZ(value float64, ref ReferencePoint, s Sentinels) (float64, bool) {
	zs, vals := ref.Available()
	if len(vals) == 0 {
		return 0, false
	}
	if value < vals[0] {
		return s.Below, true
	}
	last := len(vals) - 1
	if value > vals[last] {
		return s.Above, true
	}
	for i := 0; i < last; i++ {
		lo, hi := vals[i], vals[i+1]
		if value < lo || value > hi {
			continue
		}
		if hi == lo {
			return zs[i], true
		}
		return zs[i] + (value-lo)/(hi-lo)*(zs[i+1]-zs[i]), true
	}
	// Reached only for a single available point equal to value, or for
	// non-monotonic tables where no bracket contains value.
	for i, v := range vals {
		if v >= value {
			return zs[i], true
		}
	}
	return s.Above, true
}
