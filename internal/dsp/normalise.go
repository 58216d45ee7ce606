package dsp

import (
	"fmt"
	"math"
)

// MinPeak is the smallest absolute peak, in volts, that Normalise will scale.
const MinPeak = 1e-12

// Normalise returns a copy of x scaled so its largest absolute value equals
// peak. A window whose peak is below MinPeak yields ErrDegenerateAmplitude.
func Normalise(x []float64, peak float64) ([]float64, error) {
	if err := checkFinite("normalize", x); err != nil {
		return nil, err
	}
	var maxAbs float64
	for _, v := range x {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs < MinPeak {
		return nil, fmt.Errorf("%w: peak %g", ErrDegenerateAmplitude, maxAbs)
	}

	scale := peak / maxAbs
	out := make([]float64, len(x))
	for i, v := range x {
		// v*scale can round one ulp past peak
		out[i] = math.Copysign(math.Min(math.Abs(v*scale), peak), v)
	}
	return out, nil
}

func checkFinite(stage string, x []float64) error {
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s produced %g at sample %d", ErrNonFinite, stage, v, i)
		}
	}
	return nil
}
