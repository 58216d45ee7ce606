package dsp

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DetrendMode selects the baseline removed before filtering.
type DetrendMode int

const (
	DetrendNone DetrendMode = iota
	DetrendConstant
	DetrendLinear
)

// ParseDetrendMode maps "none", "constant" or "linear" to a DetrendMode.
func ParseDetrendMode(s string) (DetrendMode, error) {
	switch strings.ToLower(s) {
	case "none":
		return DetrendNone, nil
	case "", "constant":
		return DetrendConstant, nil
	case "linear":
		return DetrendLinear, nil
	}
	return DetrendNone, fmt.Errorf("%w: unknown detrend mode %q", ErrInvalidParams, s)
}

func (m DetrendMode) String() string {
	switch m {
	case DetrendConstant:
		return "constant"
	case DetrendLinear:
		return "linear"
	default:
		return "none"
	}
}

// Detrend returns a copy of x with the selected baseline removed.
func Detrend(x []float64, mode DetrendMode) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	if len(out) == 0 {
		return out
	}

	switch mode {
	case DetrendConstant:
		floats.AddConst(-stat.Mean(out, nil), out)
	case DetrendLinear:
		if len(out) < 2 {
			floats.AddConst(-out[0], out)
			return out
		}
		t := make([]float64, len(out))
		for i := range t {
			t[i] = float64(i)
		}
		alpha, beta := stat.LinearRegression(t, out, nil, false)
		for i := range out {
			out[i] -= alpha + beta*t[i]
		}
	}
	return out
}
