package dsp

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ResampledLength is the number of output samples for n inputs taken at
// fromRate and resampled to toRate.
func ResampledLength(n int, fromRate, toRate float64) int {
	return int(float64(n) * toRate / fromRate)
}

// Resample changes x to num samples by band-limited Fourier interpolation:
// the spectrum is truncated or zero-padded and transformed back, so content
// above the new Nyquist frequency is discarded.
func Resample(x []float64, num int) ([]float64, error) {
	nx := len(x)
	if nx < 2 || num < 2 {
		return nil, fmt.Errorf("%w: resample %d -> %d samples", ErrTooShort, nx, num)
	}

	X := fourier.NewFFT(nx).Coefficients(nil, x)
	Y := make([]complex128, num/2+1)

	n := min(num, nx)
	copy(Y, X[:n/2+1])
	if n%2 == 0 {
		switch {
		case num < nx:
			Y[n/2] *= 2
		case nx < num:
			Y[n/2] *= 0.5
		}
	}
	if num%2 == 0 {
		Y[num/2] = complex(real(Y[num/2]), 0)
	}

	y := fourier.NewFFT(num).Sequence(nil, Y)
	scale := 1 / float64(nx)
	for i := range y {
		y[i] *= scale
	}
	return y, nil
}
