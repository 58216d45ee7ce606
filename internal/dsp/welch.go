package dsp

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// FloorPowerOfTwo returns the largest power of two not greater than n,
// or 0 when n < 1.
func FloorPowerOfTwo(n int) int {
	if n < 1 {
		return 0
	}
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}

// NearestPowerOfTwo rounds n to the closest power of two, ties going up
// (250 gives 256, 192 gives 256), or 0 when n < 1.
func NearestPowerOfTwo(n int) int {
	lo := FloorPowerOfTwo(n)
	if lo == 0 || lo == n {
		return lo
	}
	hi := lo * 2
	if hi-n > n-lo {
		return lo
	}
	return hi
}

// PSD is a one-sided power spectral density estimate.
type PSD struct {
	Freqs []float64 // Hz
	Power []float64 // V^2/Hz
}

// Welch estimates the one-sided PSD of x by averaging Blackman-Harris
// windowed periodograms of nfft-sample segments overlapping by overlap
// samples. Each segment has its mean removed before windowing.
func Welch(x []float64, fs float64, nfft, overlap int) (PSD, error) {
	if nfft < 2 || len(x) < nfft {
		return PSD{}, fmt.Errorf("%w: %d samples for a %d-point segment", ErrTooShort, len(x), nfft)
	}
	if overlap < 0 || overlap >= nfft {
		return PSD{}, fmt.Errorf("%w: overlap %d for a %d-point segment", ErrInvalidParams, overlap, nfft)
	}

	w := make([]float64, nfft)
	for i := range w {
		w[i] = 1
	}
	w = window.BlackmanHarris(w)
	var wss float64
	for _, v := range w {
		wss += v * v
	}

	fft := fourier.NewFFT(nfft)
	bins := nfft/2 + 1
	power := make([]float64, bins)
	seg := make([]float64, nfft)
	coeff := make([]complex128, bins)

	step := nfft - overlap
	segments := 0
	for start := 0; start+nfft <= len(x); start += step {
		copy(seg, x[start:start+nfft])
		mean := stat.Mean(seg, nil)
		for i := range seg {
			seg[i] = (seg[i] - mean) * w[i]
		}
		coeff = fft.Coefficients(coeff, seg)
		for k, c := range coeff {
			a := cmplx.Abs(c)
			power[k] += a * a
		}
		segments++
	}

	scale := 1 / (fs * wss * float64(segments))
	freqs := make([]float64, bins)
	for k := range power {
		power[k] *= scale
		// Fold the negative frequencies in, except DC and Nyquist.
		if k > 0 && !(nfft%2 == 0 && k == bins-1) {
			power[k] *= 2
		}
		freqs[k] = float64(k) * fs / float64(nfft)
	}
	return PSD{Freqs: freqs, Power: power}, nil
}

// BandPower integrates the PSD over [lo, hi] Hz with the trapezoidal rule.
func (p PSD) BandPower(lo, hi float64) (float64, error) {
	var fs, ps []float64
	for i, f := range p.Freqs {
		if f >= lo && f <= hi {
			fs = append(fs, f)
			ps = append(ps, p.Power[i])
		}
	}
	if len(fs) < 2 {
		return 0, fmt.Errorf("%w: band [%g, %g] Hz spans %d PSD bins", ErrTooShort, lo, hi, len(fs))
	}
	return integrate.Trapezoidal(fs, ps), nil
}

// BandPowers returns the power in [lo1, hi1] and in [lo2, hi2] for a single
// filtered channel sampled at fs. The PSD uses the largest power-of-two
// segment that fits with 50% overlap.
func BandPowers(x []float64, fs, lo1, hi1, lo2, hi2 float64) (float64, float64, error) {
	nfft := FloorPowerOfTwo(len(x))
	psd, err := Welch(x, fs, nfft, nfft/2)
	if err != nil {
		return 0, 0, err
	}
	p1, err := psd.BandPower(lo1, hi1)
	if err != nil {
		return 0, 0, err
	}
	p2, err := psd.BandPower(lo2, hi2)
	if err != nil {
		return 0, 0, err
	}
	return p1, p2, nil
}

// BandPowerRatio returns BandPowers' first band divided by its second. A
// zero denominator yields ErrDivisionByZero.
func BandPowerRatio(x []float64, fs, lo1, hi1, lo2, hi2 float64) (float64, error) {
	num, den, err := BandPowers(x, fs, lo1, hi1, lo2, hi2)
	if err != nil {
		return 0, err
	}
	if den == 0 {
		return 0, ErrDivisionByZero
	}
	return num / den, nil
}
