package dsp

import (
	"fmt"
	"math"
)

// Section is one second-order IIR section with a0 normalised to 1.
// First-order sections set b2 and a2 to zero.
type Section struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// SOS is a cascade of second-order sections.
type SOS []Section

func rbj(f0, fs, q float64) (cosW, alpha float64) {
	w0 := 2 * math.Pi * f0 / fs
	return math.Cos(w0), math.Sin(w0) / (2 * q)
}

func normalise(b0, b1, b2, a0, a1, a2 float64) Section {
	return Section{B0: b0 / a0, B1: b1 / a0, B2: b2 / a0, A1: a1 / a0, A2: a2 / a0}
}

// butterworthQ returns the pole-pair quality factors of an order-n
// Butterworth prototype, and whether a real first-order pole remains.
func butterworthQ(n int) (qs []float64, odd bool) {
	for k := 0; k < n/2; k++ {
		theta := float64(2*k+1) * math.Pi / float64(2*n)
		if n%2 == 1 {
			theta = float64(k+1) * math.Pi / float64(n)
			qs = append(qs, 1/(2*math.Cos(theta)))
			continue
		}
		qs = append(qs, 1/(2*math.Sin(theta)))
	}
	return qs, n%2 == 1
}

// ButterworthLowpass designs an order-n lowpass as bilinear biquads
// prewarped at fc.
func ButterworthLowpass(n int, fc, fs float64) SOS {
	qs, odd := butterworthQ(n)
	var s SOS
	for _, q := range qs {
		c, a := rbj(fc, fs, q)
		s = append(s, normalise((1-c)/2, 1-c, (1-c)/2, 1+a, -2*c, 1-a))
	}
	if odd {
		k := math.Tan(math.Pi * fc / fs)
		s = append(s, Section{B0: k / (1 + k), B1: k / (1 + k), A1: (k - 1) / (k + 1)})
	}
	return s
}

// ButterworthHighpass designs an order-n highpass as bilinear biquads
// prewarped at fc.
func ButterworthHighpass(n int, fc, fs float64) SOS {
	qs, odd := butterworthQ(n)
	var s SOS
	for _, q := range qs {
		c, a := rbj(fc, fs, q)
		s = append(s, normalise((1+c)/2, -(1+c), (1+c)/2, 1+a, -2*c, 1-a))
	}
	if odd {
		k := math.Tan(math.Pi * fc / fs)
		s = append(s, Section{B0: 1 / (1 + k), B1: -1 / (1 + k), A1: (k - 1) / (k + 1)})
	}
	return s
}

// Bandpass cascades an order-n highpass at lo with an order-n lowpass at hi.
func Bandpass(n int, lo, hi, fs float64) (SOS, error) {
	if err := checkBand(lo, hi, fs); err != nil {
		return nil, err
	}
	return append(ButterworthHighpass(n, lo, fs), ButterworthLowpass(n, hi, fs)...), nil
}

// Bandstop cascades (n+1)/2 notch sections centred on the geometric mean of
// lo and hi with a -3 dB width of hi-lo.
func Bandstop(n int, lo, hi, fs float64) (SOS, error) {
	if err := checkBand(lo, hi, fs); err != nil {
		return nil, err
	}
	f0 := math.Sqrt(lo * hi)
	c, a := rbj(f0, fs, f0/(hi-lo))
	notch := normalise(1, -2*c, 1, 1+a, -2*c, 1-a)
	s := make(SOS, (n+1)/2)
	for i := range s {
		s[i] = notch
	}
	return s, nil
}

func checkBand(lo, hi, fs float64) error {
	nyq := fs / 2
	switch {
	case fs <= 0:
		return fmt.Errorf("%w: sampling rate %g", ErrInvalidParams, fs)
	case lo <= 0 || hi <= lo:
		return fmt.Errorf("%w: band [%g, %g] Hz must satisfy 0 < low < high", ErrInvalidParams, lo, hi)
	case hi >= nyq:
		return fmt.Errorf("%w: cutoff %g Hz at or above Nyquist %g Hz", ErrInvalidParams, hi, nyq)
	}
	return nil
}

// dcGain is the section's response to a constant input.
func (sec Section) dcGain() float64 {
	den := 1 + sec.A1 + sec.A2
	if den == 0 {
		return 0
	}
	return (sec.B0 + sec.B1 + sec.B2) / den
}

// Filter runs x through the cascade in Direct Form II Transposed. When
// steady is true each section starts in the state it would hold after an
// infinitely long constant input of x[0].
func (s SOS) Filter(x []float64, steady bool) []float64 {
	y := make([]float64, len(x))
	copy(y, x)
	if len(y) == 0 {
		return y
	}

	level := y[0]
	for _, sec := range s {
		var z1, z2 float64
		g := sec.dcGain()
		if steady {
			z2 = (sec.B2 - sec.A2*g) * level
			z1 = (g - sec.B0) * level
		}
		for i, in := range y {
			out := sec.B0*in + z1
			z1 = sec.B1*in - sec.A1*out + z2
			z2 = sec.B2*in - sec.A2*out
			y[i] = out
		}
		level *= g
	}
	return y
}

// PadLen is the odd-extension length FiltFilt adds to each end.
func (s SOS) PadLen() int {
	return 3 * (2*len(s) + 1)
}

// FiltFilt applies the cascade forward and backward for zero phase
// distortion, with odd reflection at both ends to suppress edge transients.
func (s SOS) FiltFilt(x []float64) ([]float64, error) {
	pad := s.PadLen()
	if len(x) <= pad {
		return nil, fmt.Errorf("%w: %d samples, need more than %d for zero-phase filtering", ErrTooShort, len(x), pad)
	}

	n := len(x)
	ext := make([]float64, n+2*pad)
	for i := 0; i < pad; i++ {
		ext[i] = 2*x[0] - x[pad-i]
		ext[pad+n+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[pad:], x)

	y := s.Filter(ext, true)
	reverse(y)
	y = s.Filter(y, true)
	reverse(y)

	out := make([]float64, n)
	copy(out, y[pad:pad+n])
	return out, nil
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
