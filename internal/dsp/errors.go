// Package dsp implements the per-channel EEG conditioning chain and the
// spectral features computed from it. Every function is a pure function of
// its inputs, so channels may be processed concurrently.
package dsp

import "errors"

var (
	// ErrDivisionByZero is returned by BandPowerRatio when the denominator
	// band holds no power. Callers skip the decision for that tick.
	ErrDivisionByZero = errors.New("dsp: division by zero band power")

	// ErrDegenerateAmplitude is returned when a window's peak is too close to
	// zero to normalise.
	ErrDegenerateAmplitude = errors.New("dsp: degenerate amplitude")

	// ErrNonFinite is returned when a stage produces NaN or Inf.
	ErrNonFinite = errors.New("dsp: non-finite sample")

	// ErrTooShort is returned when a signal is too short for the requested
	// operation (filter padding, PSD segment, band integration).
	ErrTooShort = errors.New("dsp: signal too short")

	// ErrInvalidParams marks a configuration error, such as a cutoff at or
	// above Nyquist.
	ErrInvalidParams = errors.New("dsp: invalid parameters")
)
