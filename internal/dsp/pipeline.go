package dsp

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Params configures a Pipeline. Frequencies are in Hz; Peak is in volts.
type Params struct {
	Detrend      DetrendMode
	BandpassLow  float64
	BandpassHigh float64
	Order        int
	Bandstop     bool
	BandstopLow  float64
	BandstopHigh float64
	TargetRate   float64
	Peak         float64
}

// Pipeline conditions raw channels: detrend, zero-phase bandpass, optional
// zero-phase bandstop, resample to TargetRate and normalise to Peak. It
// holds only immutable filter coefficients, so one Pipeline may be shared
// across goroutines.
type Pipeline struct {
	params   Params
	rate     float64
	bandpass SOS
	bandstop SOS
}

// NewPipeline validates p against the source sampling rate and designs the
// filters. Every error it returns wraps ErrInvalidParams.
func NewPipeline(p Params, samplingRate float64) (*Pipeline, error) {
	if p.Order < 1 || p.Order > 8 {
		return nil, fmt.Errorf("%w: filter order %d outside 1..8", ErrInvalidParams, p.Order)
	}
	if p.TargetRate <= 0 {
		return nil, fmt.Errorf("%w: target rate %g", ErrInvalidParams, p.TargetRate)
	}
	if p.Peak <= 0 {
		return nil, fmt.Errorf("%w: normalisation peak %g", ErrInvalidParams, p.Peak)
	}

	bp, err := Bandpass(p.Order, p.BandpassLow, p.BandpassHigh, samplingRate)
	if err != nil {
		return nil, fmt.Errorf("bandpass: %w", err)
	}
	pl := &Pipeline{params: p, rate: samplingRate, bandpass: bp}

	if p.Bandstop {
		bs, err := Bandstop(p.Order, p.BandstopLow, p.BandstopHigh, samplingRate)
		if err != nil {
			return nil, fmt.Errorf("bandstop: %w", err)
		}
		pl.bandstop = bs
	}
	return pl, nil
}

// Params returns the parameters the pipeline was built with.
func (p *Pipeline) Params() Params { return p.params }

// SamplingRate returns the input rate in Hz.
func (p *Pipeline) SamplingRate() float64 { return p.rate }

// OutputLength returns the number of samples produced for n input samples.
func (p *Pipeline) OutputLength(n int) int {
	return ResampledLength(n, p.rate, p.params.TargetRate)
}

// MinInput is the shortest channel the pipeline accepts.
func (p *Pipeline) MinInput() int {
	pad := p.bandpass.PadLen()
	if l := p.bandstop.PadLen(); p.bandstop != nil && l > pad {
		pad = l
	}
	return pad + 1
}

// ProcessChannel runs one channel through every stage.
func (p *Pipeline) ProcessChannel(x []float64) ([]float64, error) {
	if err := checkFinite("input", x); err != nil {
		return nil, err
	}
	if len(x) < p.MinInput() {
		return nil, fmt.Errorf("%w: %d samples, need %d", ErrTooShort, len(x), p.MinInput())
	}

	y := Detrend(x, p.params.Detrend)

	y, err := p.bandpass.FiltFilt(y)
	if err != nil {
		return nil, fmt.Errorf("bandpass: %w", err)
	}
	if p.bandstop != nil {
		if y, err = p.bandstop.FiltFilt(y); err != nil {
			return nil, fmt.Errorf("bandstop: %w", err)
		}
	}
	if err := checkFinite("filter", y); err != nil {
		return nil, err
	}

	if y, err = Resample(y, p.OutputLength(len(x))); err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	return Normalise(y, p.params.Peak)
}

// Process runs every channel of frame through the pipeline concurrently.
// Channels must share one length. The first channel error is returned.
func (p *Pipeline) Process(frame [][]float64) ([][]float64, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrTooShort)
	}
	n := len(frame[0])
	for i, ch := range frame {
		if len(ch) != n {
			return nil, fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d", ErrInvalidParams, i, len(ch), n)
		}
	}

	out := make([][]float64, len(frame))
	var g errgroup.Group
	for i := range frame {
		g.Go(func() error {
			y, err := p.ProcessChannel(frame[i])
			if err != nil {
				return fmt.Errorf("channel %d: %w", i, err)
			}
			out[i] = y
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
