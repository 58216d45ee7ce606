package session

import (
	"fmt"

	"github.com/banshee-data/neurobile/internal/acquisition"
	"github.com/banshee-data/neurobile/internal/classifier"
	"github.com/banshee-data/neurobile/internal/command"
	"github.com/banshee-data/neurobile/internal/config"
	"github.com/banshee-data/neurobile/internal/cue"
	"github.com/banshee-data/neurobile/internal/dsp"
	"github.com/banshee-data/neurobile/internal/feedback"
	"github.com/banshee-data/neurobile/internal/telemetry"
	"github.com/banshee-data/neurobile/internal/timeutil"
)

// Motor-imagery electrodes (C3, C4, Cz) are the first three board rows; the
// ratio modes use C3 alone.
var (
	ClassifyChannels = []int{0, 1, 2}
	RatioChannels    = []int{0}
)

// Deps are the collaborators a Processor does not build itself.
type Deps struct {
	Predictor classifier.Predictor
	Slot      *command.Slot
	Speaker   feedback.Speaker
	Beeper    feedback.Beeper
	Publisher telemetry.Publisher
	Store     Store
	SessionID string
	Clock     timeutil.Clock
}

// ClassifyParams returns the classification pipeline parameters from cfg.
func ClassifyParams(cfg *config.Config) (dsp.Params, error) {
	mode, err := dsp.ParseDetrendMode(cfg.GetDetrend())
	if err != nil {
		return dsp.Params{}, err
	}
	return dsp.Params{
		Detrend:      mode,
		BandpassLow:  cfg.GetBandpassLow(),
		BandpassHigh: cfg.GetBandpassHigh(),
		Order:        cfg.GetFilterOrder(),
		Bandstop:     cfg.GetBandstopEnabled(),
		BandstopLow:  cfg.GetBandstopLow(),
		BandstopHigh: cfg.GetBandstopHigh(),
		TargetRate:   cfg.GetTargetRate(),
		Peak:         cfg.GetNormalizePeak(),
	}, nil
}

// RatioParams returns the gate/beep pipeline parameters: linear detrend and
// the gate band-pass at the board rate with no mains notch. Normalising
// leaves the ratio unchanged but keeps plots on one scale.
func RatioParams(cfg *config.Config, samplingRate int) dsp.Params {
	return dsp.Params{
		Detrend:      dsp.DetrendLinear,
		BandpassLow:  cfg.GetGateBandpassLow(),
		BandpassHigh: cfg.GetGateBandpassHigh(),
		Order:        cfg.GetFilterOrder(),
		TargetRate:   float64(samplingRate),
		Peak:         cfg.GetNormalizePeak(),
	}
}

// New builds a Processor for mode reading from src, whose layout is desc.
// Configuration errors are returned before anything starts.
func New(mode Mode, cfg *config.Config, desc acquisition.Descriptor, src acquisition.Source, deps Deps) (*Processor, error) {
	rate := desc.SamplingRate
	if rate <= 0 {
		return nil, fmt.Errorf("board %s reports sampling rate %d", desc.Name, rate)
	}
	p := &Processor{
		Mode:      mode,
		Slot:      deps.Slot,
		Predictor: deps.Predictor,
		Speaker:   deps.Speaker,
		Beeper:    deps.Beeper,
		Publisher: deps.Publisher,
		Store:     deps.Store,
		SessionID: deps.SessionID,
		Clock:     deps.Clock,
		Bands: Bands{
			AlphaLow:      cfg.GetAlphaLow(),
			AlphaHigh:     cfg.GetAlphaHigh(),
			BetaLow:       cfg.GetBetaLow(),
			BetaHigh:      cfg.GetBetaHigh(),
			GateMin:       cfg.GetGateRatioMin(),
			GateMax:       cfg.GetGateRatioMax(),
			BeepThreshold: cfg.GetBeepRatio(),
		},
	}
	if p.Slot == nil {
		p.Slot = &command.Slot{}
	}

	var (
		params   dsp.Params
		channels []int
		err      error
	)
	switch mode {
	case ModeClassify:
		if params, err = ClassifyParams(cfg); err != nil {
			return nil, err
		}
		channels = ClassifyChannels
		p.Interval = cfg.GetUpdateInterval()
		p.Machine = cue.NewMachine(cfg.GetCueInterval(), cfg.GetCaptureDuration())
	case ModeGate, ModeBeep:
		params = RatioParams(cfg, rate)
		channels = RatioChannels
		p.Interval = cfg.GetPollInterval()
		p.MinSamples = dsp.NearestPowerOfTwo(rate)
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	for _, ch := range channels {
		if ch >= len(desc.ChannelNames) {
			return nil, fmt.Errorf("board %s has %d channels, mode %s needs row %d", desc.Name, len(desc.ChannelNames), mode, ch)
		}
	}

	if p.Pipeline, err = dsp.NewPipeline(params, float64(rate)); err != nil {
		return nil, err
	}
	if p.Reader, err = acquisition.NewReader(src, rate, cfg.WindowSamples(rate), cfg.GetTrimSamples(), channels); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
