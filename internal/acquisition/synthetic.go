package acquisition

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/banshee-data/neurobile/internal/timeutil"
)

// Tone is one sinusoid mixed into a synthetic channel.
type Tone struct {
	Freq float64 // Hz
	Amp  float64 // volts
}

// SyntheticBoard generates sine-plus-noise EEG for development without an
// amplifier. Sample times derive from the sample index, so output is
// independent of scheduling jitter.
type SyntheticBoard struct {
	Rate     int
	Channels [][]Tone // per channel
	Noise    float64  // gaussian sigma, volts
	Offset   float64  // DC offset, volts
	Chunk    time.Duration
	Clock    timeutil.Clock
	rng      *rand.Rand
	n        int64
}

// NewSyntheticBoard returns an 8-channel 250 Hz board with a strong alpha
// rhythm on C3/C4 and weaker beta activity.
func NewSyntheticBoard(seed int64) *SyntheticBoard {
	chans := make([][]Tone, 8)
	for i := range chans {
		chans[i] = []Tone{{Freq: 10, Amp: 20e-6}, {Freq: 22, Amp: 3e-6}}
	}
	chans[2] = []Tone{{Freq: 10, Amp: 8e-6}, {Freq: 20, Amp: 6e-6}}
	return &SyntheticBoard{
		Rate:     250,
		Channels: chans,
		Noise:    2e-6,
		Offset:   1e-3,
		Chunk:    40 * time.Millisecond,
		Clock:    timeutil.RealClock{},
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (s *SyntheticBoard) Descriptor() Descriptor {
	names := []string{"C3", "C4", "Cz", "P3", "P4", "Pz", "O1", "O2"}
	return Descriptor{
		Name:         "synthetic",
		SamplingRate: s.Rate,
		ChannelNames: names[:len(s.Channels)],
	}
}

// Generate returns the next n samples of every channel.
func (s *SyntheticBoard) Generate(n int) [][]float64 {
	out := make([][]float64, len(s.Channels))
	for c := range out {
		out[c] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		t := float64(s.n) / float64(s.Rate)
		for c, tones := range s.Channels {
			v := s.Offset + s.Noise*s.rng.NormFloat64()
			for _, tone := range tones {
				v += tone.Amp * math.Sin(2*math.Pi*tone.Freq*t)
			}
			out[c][i] = v
		}
		s.n++
	}
	return out
}

// Stream pushes one chunk of samples into buf per Chunk interval.
func (s *SyntheticBoard) Stream(ctx context.Context, buf *RingBuffer) error {
	ticker := s.Clock.NewTicker(s.Chunk)
	defer ticker.Stop()

	per := float64(s.Rate) * s.Chunk.Seconds()
	var owed float64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			owed += per
			n := int(owed)
			owed -= float64(n)
			if n == 0 {
				continue
			}
			if err := buf.PushFrame(s.Generate(n)); err != nil {
				return err
			}
		}
	}
}
