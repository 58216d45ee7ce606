// Package session runs the acquisition side of the control loop: each tick
// reads a window, filters it, and turns it into cues, decisions, ratios and
// beeps. It shares nothing with the actuator except the command slot.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/neurobile/internal/acquisition"
	"github.com/banshee-data/neurobile/internal/classifier"
	"github.com/banshee-data/neurobile/internal/command"
	"github.com/banshee-data/neurobile/internal/cue"
	"github.com/banshee-data/neurobile/internal/db"
	"github.com/banshee-data/neurobile/internal/dsp"
	"github.com/banshee-data/neurobile/internal/feedback"
	"github.com/banshee-data/neurobile/internal/monitoring"
	"github.com/banshee-data/neurobile/internal/telemetry"
	"github.com/banshee-data/neurobile/internal/timeutil"

	"gonum.org/v1/gonum/floats"
)

// Mode selects what a tick does with its window.
type Mode string

const (
	// ModeClassify cues the user, classifies imagined left/right movement
	// and steers the car.
	ModeClassify Mode = "classify"
	// ModeGate drives the car forward while the alpha/beta ratio is inside
	// the gate band.
	ModeGate Mode = "alpha"
	// ModeBeep beeps while the alpha/beta ratio is above a threshold.
	ModeBeep Mode = "beep"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeClassify, ModeGate, ModeBeep:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (want classify, alpha or beep)", s)
}

// Beep tone played in ModeBeep.
const (
	BeepFrequency = 440.0
	BeepDuration  = 500 * time.Millisecond
)

// energyProbeSamples is how many leading samples the poll-mode energy log
// averages.
const energyProbeSamples = 10

// Store persists session events. *db.DB implements it.
type Store interface {
	RecordCue(sessionID string, at time.Time) error
	RecordDecision(sessionID string, d db.Decision) error
	RecordRatio(sessionID string, r db.Ratio) error
}

// Bands configures the ratio computed in gate and beep modes.
type Bands struct {
	AlphaLow, AlphaHigh float64
	BetaLow, BetaHigh   float64
	GateMin, GateMax    float64
	BeepThreshold       float64
}

// Snapshot is the observable state after a tick.
type Snapshot struct {
	At       time.Time
	Rate     float64
	Window   [][]float64
	Ratio    *db.Ratio
	Decision *db.Decision
}

// Processor is one session's acquisition-side state. Run drives Tick on the
// mode's interval; tests call Tick directly.
type Processor struct {
	Mode      Mode
	Reader    *acquisition.Reader
	Pipeline  *dsp.Pipeline
	Machine   *cue.Machine
	Predictor classifier.Predictor
	Slot      *command.Slot
	Bands     Bands
	// MinSamples is the consuming-read threshold used in gate and beep modes.
	MinSamples int
	Interval   time.Duration

	Speaker   feedback.Speaker
	Beeper    feedback.Beeper
	Publisher telemetry.Publisher
	Store     Store
	SessionID string
	Clock     timeutil.Clock

	mu        sync.Mutex
	last      Snapshot
	ticks     int
	skipped   int
	observers []func(Snapshot)
}

// Validate checks that the fields the mode needs are set.
func (p *Processor) Validate() error {
	if p.Reader == nil || p.Pipeline == nil || p.Slot == nil {
		return errors.New("processor needs a reader, pipeline and command slot")
	}
	if p.Interval <= 0 {
		return fmt.Errorf("invalid tick interval %v", p.Interval)
	}
	switch p.Mode {
	case ModeClassify:
		if p.Machine == nil || p.Predictor == nil {
			return errors.New("classify mode needs a cue machine and a predictor")
		}
	case ModeGate, ModeBeep:
		if p.MinSamples <= 0 {
			return fmt.Errorf("invalid minimum sample count %d", p.MinSamples)
		}
	default:
		return fmt.Errorf("unknown mode %q", p.Mode)
	}
	return nil
}

func (p *Processor) clock() timeutil.Clock {
	if p.Clock == nil {
		return timeutil.RealClock{}
	}
	return p.Clock
}

// Observe registers f to receive every snapshot produced by a tick. f runs
// on the tick goroutine and must not block.
func (p *Processor) Observe(f func(Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, f)
}

// Last returns the most recent snapshot.
func (p *Processor) Last() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Counts returns the number of ticks run and how many were skipped.
func (p *Processor) Counts() (ticks, skipped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticks, p.skipped
}

// Run ticks every Interval until ctx is done. Tick failures are logged and
// the loop continues.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.Validate(); err != nil {
		return err
	}
	monitoring.Logf("[session] %s mode, tick every %v", p.Mode, p.Interval)
	ticker := p.clock().NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if err := p.Tick(ctx); err != nil {
				if errors.Is(err, acquisition.ErrInsufficientData) {
					monitoring.Debugf("[session] %v", err)
				} else {
					monitoring.Logf("[session] tick skipped: %v", err)
				}
			}
		}
	}
}

// Tick runs one acquisition step. Insufficient data, pipeline failures and
// a zero beta power all skip the rest of the tick and are returned.
func (p *Processor) Tick(ctx context.Context) error {
	var err error
	if p.Mode == ModeClassify {
		err = p.tickClassify(ctx)
	} else {
		err = p.tickRatio(ctx)
	}
	p.mu.Lock()
	p.ticks++
	if err != nil {
		p.skipped++
	}
	p.mu.Unlock()
	return err
}

func (p *Processor) tickClassify(ctx context.Context) error {
	frame, err := p.Reader.ReadCurrent()
	if err != nil {
		return err
	}
	window, err := p.Pipeline.Process(frame.Channels)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	snap := Snapshot{At: p.clock().Now(), Rate: p.Pipeline.Params().TargetRate, Window: window}
	for _, e := range p.Machine.Tick(snap.At) {
		switch e.Kind {
		case cue.EmitCue:
			p.emitCue(ctx, e.At)
		case cue.Classify:
			d, err := p.classify(ctx, window, e.At)
			if err != nil {
				monitoring.Logf("[session] classification failed: %v", err)
				continue
			}
			snap.Decision = d
		}
	}
	p.publishSnapshot(snap)
	return nil
}

func (p *Processor) emitCue(ctx context.Context, at time.Time) {
	monitoring.Logf("[session] *** %s ***", feedback.PromptCue)
	if p.Speaker != nil {
		p.Speaker.Say(feedback.PromptCue)
	}
	if p.Store != nil {
		if err := p.Store.RecordCue(p.SessionID, at); err != nil {
			monitoring.Logf("[session] record cue: %v", err)
		}
	}
	p.publish(ctx, telemetry.Event{Kind: telemetry.KindCue, At: at})
}

func (p *Processor) classify(ctx context.Context, window [][]float64, at time.Time) (*db.Decision, error) {
	monitoring.Logf("[session] C3 max: %g, min: %g", floats.Max(window[0]), floats.Min(window[0]))
	cmd, err := p.Predictor.Predict(window)
	if err != nil {
		return nil, err
	}
	phrase := feedback.ResultLeft
	if cmd == command.Right {
		phrase = feedback.ResultRight
	}
	monitoring.Logf("[session] detected: %s", cmd)
	if p.Speaker != nil {
		p.Speaker.Say(phrase)
	}
	return p.decide(ctx, "classifier", cmd, at), nil
}

// decide writes cmd to the slot and records it.
func (p *Processor) decide(ctx context.Context, source string, cmd command.Command, at time.Time) *db.Decision {
	p.Slot.Set(cmd)
	d := db.Decision{At: at, Source: source, Command: cmd.String()}
	if p.Store != nil {
		if err := p.Store.RecordDecision(p.SessionID, d); err != nil {
			monitoring.Logf("[session] record decision: %v", err)
		}
	}
	p.publish(ctx, telemetry.Event{Kind: telemetry.KindDecision, At: at, Source: source, Command: d.Command})
	return &d
}

func (p *Processor) tickRatio(ctx context.Context) error {
	frame, err := p.Reader.ReadConsume(p.MinSamples)
	if err != nil {
		return err
	}
	raw := frame.Channels[0]
	monitoring.Logf("[session] got %d samples, energy %g", len(raw), energy(raw))

	filtered, err := p.Pipeline.ProcessChannel(raw)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	rate := p.Pipeline.Params().TargetRate
	b := p.Bands
	alpha, beta, err := dsp.BandPowers(filtered, rate, b.AlphaLow, b.AlphaHigh, b.BetaLow, b.BetaHigh)
	if err != nil {
		return fmt.Errorf("band power: %w", err)
	}
	if beta == 0 {
		return dsp.ErrDivisionByZero
	}

	now := p.clock().Now()
	r := db.Ratio{At: now, Alpha: alpha, Beta: beta, Ratio: alpha / beta}
	monitoring.Logf("[session] alpha %g beta %g alpha/beta %g", alpha, beta, r.Ratio)
	if p.Store != nil {
		if err := p.Store.RecordRatio(p.SessionID, r); err != nil {
			monitoring.Logf("[session] record ratio: %v", err)
		}
	}
	p.publish(ctx, telemetry.Event{Kind: telemetry.KindRatio, At: now, Alpha: alpha, Beta: beta, Ratio: r.Ratio})

	snap := Snapshot{At: now, Rate: rate, Window: [][]float64{filtered}, Ratio: &r}
	switch p.Mode {
	case ModeGate:
		if r.Ratio > b.GateMin && r.Ratio < b.GateMax {
			snap.Decision = p.decide(ctx, "gate", command.Forward, now)
		}
	case ModeBeep:
		if r.Ratio > b.BeepThreshold && p.Beeper != nil {
			p.Beeper.Beep(BeepFrequency, BeepDuration)
		}
	}
	p.publishSnapshot(snap)
	return nil
}

func (p *Processor) publish(ctx context.Context, e telemetry.Event) {
	if p.Publisher == nil {
		return
	}
	e.SessionID = p.SessionID
	if err := p.Publisher.Publish(ctx, e); err != nil {
		monitoring.Debugf("[session] publish %s: %v", e.Kind, err)
	}
}

func (p *Processor) publishSnapshot(s Snapshot) {
	p.mu.Lock()
	if s.Ratio == nil {
		s.Ratio = p.last.Ratio
	}
	if s.Decision == nil {
		s.Decision = p.last.Decision
	}
	p.last = s
	observers := p.observers
	p.mu.Unlock()
	for _, f := range observers {
		f(s)
	}
}

// energy is the mean absolute value of the leading samples, a quick check
// that the electrodes are picking up signal.
func energy(x []float64) float64 {
	n := min(energyProbeSamples, len(x))
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range x[:n] {
		sum += math.Abs(v)
	}
	return sum / float64(n)
}
