// Package cue implements the timed cue/capture cycle of a motor-imagery
// session: wait for the cue interval, prompt the user, capture a fixed window,
// then classify it.
package cue

import (
	"sync"
	"time"
)

// Phase is the state of the cue/capture cycle.
type Phase int

const (
	WaitingForCue Phase = iota
	Capturing
)

func (p Phase) String() string {
	switch p {
	case WaitingForCue:
		return "waiting_for_cue"
	case Capturing:
		return "capturing"
	default:
		return "unknown"
	}
}

// State is the complete machine state. The zero LastCue means no cue has
// been given, so the first tick cues immediately.
type State struct {
	Phase           Phase
	LastCue         time.Time
	CueInterval     time.Duration
	CaptureDuration time.Duration
}

// NewState returns a machine waiting for its first cue.
func NewState(cueInterval, captureDuration time.Duration) State {
	return State{Phase: WaitingForCue, CueInterval: cueInterval, CaptureDuration: captureDuration}
}

// EffectKind identifies a side effect requested by a transition.
type EffectKind int

const (
	// EmitCue asks the user to imagine a movement.
	EmitCue EffectKind = iota
	// Classify asks for the latest window to be classified and acted on.
	Classify
)

func (k EffectKind) String() string {
	if k == EmitCue {
		return "cue"
	}
	return "classify"
}

// Effect is a side effect to perform at At.
type Effect struct {
	Kind EffectKind
	At   time.Time
}

func elapsed(now, since time.Time) time.Duration {
	if since.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(since)
}

// Step evaluates the machine at now and returns the next state and the
// effects of any transitions taken. A cue fires once elapsed time since the
// last cue reaches CueInterval; capture ends on the first tick where it
// exceeds CaptureDuration. Every other tick returns s unchanged and no
// effects.
func Step(s State, now time.Time) (State, []Effect) {
	var effects []Effect

	if s.Phase == WaitingForCue && elapsed(now, s.LastCue) >= s.CueInterval {
		s.LastCue = now
		s.Phase = Capturing
		effects = append(effects, Effect{Kind: EmitCue, At: now})
	}

	if s.Phase == Capturing && elapsed(now, s.LastCue) > s.CaptureDuration {
		s.Phase = WaitingForCue
		effects = append(effects, Effect{Kind: Classify, At: now})
	}

	return s, effects
}

// Machine holds a State for a single session and applies Step under a lock,
// so status readers on other goroutines see a consistent snapshot.
type Machine struct {
	mu    sync.Mutex
	state State
}

func NewMachine(cueInterval, captureDuration time.Duration) *Machine {
	return &Machine{state: NewState(cueInterval, captureDuration)}
}

// Tick advances the machine to now and returns the effects to perform.
func (m *Machine) Tick(now time.Time) []Effect {
	m.mu.Lock()
	defer m.mu.Unlock()
	var effects []Effect
	m.state, effects = Step(m.state, now)
	return effects
}

// State returns a snapshot of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
