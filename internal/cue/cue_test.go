package cue

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func count(effects []Effect, kind EffectKind) int {
	n := 0
	for _, e := range effects {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestStepFirstTickCues(t *testing.T) {
	s := NewState(10*time.Second, 3*time.Second)

	next, effects := Step(s, t0)
	assert.Equal(t, Capturing, next.Phase)
	assert.True(t, next.LastCue.Equal(t0))
	if diff := cmp.Diff([]Effect{{Kind: EmitCue, At: t0}}, effects); diff != "" {
		t.Errorf("effects mismatch (-want +got):\n%s", diff)
	}
}

func TestStepCueFiresOncePerInterval(t *testing.T) {
	s := State{Phase: WaitingForCue, LastCue: t0, CueInterval: 10 * time.Second, CaptureDuration: 3 * time.Second}

	var all []Effect
	// 100 ms ticks up to just before the interval: nothing happens
	for now := t0.Add(100 * time.Millisecond); now.Before(t0.Add(10 * time.Second)); now = now.Add(100 * time.Millisecond) {
		var effects []Effect
		s, effects = Step(s, now)
		all = append(all, effects...)
	}
	assert.Empty(t, all)
	assert.Equal(t, WaitingForCue, s.Phase)

	// exactly at the interval the cue fires
	cueAt := t0.Add(10 * time.Second)
	s, effects := Step(s, cueAt)
	assert.Equal(t, 1, count(effects, EmitCue))
	assert.Equal(t, Capturing, s.Phase)

	// repeated ticks in the same interval do not cue again
	for i := 1; i <= 30; i++ {
		s, effects = Step(s, cueAt.Add(time.Duration(i)*100*time.Millisecond))
		all = append(all, effects...)
	}
	assert.Equal(t, 0, count(all, EmitCue))
}

func TestStepCaptureClassifiesOnce(t *testing.T) {
	s := State{Phase: Capturing, LastCue: t0, CueInterval: 10 * time.Second, CaptureDuration: 3 * time.Second}

	// at exactly the capture duration elapsed is not yet greater
	for _, d := range []time.Duration{0, time.Second, 2900 * time.Millisecond, 3 * time.Second} {
		var effects []Effect
		s, effects = Step(s, t0.Add(d))
		assert.Empty(t, effects, "tick at %v", d)
		assert.Equal(t, Capturing, s.Phase)
	}

	s, effects := Step(s, t0.Add(3100*time.Millisecond))
	assert.Equal(t, 1, count(effects, Classify))
	assert.Equal(t, 0, count(effects, EmitCue))
	assert.Equal(t, WaitingForCue, s.Phase)
	assert.True(t, s.LastCue.Equal(t0), "classification does not move the cue clock")

	// back to waiting: next cue is due 10 s after the previous cue
	s, effects = Step(s, t0.Add(5*time.Second))
	assert.Empty(t, effects)
	s, effects = Step(s, t0.Add(10*time.Second))
	assert.Equal(t, 1, count(effects, EmitCue))
}

func TestStepLateTickCuesAndWaits(t *testing.T) {
	// a long stall: the cue fires, classification still waits a full capture
	s := State{Phase: WaitingForCue, LastCue: t0, CueInterval: 10 * time.Second, CaptureDuration: 3 * time.Second}
	s, effects := Step(s, t0.Add(time.Minute))
	assert.Equal(t, []EffectKind{EmitCue}, kinds(effects))
	assert.Equal(t, Capturing, s.Phase)
}

func kinds(effects []Effect) []EffectKind {
	var out []EffectKind
	for _, e := range effects {
		out = append(out, e.Kind)
	}
	return out
}

func TestMachineCycle(t *testing.T) {
	m := NewMachine(10*time.Second, 3*time.Second)

	var cues, classifies int
	for now := t0; now.Before(t0.Add(35 * time.Second)); now = now.Add(100 * time.Millisecond) {
		for _, e := range m.Tick(now) {
			switch e.Kind {
			case EmitCue:
				cues++
			case Classify:
				classifies++
			}
		}
	}
	// cues at 0, 10, 20, 30 s; classifications at ~3.1, 13.1, 23.1, 33.1 s
	assert.Equal(t, 4, cues)
	assert.Equal(t, 4, classifies)
	assert.Equal(t, Capturing.String(), "capturing")
	assert.Equal(t, WaitingForCue, m.State().Phase)
}
