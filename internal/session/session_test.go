package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/neurobile/internal/acquisition"
	"github.com/banshee-data/neurobile/internal/command"
	"github.com/banshee-data/neurobile/internal/config"
	"github.com/banshee-data/neurobile/internal/db"
	"github.com/banshee-data/neurobile/internal/dsp"
	"github.com/banshee-data/neurobile/internal/feedback"
	"github.com/banshee-data/neurobile/internal/timeutil"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fixedPredictor struct {
	cmd   command.Command
	calls int
	shape [2]int
}

func (f *fixedPredictor) Predict(window [][]float64) (command.Command, error) {
	f.calls++
	f.shape = [2]int{len(window), len(window[0])}
	return f.cmd, nil
}

type memStore struct {
	mu        sync.Mutex
	cues      []time.Time
	decisions []db.Decision
	ratios    []db.Ratio
}

func (m *memStore) RecordCue(_ string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cues = append(m.cues, at)
	return nil
}

func (m *memStore) RecordDecision(_ string, d db.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
	return nil
}

func (m *memStore) RecordRatio(_ string, r db.Ratio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratios = append(m.ratios, r)
	return nil
}

// filledBuffer returns a ring buffer holding seconds of synthetic signal.
func filledBuffer(t *testing.T, board *acquisition.SyntheticBoard, seconds float64) *acquisition.RingBuffer {
	t.Helper()
	buf := acquisition.NewBufferFor(board.Descriptor())
	require.NoError(t, buf.PushFrame(board.Generate(int(seconds*float64(board.Rate)))))
	return buf
}

func TestSyntheticWindowEndToEnd(t *testing.T) {
	board := acquisition.NewSyntheticBoard(1)
	buf := filledBuffer(t, board, 4)

	reader, err := acquisition.NewReader(buf, board.Rate, 750, 50, ClassifyChannels)
	require.NoError(t, err)
	frame, err := reader.ReadCurrent()
	require.NoError(t, err)
	require.Equal(t, 750, frame.Len())

	params, err := ClassifyParams(config.Defaults())
	require.NoError(t, err)
	pl, err := dsp.NewPipeline(params, float64(board.Rate))
	require.NoError(t, err)
	window, err := pl.Process(frame.Channels)
	require.NoError(t, err)

	require.Len(t, window, 3)
	for _, ch := range window {
		assert.Len(t, ch, 384)
	}
	ratio, err := dsp.BandPowerRatio(window[0], 128, 7, 13, 14, 30)
	require.NoError(t, err)
	assert.Greater(t, ratio, 5.0)
}

func newClassifyProcessor(t *testing.T, buf *acquisition.RingBuffer, desc acquisition.Descriptor, pred *fixedPredictor) (*Processor, *memStore, *feedback.Log, *timeutil.MockClock) {
	t.Helper()
	store := &memStore{}
	speaker := &feedback.Log{}
	clock := timeutil.NewMockClock(t0)
	p, err := New(ModeClassify, config.Defaults(), desc, buf, Deps{
		Predictor: pred,
		Speaker:   speaker,
		Store:     store,
		SessionID: "test",
		Clock:     clock,
	})
	require.NoError(t, err)
	return p, store, speaker, clock
}

func TestClassifyCycle(t *testing.T) {
	board := acquisition.NewSyntheticBoard(2)
	buf := filledBuffer(t, board, 4)
	pred := &fixedPredictor{cmd: command.Right}
	p, store, speaker, clock := newClassifyProcessor(t, buf, board.Descriptor(), pred)

	var snaps []Snapshot
	p.Observe(func(s Snapshot) { snaps = append(snaps, s) })

	ctx := context.Background()
	require.NoError(t, p.Tick(ctx))
	assert.Equal(t, []string{feedback.PromptCue}, speaker.Spoken())
	assert.Len(t, store.cues, 1)
	assert.Equal(t, 0, pred.calls)

	// intermediate ticks during capture do nothing
	for i := 0; i < 30; i++ {
		clock.Advance(100 * time.Millisecond)
		require.NoError(t, p.Tick(ctx))
	}
	assert.Equal(t, 0, pred.calls)
	assert.Equal(t, command.None, p.Slot.Peek())

	clock.Advance(100 * time.Millisecond)
	require.NoError(t, p.Tick(ctx))
	assert.Equal(t, 1, pred.calls)
	assert.Equal(t, [2]int{3, 384}, pred.shape)
	assert.Equal(t, command.Right, p.Slot.Peek())
	assert.Equal(t, []string{feedback.PromptCue, feedback.ResultRight}, speaker.Spoken())
	require.Len(t, store.decisions, 1)
	assert.Equal(t, db.Decision{At: clock.Now(), Source: "classifier", Command: "right"}, store.decisions[0])

	// no second classification until the next cue
	clock.Advance(time.Second)
	require.NoError(t, p.Tick(ctx))
	assert.Equal(t, 1, pred.calls)

	require.Len(t, snaps, 33)
	last := p.Last()
	require.NotNil(t, last.Decision)
	assert.Equal(t, "right", last.Decision.Command)
	assert.Equal(t, 128.0, last.Rate)
}

func TestClassifyInsufficientData(t *testing.T) {
	board := acquisition.NewSyntheticBoard(3)
	buf := filledBuffer(t, board, 2)
	p, store, speaker, _ := newClassifyProcessor(t, buf, board.Descriptor(), &fixedPredictor{cmd: command.Left})

	err := p.Tick(context.Background())
	assert.ErrorIs(t, err, acquisition.ErrInsufficientData)
	assert.Empty(t, speaker.Spoken(), "no cue without a window")
	assert.Empty(t, store.cues)
	ticks, skipped := p.Counts()
	assert.Equal(t, 1, ticks)
	assert.Equal(t, 1, skipped)
}

func ratioBoard(alpha, beta float64) *acquisition.SyntheticBoard {
	b := acquisition.NewSyntheticBoard(4)
	for i := range b.Channels {
		b.Channels[i] = []acquisition.Tone{{Freq: 10, Amp: alpha}, {Freq: 22, Amp: beta}}
	}
	b.Noise = 0.5e-6
	return b
}

func TestRatioModes(t *testing.T) {
	tests := []struct {
		name        string
		mode        Mode
		alpha, beta float64
		wantCmd     command.Command
		wantBeeps   int
	}{
		{"gate inside band drives forward", ModeGate, 12e-6, 4e-6, command.Forward, 0},
		{"gate above band stays idle", ModeGate, 20e-6, 2e-6, command.None, 0},
		{"gate below band stays idle", ModeGate, 4e-6, 8e-6, command.None, 0},
		{"beep above threshold", ModeBeep, 20e-6, 2e-6, command.None, 1},
		{"no beep below threshold", ModeBeep, 4e-6, 8e-6, command.None, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			board := ratioBoard(tt.alpha, tt.beta)
			buf := filledBuffer(t, board, 4)
			store := &memStore{}
			beeper := &feedback.Log{}
			p, err := New(tt.mode, config.Defaults(), board.Descriptor(), buf, Deps{
				Beeper: beeper,
				Store:  store,
				Clock:  timeutil.NewMockClock(t0),
			})
			require.NoError(t, err)
			assert.Equal(t, 256, p.MinSamples)

			require.NoError(t, p.Tick(context.Background()))
			assert.Equal(t, 0, buf.Len(), "poll read consumes the buffer")
			require.Len(t, store.ratios, 1)
			assert.Greater(t, store.ratios[0].Ratio, 0.0)
			assert.Equal(t, tt.wantCmd, p.Slot.Peek(), "ratio %g", store.ratios[0].Ratio)
			assert.Equal(t, tt.wantBeeps, beeper.Beeps(), "ratio %g", store.ratios[0].Ratio)

			// the drained buffer skips the next poll
			assert.ErrorIs(t, p.Tick(context.Background()), acquisition.ErrInsufficientData)
		})
	}
}

func TestRatioModeKeepsShortBuffer(t *testing.T) {
	board := ratioBoard(12e-6, 4e-6)
	buf := acquisition.NewBufferFor(board.Descriptor())
	require.NoError(t, buf.PushFrame(board.Generate(200)))
	p, err := New(ModeGate, config.Defaults(), board.Descriptor(), buf, Deps{Clock: timeutil.NewMockClock(t0)})
	require.NoError(t, err)

	assert.ErrorIs(t, p.Tick(context.Background()), acquisition.ErrInsufficientData)
	assert.Equal(t, 200, buf.Len())
}

func TestRatioModeZeroBeta(t *testing.T) {
	board := ratioBoard(0, 0)
	board.Noise = 0
	buf := filledBuffer(t, board, 2)
	p, err := New(ModeGate, config.Defaults(), board.Descriptor(), buf, Deps{Clock: timeutil.NewMockClock(t0)})
	require.NoError(t, err)

	// a flat channel cannot be normalised, so the tick is skipped before
	// any decision
	assert.Error(t, p.Tick(context.Background()))
	assert.Equal(t, command.None, p.Slot.Peek())
}

func TestNewValidation(t *testing.T) {
	board := acquisition.NewSyntheticBoard(5)
	buf := acquisition.NewBufferFor(board.Descriptor())

	_, err := New(ModeClassify, config.Defaults(), board.Descriptor(), buf, Deps{})
	assert.Error(t, err, "classify needs a predictor")

	_, err = New("dance", config.Defaults(), board.Descriptor(), buf, Deps{})
	assert.Error(t, err)

	narrow := acquisition.Descriptor{Name: "one", SamplingRate: 250, ChannelNames: []string{"C3"}}
	_, err = New(ModeClassify, config.Defaults(), narrow, buf, Deps{Predictor: &fixedPredictor{}})
	assert.Error(t, err)

	_, err = New(ModeGate, config.Defaults(), narrow, buf, Deps{})
	assert.NoError(t, err)

	slow := acquisition.Descriptor{Name: "slow", SamplingRate: 64, ChannelNames: []string{"C3", "C4", "Cz"}}
	_, err = New(ModeClassify, config.Defaults(), slow, buf, Deps{Predictor: &fixedPredictor{}})
	assert.ErrorIs(t, err, dsp.ErrInvalidParams, "50 Hz band edge above Nyquist")
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("alpha")
	require.NoError(t, err)
	assert.Equal(t, ModeGate, m)
	_, err = ParseMode("")
	assert.Error(t, err)
}
