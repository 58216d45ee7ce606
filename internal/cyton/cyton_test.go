package cyton

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/neurobile/internal/acquisition"
	"github.com/banshee-data/neurobile/internal/serialmux"
	"github.com/banshee-data/neurobile/internal/timeutil"
)

func TestDecode(t *testing.T) {
	counts := [Channels]int32{0, 1, -1, 1<<23 - 1, -(1 << 23), 1000, -1000, 42}
	raw := Encode(7, counts)
	raw[26], raw[27] = 0xFF, 0xFE // aux[0] = -2

	p, err := Decode(raw, DefaultGain)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), p.Sample)
	assert.Equal(t, int16(-2), p.Aux[0])

	scale := ScaleFactor(DefaultGain)
	for ch, c := range counts {
		assert.InDelta(t, float64(c)*scale, p.Channels[ch], 1e-15, "channel %d", ch)
	}
	// full scale is vref/gain
	assert.InDelta(t, 4.5/24, p.Channels[3], 1e-12)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	good := Encode(0, [Channels]int32{})
	tests := map[string][]byte{
		"short":      good[:32],
		"bad header": append([]byte{0xA1}, good[1:]...),
		"bad footer": append(slices.Clone(good[:32]), 0xB0),
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(raw, DefaultGain)
			assert.ErrorIs(t, err, ErrBadPacket)
		})
	}
}

func commandsContain(mux *serialmux.DisabledSerialMux, cmd string) func() bool {
	return func() bool { return slices.Contains(mux.Commands(), cmd) }
}

func TestBoardStream(t *testing.T) {
	mux := serialmux.NewDisabledSerialMux()
	board := NewBoard(mux)
	buf := acquisition.NewBufferFor(board.Descriptor())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- board.Stream(ctx, buf) }()

	require.Eventually(t, commandsContain(mux, CmdSoftReset), time.Second, time.Millisecond)
	mux.Publish([]byte("OpenBCI V3 8-16 channel\nOn Board ADS1299 Device ID: 0x3E\n$$$"))
	require.Eventually(t, commandsContain(mux, CmdStartStream), time.Second, time.Millisecond)

	for _, seq := range []uint8{254, 255, 0} {
		mux.Publish(Encode(seq, [Channels]int32{int32(seq)}))
	}
	mux.Publish([]byte{PacketHeader, 1, 2})
	mux.Publish(Encode(2, [Channels]int32{2}))
	require.Eventually(t, func() bool { return buf.Len() == 4 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []string{CmdStopStream, CmdSoftReset, CmdStartStream, CmdStopStream}, mux.Commands())

	stats := board.Stats()
	assert.Equal(t, uint64(4), stats.Packets)
	assert.Equal(t, uint64(1), stats.Dropped, "sample 1 is missing across the wrap")
	assert.Equal(t, uint64(1), stats.Bad)

	got, ok := buf.Current(4)
	require.True(t, ok)
	assert.InDelta(t, 2*ScaleFactor(DefaultGain), got[0][3], 1e-15)
}

func TestBoardHandshakeTimeout(t *testing.T) {
	mux := serialmux.NewDisabledSerialMux()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	board := NewBoard(mux)
	board.Clock = clock
	buf := acquisition.NewBufferFor(board.Descriptor())

	done := make(chan error, 1)
	go func() { done <- board.Stream(context.Background(), buf) }()

	require.Eventually(t, commandsContain(mux, CmdSoftReset), time.Second, time.Millisecond)
	mux.Publish([]byte("no banner here\n"))

	var err error
	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		select {
		case err = <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.NotContains(t, mux.Commands(), CmdStartStream)
}
