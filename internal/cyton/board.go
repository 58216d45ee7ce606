package cyton

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/neurobile/internal/acquisition"
	"github.com/banshee-data/neurobile/internal/monitoring"
	"github.com/banshee-data/neurobile/internal/serialmux"
	"github.com/banshee-data/neurobile/internal/timeutil"
)

var ErrHandshakeTimeout = errors.New("cyton: no $$$ after soft reset")

// Board streams Cyton packets from a serial mux into a ring buffer. The mux's
// Monitor loop must be running for frames to arrive.
type Board struct {
	Mux              serialmux.SerialMuxInterface
	Gain             float64
	HandshakeTimeout time.Duration
	Clock            timeutil.Clock

	stats Stats
}

// Stats counts stream health since Stream started.
type Stats struct {
	Packets uint64
	Dropped uint64 // inferred from sample-number gaps
	Bad     uint64
}

func NewBoard(mux serialmux.SerialMuxInterface) *Board {
	return &Board{
		Mux:              mux,
		Gain:             DefaultGain,
		HandshakeTimeout: 5 * time.Second,
		Clock:            timeutil.RealClock{},
	}
}

func (b *Board) Descriptor() acquisition.Descriptor {
	return acquisition.Descriptor{
		Name:         "cyton",
		SamplingRate: SamplingRate,
		ChannelNames: []string{"C3", "C4", "Cz", "P3", "P4", "Pz", "O1", "O2"},
	}
}

// Stats returns counters for the current stream. Call it only after Stream
// has returned or from the Stream goroutine.
func (b *Board) Stats() Stats { return b.stats }

// Stream resets the board, waits for its banner, starts streaming and pushes
// every decoded packet into buf until ctx is cancelled, when it stops the
// stream.
func (b *Board) Stream(ctx context.Context, buf *acquisition.RingBuffer) error {
	id, frames := b.Mux.Subscribe()
	defer b.Mux.Unsubscribe(id)

	if err := b.Mux.SendCommand(CmdStopStream); err != nil {
		return fmt.Errorf("stop stream: %w", err)
	}
	if err := b.Mux.SendCommand(CmdSoftReset); err != nil {
		return fmt.Errorf("soft reset: %w", err)
	}
	if err := b.awaitBanner(ctx, frames); err != nil {
		return err
	}
	if err := b.Mux.SendCommand(CmdStartStream); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	monitoring.Logf("[cyton] streaming at %d Hz", SamplingRate)

	b.stats = Stats{}
	var last uint8
	first := true
	sample := make([]float64, Channels)
	for {
		select {
		case <-ctx.Done():
			if err := b.Mux.SendCommand(CmdStopStream); err != nil {
				monitoring.Logf("[cyton] failed to stop stream: %v", err)
			}
			monitoring.Logf("[cyton] stream stopped: %d packets, %d dropped, %d malformed",
				b.stats.Packets, b.stats.Dropped, b.stats.Bad)
			return ctx.Err()

		case frame, ok := <-frames:
			if !ok {
				return errors.New("cyton: serial stream closed")
			}
			p, err := Decode(frame, b.Gain)
			if err != nil {
				b.stats.Bad++
				monitoring.Debugf("[cyton] %v", err)
				continue
			}
			if !first {
				if gap := p.Sample - last - 1; gap != 0 {
					b.stats.Dropped += uint64(gap)
					monitoring.Debugf("[cyton] sample %d after %d: %d dropped", p.Sample, last, gap)
				}
			}
			first = false
			last = p.Sample
			b.stats.Packets++

			copy(sample, p.Channels[:])
			if err := buf.Push(sample); err != nil {
				return err
			}
		}
	}
}

func (b *Board) awaitBanner(ctx context.Context, frames <-chan []byte) error {
	ticker := b.Clock.NewTicker(b.HandshakeTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			return ErrHandshakeTimeout
		case frame, ok := <-frames:
			if !ok {
				return errors.New("cyton: serial stream closed during handshake")
			}
			if bytes.HasSuffix(frame, []byte("$$$")) {
				monitoring.Logf("[cyton] board ready: %s", bytes.TrimSpace(bytes.TrimSuffix(frame, []byte("$$$"))))
				return nil
			}
		}
	}
}
