package acquisition

import (
	"context"
)

// Descriptor is the fixed description of a board. The sampling rate comes
// from here, never from user configuration.
type Descriptor struct {
	Name         string
	SamplingRate int
	ChannelNames []string // one per buffer row
}

// Streamer is a board that pushes samples into a RingBuffer until its
// context is cancelled.
type Streamer interface {
	Descriptor() Descriptor
	Stream(ctx context.Context, buf *RingBuffer) error
}

// NewBufferFor allocates a ring buffer sized for d.
func NewBufferFor(d Descriptor) *RingBuffer {
	return NewRingBuffer(len(d.ChannelNames), DefaultCapacity)
}
