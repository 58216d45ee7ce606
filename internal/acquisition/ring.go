// Package acquisition buffers multi-channel samples streamed from a board and
// serves windows of them to the processing loops.
package acquisition

import (
	"fmt"
	"sync"
)

// DefaultCapacity matches the board-side buffer the Cyton stream is started
// with: 30 minutes at 250 Hz.
const DefaultCapacity = 450000

// RingBuffer holds the most recent samples of a fixed number of channels.
// When full, the oldest sample is overwritten. All channels always hold the
// same number of samples.
type RingBuffer struct {
	mu       sync.RWMutex
	data     [][]float64
	head     int // next write position
	size     int
	capacity int
	total    uint64 // samples ever pushed
}

// NewRingBuffer allocates a buffer of capacity samples per channel.
func NewRingBuffer(channels, capacity int) *RingBuffer {
	data := make([][]float64, channels)
	for i := range data {
		data[i] = make([]float64, capacity)
	}
	return &RingBuffer{data: data, capacity: capacity}
}

// Channels returns the number of channels.
func (rb *RingBuffer) Channels() int { return len(rb.data) }

// Push appends one sample per channel.
func (rb *RingBuffer) Push(sample []float64) error {
	if len(sample) != len(rb.data) {
		return fmt.Errorf("sample has %d channels, buffer has %d", len(sample), len(rb.data))
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.pushLocked(sample)
	return nil
}

// PushFrame appends frame[c][i] for every i, keeping channels aligned.
func (rb *RingBuffer) PushFrame(frame [][]float64) error {
	if len(frame) != len(rb.data) {
		return fmt.Errorf("frame has %d channels, buffer has %d", len(frame), len(rb.data))
	}
	n := len(frame[0])
	for c := range frame {
		if len(frame[c]) != n {
			return fmt.Errorf("frame channel %d has %d samples, channel 0 has %d", c, len(frame[c]), n)
		}
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()
	sample := make([]float64, len(frame))
	for i := 0; i < n; i++ {
		for c := range frame {
			sample[c] = frame[c][i]
		}
		rb.pushLocked(sample)
	}
	return nil
}

func (rb *RingBuffer) pushLocked(sample []float64) {
	for c, v := range sample {
		rb.data[c][rb.head] = v
	}
	rb.head = (rb.head + 1) % rb.capacity
	if rb.size < rb.capacity {
		rb.size++
	}
	rb.total++
}

// Len returns the number of buffered samples per channel.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Total returns the number of samples ever pushed, including overwritten and
// consumed ones.
func (rb *RingBuffer) Total() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.total
}

// Current copies the newest n samples of every channel, oldest first,
// leaving the buffer untouched. It returns false when fewer than n are held.
func (rb *RingBuffer) Current(n int) ([][]float64, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if n > rb.size || n <= 0 {
		return nil, false
	}
	return rb.copyLocked(n), true
}

// Consume removes and returns every buffered sample, oldest first, provided
// at least min are held. Otherwise nothing is removed and it returns false.
func (rb *RingBuffer) Consume(min int) ([][]float64, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.size < min || rb.size == 0 {
		return nil, false
	}
	out := rb.copyLocked(rb.size)
	rb.size = 0
	return out, true
}

func (rb *RingBuffer) copyLocked(n int) [][]float64 {
	start := (rb.head - n + rb.capacity) % rb.capacity
	out := make([][]float64, len(rb.data))
	for c, ch := range rb.data {
		dst := make([]float64, n)
		if k := copy(dst, ch[start:min(start+n, rb.capacity)]); k < n {
			copy(dst[k:], ch[:n-k])
		}
		out[c] = dst
	}
	return out
}
