package acquisition

import (
	"errors"
	"fmt"
)

// ErrInsufficientData means the buffer does not yet hold a full window. It is
// an expected state during start-up or after a consuming read; callers skip
// the tick and try again.
var ErrInsufficientData = errors.New("insufficient data")

// InsufficientDataError reports how far short of a window the buffer is.
type InsufficientDataError struct {
	Have, Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: have %d samples, need %d", e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// Source is the sample store a Reader pulls from.
type Source interface {
	Len() int
	Current(n int) ([][]float64, bool)
	Consume(min int) ([][]float64, bool)
}

// Frame is one pull of the selected channels.
type Frame struct {
	Rate     int
	Channels [][]float64
}

// Len returns the number of samples per channel.
func (f Frame) Len() int {
	if len(f.Channels) == 0 {
		return 0
	}
	return len(f.Channels[0])
}

// Reader cuts windows out of a Source. A peek read takes the newest
// Points+2*Trim samples and drops Trim from each end, so overlapping windows
// are served on every tick. A consuming read drains the buffer so each sample
// is processed once.
type Reader struct {
	src      Source
	rate     int
	points   int
	trim     int
	channels []int
}

// NewReader returns a Reader over src sampled at rate Hz, selecting the given
// source rows in order.
func NewReader(src Source, rate, points, trim int, channels []int) (*Reader, error) {
	if points <= 0 || trim < 0 || rate <= 0 {
		return nil, fmt.Errorf("invalid reader window: rate=%d points=%d trim=%d", rate, points, trim)
	}
	if len(channels) == 0 {
		return nil, errors.New("reader needs at least one channel")
	}
	return &Reader{src: src, rate: rate, points: points, trim: trim, channels: channels}, nil
}

// Points returns the number of samples per channel a peek read yields.
func (r *Reader) Points() int { return r.points }

// Need returns the number of raw samples a peek read requires.
func (r *Reader) Need() int { return r.points + 2*r.trim }

// ReadCurrent returns the newest window without consuming it.
func (r *Reader) ReadCurrent() (Frame, error) {
	need := r.Need()
	raw, ok := r.src.Current(need)
	if !ok {
		return Frame{}, &InsufficientDataError{Have: r.src.Len(), Need: need}
	}
	return r.selectRows(raw, r.trim, r.trim+r.points)
}

// ReadConsume drains the source when it holds at least min samples and
// returns everything it held. Below min nothing is consumed.
func (r *Reader) ReadConsume(min int) (Frame, error) {
	raw, ok := r.src.Consume(min)
	if !ok {
		return Frame{}, &InsufficientDataError{Have: r.src.Len(), Need: min}
	}
	return r.selectRows(raw, 0, len(raw[0]))
}

func (r *Reader) selectRows(raw [][]float64, from, to int) (Frame, error) {
	f := Frame{Rate: r.rate, Channels: make([][]float64, len(r.channels))}
	for i, row := range r.channels {
		if row < 0 || row >= len(raw) {
			return Frame{}, fmt.Errorf("channel row %d out of range (source has %d)", row, len(raw))
		}
		f.Channels[i] = raw[row][from:to]
	}
	return f, nil
}
