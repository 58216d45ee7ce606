// Package command holds the single pending movement command shared between
// the decision side and the actuator loop.
package command

import (
	"fmt"
	"sync/atomic"
)

// Command is a discrete movement decision.
type Command int32

const (
	None Command = iota
	Left
	Right
	// Forward is written by the alpha/beta gate rather than the classifier.
	Forward
)

func (c Command) String() string {
	switch c {
	case None:
		return "none"
	case Left:
		return "left"
	case Right:
		return "right"
	case Forward:
		return "forward"
	default:
		return fmt.Sprintf("command(%d)", int32(c))
	}
}

// Slot is a last-write-wins mailbox of depth one. It is not a queue: a Set
// that lands before the previous value was taken replaces it. The zero value
// is an empty slot.
type Slot struct {
	v atomic.Int32
}

// Set stores c, overwriting any unconsumed command.
func (s *Slot) Set(c Command) {
	s.v.Store(int32(c))
}

// Take returns the pending command and leaves the slot empty in one atomic
// step, so a command is executed at most once and a Set racing with Take is
// either returned now or kept for the next Take.
func (s *Slot) Take() Command {
	return Command(s.v.Swap(int32(None)))
}

// Peek returns the pending command without consuming it.
func (s *Slot) Peek() Command {
	return Command(s.v.Load())
}
