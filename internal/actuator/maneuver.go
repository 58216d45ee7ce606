package actuator

import (
	"time"

	"github.com/banshee-data/neurobile/internal/command"
)

// Command bytes understood by the car firmware.
const (
	ByteStop    byte = 0x00
	ByteForward byte = 0x01
	ByteLeft    byte = 0x02
	ByteRight   byte = 0x04
)

// Step writes Byte and then holds for Hold before the next step.
type Step struct {
	Byte byte
	Hold time.Duration
}

// turn is the steer, pause, drive-forward sequence shared by both turns.
func turn(steer byte) []Step {
	return []Step{
		{Byte: steer, Hold: time.Second},
		{Byte: ByteStop, Hold: time.Second},
		{Byte: ByteForward, Hold: 750 * time.Millisecond},
		{Byte: ByteStop},
	}
}

// Maneuver returns the step sequence for c. Forward is a single pulse held
// for one actuator period. None and unknown commands have no steps.
func Maneuver(c command.Command, period time.Duration) []Step {
	switch c {
	case command.Left:
		return turn(ByteLeft)
	case command.Right:
		return turn(ByteRight)
	case command.Forward:
		return []Step{{Byte: ByteForward, Hold: period}, {Byte: ByteStop}}
	default:
		return nil
	}
}
