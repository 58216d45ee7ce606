// Package actuator drives the RC car: it discovers the car over BLE once,
// then on its own period executes whatever command the decision side left
// in the command slot, or keeps the car idle.
package actuator

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Discover when no device with the wanted name
	// answers before the timeout.
	ErrNotFound = errors.New("device not found")
	// ErrNotConnected is reported for every command dropped because the car
	// was never connected.
	ErrNotConnected = errors.New("not connected")
)

// Conn writes single command bytes to a connected car.
type Conn interface {
	WriteByte(b byte) error
	Close() error
}

// Transport finds and connects to a car by advertised name.
type Transport interface {
	Discover(ctx context.Context, name string, timeout time.Duration) (Conn, error)
}
