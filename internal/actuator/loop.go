package actuator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/neurobile/internal/command"
	"github.com/banshee-data/neurobile/internal/monitoring"
	"github.com/banshee-data/neurobile/internal/timeutil"
)

// ConnState is the lifecycle of the car connection. There is no reconnect:
// once Run has finished discovery the state only changes at shutdown.
type ConnState int32

const (
	Disconnected ConnState = iota
	Discovering
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Discovering:
		return "discovering"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Actuation describes one command taken from the slot.
type Actuation struct {
	At        time.Time
	Command   command.Command
	Connected bool
	Err       error
}

// Loop periodically drains the command slot into the car.
type Loop struct {
	Transport        Transport
	Slot             *command.Slot
	Name             string
	Interval         time.Duration
	DiscoveryTimeout time.Duration
	Clock            timeutil.Clock

	// OnActuation, if set, is called after every command taken from the slot.
	OnActuation func(Actuation)

	state atomic.Int32

	mu   sync.Mutex
	conn Conn
}

// NewLoop returns a loop with the default 300 ms period and 5 s discovery.
func NewLoop(t Transport, slot *command.Slot, name string) *Loop {
	return &Loop{
		Transport:        t,
		Slot:             slot,
		Name:             name,
		Interval:         300 * time.Millisecond,
		DiscoveryTimeout: 5 * time.Second,
		Clock:            timeutil.RealClock{},
	}
}

// State reports the connection state.
func (l *Loop) State() ConnState {
	return ConnState(l.state.Load())
}

// Connect runs discovery once. Failing to find the car is not an error: the
// loop stays Disconnected and every later command is a reported no-op. Only
// context cancellation is returned.
func (l *Loop) Connect(ctx context.Context) error {
	l.state.Store(int32(Discovering))
	monitoring.Logf("[actuator] discovering %q (timeout %v)", l.Name, l.DiscoveryTimeout)

	conn, err := l.Transport.Discover(ctx, l.Name, l.DiscoveryTimeout)
	if err != nil {
		l.state.Store(int32(Disconnected))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		monitoring.Logf("[actuator] %q unavailable, running without a car: %v", l.Name, err)
		return nil
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	l.state.Store(int32(Connected))
	monitoring.Logf("[actuator] connected to %q", l.Name)
	return nil
}

func (l *Loop) connection() Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// Cycle runs one actuator period. A pending command is taken before its
// maneuver starts, so a command written during the maneuver is kept for the
// next cycle. With no command the idle byte is written. Steps are not
// interrupted; ctx is checked between them.
func (l *Loop) Cycle(ctx context.Context) error {
	cmd := l.Slot.Take()
	conn := l.connection()

	if cmd == command.None {
		if conn == nil {
			return nil
		}
		monitoring.Debugf("[actuator] idle")
		return conn.WriteByte(ByteStop)
	}

	act := Actuation{At: l.Clock.Now(), Command: cmd, Connected: conn != nil}
	if conn == nil {
		act.Err = ErrNotConnected
		monitoring.Logf("[actuator] dropping %s: %v", cmd, ErrNotConnected)
	} else {
		monitoring.Logf("[actuator] executing %s", cmd)
		act.Err = l.execute(ctx, conn, Maneuver(cmd, l.Interval))
	}
	if l.OnActuation != nil {
		l.OnActuation(act)
	}
	return act.Err
}

func (l *Loop) execute(ctx context.Context, conn Conn, steps []Step) error {
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.WriteByte(s.Byte); err != nil {
			return fmt.Errorf("step %d write 0x%02x: %w", i, s.Byte, err)
		}
		if s.Hold > 0 {
			l.Clock.Sleep(s.Hold)
		}
	}
	return nil
}

// Run discovers the car, then cycles every Interval until ctx is done. On
// exit the car is stopped and the connection released.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Connect(ctx); err != nil {
		return nil
	}
	defer l.Close()

	ticker := l.Clock.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			err := l.Cycle(ctx)
			switch {
			case err == nil, errors.Is(err, ErrNotConnected):
			case ctx.Err() != nil:
				return nil
			default:
				monitoring.Logf("[actuator] cycle error: %v", err)
			}
		}
	}
}

// Close stops the car and drops the connection. It is safe to call when
// disconnected.
func (l *Loop) Close() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	l.state.Store(int32(Disconnected))
	if conn == nil {
		return
	}
	if err := conn.WriteByte(ByteStop); err != nil {
		monitoring.Logf("[actuator] stop on shutdown failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		monitoring.Logf("[actuator] disconnect failed: %v", err)
	}
	monitoring.Logf("[actuator] released %q", l.Name)
}
