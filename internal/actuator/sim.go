package actuator

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/neurobile/internal/monitoring"
)

// SimTransport stands in for the car in dev mode and tests. It finds a car
// only when Present is set and records every byte written.
type SimTransport struct {
	Present bool
	Err     error // returned from WriteByte when set

	mu      sync.Mutex
	written []byte
	closed  bool
}

func (s *SimTransport) Discover(ctx context.Context, name string, timeout time.Duration) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.Present {
		return nil, ErrNotFound
	}
	return s, nil
}

func (s *SimTransport) WriteByte(b byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.written = append(s.written, b)
	monitoring.Debugf("[actuator] sim write 0x%02x", b)
	return nil
}

func (s *SimTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Written returns a copy of the bytes written so far.
func (s *SimTransport) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written...)
}

// Closed reports whether the connection was released.
func (s *SimTransport) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
