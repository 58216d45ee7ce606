package serialmux

import (
	"context"
	"net/http"
	"sync"
)

// DisabledSerialMux is a SerialMux stand-in used when no amplifier is attached
// (--dev). It tracks subscribers so their channels are closed on Unsubscribe
// or Close, and it can republish frames produced by a synthetic source so the
// admin tail still shows traffic.
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan []byte
	commands    []string
	closing     bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{
		subscribers: make(map[string]chan []byte),
	}
}

func (d *DisabledSerialMux) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte, SubscriberBuffer)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		// already closing: hand back a closed channel so callers don't block
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

// SendCommand records the command and reports success.
func (d *DisabledSerialMux) SendCommand(command string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, command)
	return nil
}

// Commands returns every command sent so far.
func (d *DisabledSerialMux) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// Publish fans a frame out to subscribers, dropping it for any that are full.
func (d *DisabledSerialMux) Publish(frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return
	}
	for _, ch := range d.subscribers {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, d.SendCommand, d.Subscribe, d.Unsubscribe)
}
