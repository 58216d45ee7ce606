// Package telemetry publishes session events (cues, decisions, ratios and
// actuations) to external brokers for live dashboards and offline replay.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/neurobile/internal/monitoring"
)

// Event kinds.
const (
	KindCue       = "cue"
	KindDecision  = "decision"
	KindRatio     = "ratio"
	KindActuation = "actuation"
)

// Event is one published record. Fields irrelevant to Kind are omitted.
type Event struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	At        time.Time `json:"at"`
	Source    string    `json:"source,omitempty"`
	Command   string    `json:"command,omitempty"`
	Alpha     float64   `json:"alpha,omitempty"`
	Beta      float64   `json:"beta,omitempty"`
	Ratio     float64   `json:"ratio,omitempty"`
	Connected *bool     `json:"connected,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func (e Event) marshal() ([]byte, error) { return json.Marshal(e) }

// Publisher delivers events to one destination.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// ErrQueueFull is returned by Async.Publish when an event had to be dropped.
var ErrQueueFull = errors.New("telemetry queue full")

// ErrClosed is returned by Async.Publish after Close.
var ErrClosed = errors.New("telemetry publisher closed")

// DefaultQueueSize is the Async buffer used by NewAsync when size <= 0.
const DefaultQueueSize = 256

// Async decouples callers on the real-time path from broker latency. Publish
// enqueues and returns at once; a single worker delivers in order.
type Async struct {
	next  Publisher
	queue chan Event

	// state guards closed and the queue send against Close.
	state   sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped int
	mu      sync.Mutex
}

// NewAsync starts a worker delivering to next.
func NewAsync(next Publisher, size int) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	a := &Async{next: next, queue: make(chan Event, size), done: make(chan struct{})}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.next.Publish(ctx, e); err != nil {
			monitoring.Logf("[telemetry] publish %s failed: %v", e.Kind, err)
		}
		cancel()
	}
}

func (a *Async) Publish(_ context.Context, e Event) error {
	a.state.RLock()
	defer a.state.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- e:
		return nil
	default:
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
		return ErrQueueFull
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (a *Async) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Close drains the queue and closes the wrapped publisher. Later Publish
// calls return ErrClosed.
func (a *Async) Close() error {
	a.state.Lock()
	if a.closed {
		a.state.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.state.Unlock()

	<-a.done
	return a.next.Close()
}
