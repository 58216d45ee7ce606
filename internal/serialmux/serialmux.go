// Serialmux provides an abstraction over a serial port with the ability for
// multiple clients to subscribe to frames read from the port and send
// commands to a single serial device.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// SubscriberBuffer is the number of frames a subscriber may fall behind
// before frames are dropped for it.
const SubscriberBuffer = 512

var sendCommandTemplate = template.Must(template.New("send-command").Parse(`<!doctype html>
<html><head><title>serial command</title></head>
<body>
<form method="POST" action="send-command-api">
<input name="command" placeholder="command" autofocus>
<button type="submit">send</button>
</form>
<p>Live frames: <a href="tail">tail</a></p>
</body></html>
`))

// SerialMux is a generic serial port multiplexer that allows multiple clients to
// subscribe to frames from a single serial port.
type SerialMux[T SerialPorter] struct {
	port         T
	split        bufio.SplitFunc
	subscribers  map[string]chan []byte
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving frames from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan []byte)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command bytes to the serial port.
	SendCommand(string) error
	// Monitor reads frames from the serial port and sends them to the
	// subscribed channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux over port that frames input with split.
// A nil split frames on newlines.
func NewSerialMux[T SerialPorter](port T, split bufio.SplitFunc) *SerialMux[T] {
	if split == nil {
		split = bufio.ScanLines
	}
	return &SerialMux[T]{
		port:        port,
		split:       split,
		subscribers: make(map[string]chan []byte),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte, SubscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand writes command to the serial port verbatim. Binary protocols
// such as the Cyton's take single-character commands with no terminator.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads frames from the serial port and fans them out to subscribers.
// Each subscriber receives its own copy of every frame.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	scan.Split(s.split)

	frameChan := make(chan []byte)
	scanErrChan := make(chan error, 1)

	// the blocking scan.Scan runs in its own goroutine so the outer loop can
	// still observe context cancellation.
	go func() {
		defer close(frameChan)
		for scan.Scan() {
			select {
			case frameChan <- bytes.Clone(scan.Bytes()):
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case frame, ok := <-frameChan:
			if !ok {
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}
			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- frame:
				default:
					// slow subscriber; drop rather than stall the port
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

// FormatFrame renders a frame for the tail endpoint: printable text as-is,
// binary frames as hex.
func FormatFrame(frame []byte) string {
	for _, b := range frame {
		if (b < 0x20 && b != '\n' && b != '\r' && b != '\t') || b > 0x7e {
			return hex.EncodeToString(frame)
		}
	}
	return strings.TrimSpace(string(frame))
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s.SendCommand, s.Subscribe, s.Unsubscribe)
}

func attachAdminRoutes(
	mux *http.ServeMux,
	send func(string) error,
	subscribe func() (string, chan []byte),
	unsubscribe func(string),
) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "send a command to the serial port", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := send(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	// Server-Sent Events stream of frames coming from the serial port.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := subscribe()
		defer unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case frame, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", FormatFrame(frame)); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
