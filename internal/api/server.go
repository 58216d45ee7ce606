// Package api serves the session's HTTP surface: JSON status and window
// endpoints, a live websocket stream, a PNG plot and debug charts.
package api

import (
	"bytes"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/neurobile/internal/command"
	"github.com/banshee-data/neurobile/internal/cue"
	"github.com/banshee-data/neurobile/internal/db"
	"github.com/banshee-data/neurobile/internal/httputil"
	"github.com/banshee-data/neurobile/internal/plotting"
	"github.com/banshee-data/neurobile/internal/session"
	"github.com/banshee-data/neurobile/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Processor is the part of session.Processor the API reads.
type Processor interface {
	Last() session.Snapshot
	Counts() (ticks, skipped int)
}

// Options wires the server to the running session. Machine, Actuator and DB
// may be nil for modes or runs that lack them.
type Options struct {
	SessionID    string
	Mode         session.Mode
	ChannelNames []string
	Processor    Processor
	Machine      *cue.Machine
	Slot         *command.Slot
	Actuator     func() string
	DB           *db.DB
}

type Server struct {
	opts Options
	hub  *Hub
}

func NewServer(opts Options) *Server {
	return &Server{opts: opts, hub: NewHub()}
}

// Hub returns the websocket hub so the session can push snapshots.
func (s *Server) Hub() *Hub { return s.hub }

// Publish converts a session snapshot and broadcasts it to stream clients.
func (s *Server) Publish(snap session.Snapshot) {
	m := WindowMessage{At: snap.At, Rate: snap.Rate, Channels: snap.Window}
	if snap.Ratio != nil {
		r := snap.Ratio.Ratio
		m.Ratio = &r
	}
	if snap.Decision != nil {
		m.Decision = snap.Decision.Command
	}
	s.hub.Broadcast(m)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration. The websocket
// stream bypasses it since hijacked connections have no status.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/stream" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/window", s.showWindow)
	mux.HandleFunc("/api/plot.png", s.showPlot)
	mux.Handle("/api/stream", s.hub)
	mux.HandleFunc("/debug/ratio-chart", s.showRatioChart)
	return mux
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	SessionID      string       `json:"session_id"`
	Mode           string       `json:"mode"`
	Version        string       `json:"version"`
	GitSHA         string       `json:"git_sha"`
	Phase          string       `json:"phase,omitempty"`
	LastCue        *time.Time   `json:"last_cue,omitempty"`
	LastRatio      *db.Ratio    `json:"last_ratio,omitempty"`
	LastDecision   *db.Decision `json:"last_decision,omitempty"`
	PendingCommand string       `json:"pending_command"`
	Actuator       string       `json:"actuator"`
	Ticks          int          `json:"ticks"`
	Skipped        int          `json:"skipped"`
	StreamClients  int          `json:"stream_clients"`
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{
		SessionID:      s.opts.SessionID,
		Mode:           string(s.opts.Mode),
		Version:        version.Version,
		GitSHA:         version.GitSHA,
		PendingCommand: command.None.String(),
		Actuator:       "disabled",
		StreamClients:  s.hub.Clients(),
	}
	if s.opts.Processor != nil {
		last := s.opts.Processor.Last()
		resp.LastRatio = last.Ratio
		resp.LastDecision = last.Decision
		resp.Ticks, resp.Skipped = s.opts.Processor.Counts()
	}
	if s.opts.Machine != nil {
		st := s.opts.Machine.State()
		resp.Phase = st.Phase.String()
		if !st.LastCue.IsZero() {
			resp.LastCue = &st.LastCue
		}
	}
	if s.opts.Slot != nil {
		resp.PendingCommand = s.opts.Slot.Peek().String()
	}
	if s.opts.Actuator != nil {
		resp.Actuator = s.opts.Actuator()
	}
	return resp
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.status())
}

func (s *Server) lastWindow() (session.Snapshot, bool) {
	if s.opts.Processor == nil {
		return session.Snapshot{}, false
	}
	snap := s.opts.Processor.Last()
	return snap, len(snap.Window) > 0
}

func (s *Server) showWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap, ok := s.lastWindow()
	if !ok {
		httputil.NotFound(w, "no window yet")
		return
	}
	httputil.WriteJSONOK(w, WindowMessage{At: snap.At, Rate: snap.Rate, Channels: snap.Window})
}

func (s *Server) showPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap, ok := s.lastWindow()
	if !ok {
		httputil.NotFound(w, "no window yet")
		return
	}
	var buf bytes.Buffer
	err := plotting.WritePNG(&buf, plotting.Window{
		Title:    "Filtered EEG " + snap.At.Format(time.RFC3339),
		Rate:     snap.Rate,
		Names:    s.opts.ChannelNames,
		Channels: snap.Window,
	})
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}
