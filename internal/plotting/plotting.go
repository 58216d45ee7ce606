// Package plotting renders filtered EEG windows as PNG images, both on
// demand for the HTTP API and periodically to disk.
package plotting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/neurobile/internal/monitoring"
	"github.com/banshee-data/neurobile/internal/timeutil"
)

// ErrNoWindow is returned when there is nothing to plot yet.
var ErrNoWindow = errors.New("no window to plot")

const (
	width  = 10 * vg.Inch
	height = 6 * vg.Inch
)

// Window describes one filtered window to draw.
type Window struct {
	Title    string
	Rate     float64
	Names    []string
	Channels [][]float64
}

func (w Window) plot() (*plot.Plot, error) {
	if len(w.Channels) == 0 || len(w.Channels[0]) == 0 {
		return nil, ErrNoWindow
	}
	if w.Rate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %g", w.Rate)
	}
	p := plot.New()
	p.Title.Text = w.Title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Amplitude (µV)"

	for i, ch := range w.Channels {
		pts := make(plotter.XYs, len(ch))
		for j, v := range ch {
			pts[j].X = float64(j) / w.Rate
			pts[j].Y = v * 1e6
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		name := fmt.Sprintf("ch%d", i)
		if i < len(w.Names) {
			name = w.Names[i]
		}
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true
	p.Add(plotter.NewGrid())
	return p, nil
}

// WritePNG renders w as a PNG to out.
func WritePNG(out io.Writer, w Window) error {
	p, err := w.plot()
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(out)
	return err
}

// Snapshotter keeps the latest window and writes it to Dir/window.png on
// every Interval.
type Snapshotter struct {
	Dir      string
	Interval time.Duration
	Clock    timeutil.Clock

	mu     sync.Mutex
	latest Window
	dirty  bool
	saved  int
}

// Update replaces the window to be written next. It never blocks on I/O.
func (s *Snapshotter) Update(w Window) {
	s.mu.Lock()
	s.latest = w
	s.dirty = true
	s.mu.Unlock()
}

// Path is the file the snapshotter writes.
func (s *Snapshotter) Path() string { return filepath.Join(s.Dir, "window.png") }

// Flush writes the latest window if it changed since the last write.
func (s *Snapshotter) Flush() error {
	s.mu.Lock()
	w, dirty := s.latest, s.dirty
	s.dirty = false
	s.mu.Unlock()
	if !dirty {
		return nil
	}

	tmp, err := os.CreateTemp(s.Dir, "window-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := WritePNG(tmp, w); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.Path()); err != nil {
		return err
	}
	s.mu.Lock()
	s.saved++
	s.mu.Unlock()
	return nil
}

// Saved returns the number of images written.
func (s *Snapshotter) Saved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// Run flushes every Interval until ctx is done.
func (s *Snapshotter) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(s.Interval)
	defer ticker.Stop()
	monitoring.Logf("[plot] writing %s every %v", s.Path(), s.Interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if err := s.Flush(); err != nil {
				monitoring.Logf("[plot] %v", err)
			}
		}
	}
}
