// Package feedback gives the user audible prompts and results. Every call
// returns immediately; the sound is produced on another goroutine.
package feedback

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/neurobile/internal/monitoring"
)

// Phrases spoken during a classification session.
const (
	PromptCue   = "Think left or right"
	ResultLeft  = "You thought left"
	ResultRight = "You thought right"
)

// Speaker speaks text without blocking the caller.
type Speaker interface {
	Say(text string)
}

// Beeper plays a tone without blocking the caller.
type Beeper interface {
	Beep(freq float64, d time.Duration)
}

// commandTimeout bounds how long one external audio command may run.
const commandTimeout = 10 * time.Second

// runner starts external commands one at a time in the background. A new
// request waits for the previous one so utterances do not overlap.
type runner struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func (r *runner) start(name string, args ...string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		mk := r.command
		if mk == nil {
			mk = exec.CommandContext
		}
		if out, err := mk(ctx, name, args...).CombinedOutput(); err != nil {
			monitoring.Logf("[feedback] %s failed: %v: %s", name, err, out)
		}
	}()
}

// Wait blocks until every started command has finished.
func (r *runner) Wait() { r.wg.Wait() }

// CommandSpeaker speaks through an external text-to-speech program that takes
// the text as its final argument.
type CommandSpeaker struct {
	runner
	Program string
	Args    []string
}

func (s *CommandSpeaker) Say(text string) {
	monitoring.Logf("[feedback] say %q", text)
	s.start(s.Program, append(append([]string(nil), s.Args...), text)...)
}

// SoxBeeper plays tones with the sox "play" program.
type SoxBeeper struct {
	runner
	Program string
}

func (b *SoxBeeper) Beep(freq float64, d time.Duration) {
	monitoring.Debugf("[feedback] beep %.0f Hz for %v", freq, d)
	b.start(b.Program, "-q", "-n", "synth",
		strconv.FormatFloat(d.Seconds(), 'f', 3, 64),
		"sine", strconv.FormatFloat(freq, 'f', 0, 64))
}

// Log records prompts in the log only. It serves headless runs and tests.
type Log struct {
	mu     sync.Mutex
	spoken []string
	beeps  int
}

func (l *Log) Say(text string) {
	l.mu.Lock()
	l.spoken = append(l.spoken, text)
	l.mu.Unlock()
	monitoring.Logf("[feedback] %s", text)
}

func (l *Log) Beep(freq float64, d time.Duration) {
	l.mu.Lock()
	l.beeps++
	l.mu.Unlock()
	monitoring.Logf("[feedback] beep %.0f Hz %v", freq, d)
}

// Spoken returns every phrase passed to Say.
func (l *Log) Spoken() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.spoken...)
}

// Beeps returns the number of Beep calls.
func (l *Log) Beeps() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.beeps
}

var speechPrograms = []string{"espeak-ng", "espeak", "say", "spd-say"}

// Detect returns the first text-to-speech and tone programs found on PATH,
// falling back to a Log for whichever is missing.
func Detect() (Speaker, Beeper) {
	var speaker Speaker = &Log{}
	for _, p := range speechPrograms {
		if path, err := exec.LookPath(p); err == nil {
			speaker = &CommandSpeaker{Program: path}
			break
		}
	}
	var beeper Beeper = &Log{}
	if path, err := exec.LookPath("play"); err == nil {
		beeper = &SoxBeeper{Program: path}
	}
	monitoring.Logf("[feedback] speech=%s tone=%s", describe(speaker), describe(beeper))
	return speaker, beeper
}

func describe(v any) string {
	switch x := v.(type) {
	case *CommandSpeaker:
		return x.Program
	case *SoxBeeper:
		return x.Program
	default:
		return fmt.Sprintf("%T", v)
	}
}
