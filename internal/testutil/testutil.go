// Package testutil provides shared test fixtures: synthetic signals and
// HTTP request helpers.
package testutil

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

// Sine returns n samples of amp*sin(2πft) sampled at rate Hz.
func Sine(n int, freq, rate, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	return out
}

// SineWindow returns a channels×n window of 10 Hz sines at 75 µV, each
// channel phase-shifted by one radian so lines are distinguishable.
func SineWindow(channels, n int, rate float64) [][]float64 {
	w := make([][]float64, channels)
	for c := range w {
		w[c] = make([]float64, n)
		for i := range w[c] {
			w[c][i] = 75e-6 * math.Sin(2*math.Pi*10*float64(i)/rate+float64(c))
		}
	}
	return w
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
