package testutil

import (
	"math"
	"net/http"
	"testing"
)

func TestSine(t *testing.T) {
	x := Sine(128, 1, 128, 2)
	if len(x) != 128 {
		t.Fatalf("len = %d, want 128", len(x))
	}
	if math.Abs(x[32]-2) > 1e-12 {
		t.Errorf("quarter period = %g, want 2", x[32])
	}
	if math.Abs(x[0]) > 1e-12 {
		t.Errorf("x[0] = %g, want 0", x[0])
	}
}

func TestSineWindow(t *testing.T) {
	w := SineWindow(3, 384, 128)
	if len(w) != 3 || len(w[2]) != 384 {
		t.Fatalf("shape = %dx%d, want 3x384", len(w), len(w[2]))
	}
	for c, ch := range w {
		for _, v := range ch {
			if math.Abs(v) > 75e-6+1e-18 {
				t.Fatalf("channel %d exceeds 75 µV: %g", c, v)
			}
		}
	}
	if w[0][0] == w[1][0] {
		t.Error("channels share a phase")
	}
}

func TestAssertStatusCode(t *testing.T) {
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}

func TestNewTestRequest(t *testing.T) {
	req := NewTestRequest(http.MethodGet, "/api/status")
	if req.Method != http.MethodGet || req.URL.Path != "/api/status" {
		t.Errorf("request = %s %s", req.Method, req.URL.Path)
	}
	if NewTestRecorder() == nil {
		t.Fatal("recorder is nil")
	}
}
