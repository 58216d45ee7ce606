package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		msg    string
	}{
		{"method not allowed", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "n must be positive") }, http.StatusBadRequest, "n must be positive"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "no window yet") }, http.StatusNotFound, "no window yet"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "render failed") }, http.StatusInternalServerError, "render failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content-type = %s, want application/json", ct)
			}
			var resp map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["error"] != tt.msg {
				t.Errorf("error = %q, want %q", resp["error"], tt.msg)
			}
		})
	}
}

func TestWriteJSONOK(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]float64{"ratio": 7.5})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var resp map[string]float64
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["ratio"] != 7.5 {
		t.Errorf("ratio = %v, want 7.5", resp["ratio"])
	}
}
