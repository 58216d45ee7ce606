package serialmux

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalise(t *testing.T) {
	tests := []struct {
		name    string
		opts    PortOptions
		want    PortOptions
		wantErr bool
	}{
		{"defaults", PortOptions{}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, false},
		{"explicit", PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "even"}, PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}, false},
		{"negative baud", PortOptions{BaudRate: -5}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, false},
		{"bad data bits", PortOptions{DataBits: 9}, PortOptions{}, true},
		{"bad stop bits", PortOptions{StopBits: 3}, PortOptions{}, true},
		{"bad parity", PortOptions{Parity: "mark"}, PortOptions{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.Normalise()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalise() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalise() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalise() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{Parity: "O"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.BaudRate != 115200 || mode.DataBits != 8 || mode.Parity != serial.OddParity {
		t.Errorf("SerialMode() = %+v", mode)
	}

	if _, err := (PortOptions{Parity: "X"}).SerialMode(); err == nil {
		t.Error("SerialMode() with bad parity should fail")
	}
}
