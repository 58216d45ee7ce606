// Package cyton speaks the OpenBCI Cyton serial protocol: a text handshake
// followed by a stream of fixed 33-byte sample packets.
package cyton

import (
	"errors"
	"fmt"

	"github.com/banshee-data/neurobile/internal/serialmux"
)

const (
	PacketSize   = 33
	PacketHeader = 0xA0
	footerMask   = 0xF0
	footerBase   = 0xC0

	Channels     = 8
	SamplingRate = 250

	// DefaultGain is the ADS1299 programmable gain the board boots with.
	DefaultGain = 24.0
	// vref is the ADS1299 reference voltage.
	vref = 4.5
)

// Single-character board commands.
const (
	CmdStartStream = "b"
	CmdStopStream  = "s"
	CmdSoftReset   = "v"
)

var ErrBadPacket = errors.New("cyton: malformed packet")

// Format is the framing used to split the serial stream.
var Format = serialmux.PacketFormat{
	Size:       PacketSize,
	Header:     PacketHeader,
	FooterMask: footerMask,
	Footer:     footerBase,
	TextEnd:    []byte("$$$"),
}

// Packet is one decoded sample from all eight channels.
type Packet struct {
	Sample   uint8
	Channels [Channels]float64 // volts
	Aux      [3]int16
	Footer   byte
}

// ScaleFactor returns volts per ADC count at the given gain.
func ScaleFactor(gain float64) float64 {
	return vref / gain / float64(1<<23-1)
}

// int24 decodes a big-endian 24-bit two's complement value.
func int24(b []byte) int32 {
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v
}

func putInt24(b []byte, v int32) {
	b[0], b[1], b[2] = byte(v>>16), byte(v>>8), byte(v)
}

// Decode parses a raw packet and scales channel counts to volts.
func Decode(b []byte, gain float64) (Packet, error) {
	if len(b) != PacketSize || b[0] != PacketHeader || b[PacketSize-1]&footerMask != footerBase {
		return Packet{}, fmt.Errorf("%w: % x", ErrBadPacket, b)
	}
	p := Packet{Sample: b[1], Footer: b[PacketSize-1]}
	scale := ScaleFactor(gain)
	for ch := 0; ch < Channels; ch++ {
		p.Channels[ch] = float64(int24(b[2+3*ch:])) * scale
	}
	for i := 0; i < 3; i++ {
		p.Aux[i] = int16(uint16(b[26+2*i])<<8 | uint16(b[27+2*i]))
	}
	return p, nil
}

// Encode builds a raw packet from channel counts. Boards never need this; it
// feeds the development stream and tests.
func Encode(sample uint8, counts [Channels]int32) []byte {
	b := make([]byte, PacketSize)
	b[0] = PacketHeader
	b[1] = sample
	for ch, c := range counts {
		putInt24(b[2+3*ch:], c)
	}
	b[PacketSize-1] = footerBase
	return b
}
