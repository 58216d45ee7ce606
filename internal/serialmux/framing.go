package serialmux

import (
	"bufio"
	"bytes"
)

// PacketFormat describes a fixed-length binary packet interleaved with
// free-form text replies, as spoken by streaming biosignal boards.
type PacketFormat struct {
	Size       int    // total packet length including header and footer
	Header     byte   // first byte of every packet
	FooterMask byte   // bits of the last byte compared against Footer
	Footer     byte   // expected masked value of the last byte
	TextEnd    []byte // terminator of a text reply, e.g. "$$$"
	MaxText    int    // text longer than this is flushed unterminated
}

func (f PacketFormat) isPacket(b []byte) bool {
	return len(b) >= f.Size && b[0] == f.Header && b[f.Size-1]&f.FooterMask == f.Footer
}

// PacketSplit returns a bufio.SplitFunc emitting one token per packet or
// per text reply. Bytes that start with the header but fail the footer check
// are skipped one at a time until the stream resynchronises.
func PacketSplit(f PacketFormat) bufio.SplitFunc {
	maxText := f.MaxText
	if maxText <= 0 {
		maxText = 4096
	}
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if len(data) == 0 {
			return 0, nil, nil
		}

		if data[0] == f.Header {
			if len(data) < f.Size {
				if atEOF {
					return len(data), nil, nil
				}
				return 0, nil, nil
			}
			if f.isPacket(data) {
				return f.Size, data[:f.Size], nil
			}
			return 1, nil, nil
		}

		next := bytes.IndexByte(data, f.Header)
		if len(f.TextEnd) > 0 {
			if end := bytes.Index(data, f.TextEnd); end >= 0 && (next < 0 || end < next) {
				n := end + len(f.TextEnd)
				return n, data[:n], nil
			}
		}
		switch {
		case next > 0:
			return next, data[:next], nil
		case atEOF, len(data) >= maxText:
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}
