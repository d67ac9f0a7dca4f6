// Package ptcp implements a pseudo-TCP engine: a reliable, ordered,
// congestion-controlled byte stream carried over an unreliable datagram
// transport, driven externally by notify_packet/notify_clock rather than by
// its own goroutine loop (SPEC_FULL.md §4.4, §5). Grounded throughout on the
// donor daemon's clock-driven single-instance session design
// (internal/bfd/session.go, internal/bfd/fsm.go).
package ptcp

import (
	"encoding/binary"
	"fmt"

	"github.com/dantte-lp/natcore/internal/errkind"
)

// headerSize is the fixed 24-byte pseudo-TCP segment header.
const headerSize = 24

// Header flag bits.
const (
	flagControl byte = 1 << 0
	flagReset   byte = 1 << 1
)

// Control opcodes carried in the first byte of a control segment's payload.
const (
	opcodeConnect byte = 0
)

// Option kinds inside a connect payload's TCP-like option list.
const (
	optEOL        byte = 0
	optNOP        byte = 1
	optMSS        byte = 2 // unsupported: accepted on decode, never emitted
	optWindowScale byte = 3
)

// Header is the fixed 24-byte pseudo-TCP segment header (SPEC_FULL.md §4.1).
type Header struct {
	Conversation uint32
	Seq          uint32
	Ack          uint32
	Flags        byte
	Window       uint16
	TSVal        uint32
	TSEcr        uint32
}

// Control returns whether the control flag is set.
func (h Header) Control() bool { return h.Flags&flagControl != 0 }

// Reset returns whether the reset flag is set.
func (h Header) Reset() bool { return h.Flags&flagReset != 0 }

// EncodeHeader writes h's wire representation (network byte order).
func EncodeHeader(h Header) []byte {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Conversation)
	binary.BigEndian.PutUint32(buf[4:8], h.Seq)
	binary.BigEndian.PutUint32(buf[8:12], h.Ack)
	buf[12] = 0 // reserved
	buf[13] = h.Flags
	binary.BigEndian.PutUint16(buf[14:16], h.Window)
	binary.BigEndian.PutUint32(buf[16:20], h.TSVal)
	binary.BigEndian.PutUint32(buf[20:24], h.TSEcr)
	return buf
}

// DecodeHeader parses the fixed header from buf, returning it and the
// remaining payload bytes.
func DecodeHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < headerSize {
		return Header{}, nil, errkind.New(errkind.Malformed, fmt.Errorf("segment too short: %d bytes", len(buf)))
	}
	h := Header{
		Conversation: binary.BigEndian.Uint32(buf[0:4]),
		Seq:          binary.BigEndian.Uint32(buf[4:8]),
		Ack:          binary.BigEndian.Uint32(buf[8:12]),
		Flags:        buf[13],
		Window:       binary.BigEndian.Uint16(buf[14:16]),
		TSVal:        binary.BigEndian.Uint32(buf[16:20]),
		TSEcr:        binary.BigEndian.Uint32(buf[20:24]),
	}
	return h, buf[headerSize:], nil
}

// option is one decoded TCP-like option from a connect payload.
type option struct {
	kind  byte
	value []byte
}

// encodeConnectPayload builds a control segment payload: the connect opcode
// followed by a kind-length-value option list, terminated by EOL (or
// implicitly by running out of bytes).
func encodeConnectPayload(opts []option) []byte {
	buf := []byte{opcodeConnect}
	for _, o := range opts {
		switch o.kind {
		case optNOP:
			buf = append(buf, optNOP)
		default:
			buf = append(buf, o.kind, byte(len(o.value)+2))
			buf = append(buf, o.value...)
		}
	}
	buf = append(buf, optEOL)
	return buf
}

// decodeConnectPayload parses a connect control payload into its option
// list. Unknown option kinds are skipped using their declared length.
func decodeConnectPayload(buf []byte) ([]option, error) {
	if len(buf) < 1 || buf[0] != opcodeConnect {
		return nil, errkind.New(errkind.Malformed, fmt.Errorf("not a connect payload"))
	}
	buf = buf[1:]

	var opts []option
	for len(buf) > 0 {
		kind := buf[0]
		if kind == optEOL {
			break
		}
		if kind == optNOP {
			opts = append(opts, option{kind: optNOP})
			buf = buf[1:]
			continue
		}
		if len(buf) < 2 {
			return nil, errkind.New(errkind.Malformed, fmt.Errorf("truncated option"))
		}
		length := int(buf[1])
		if length < 2 || len(buf) < length {
			return nil, errkind.New(errkind.Malformed, fmt.Errorf("invalid option length %d", length))
		}
		opts = append(opts, option{kind: kind, value: buf[2:length]})
		buf = buf[length:]
	}
	return opts, nil
}

// windowScaleOption builds a window-scale option carrying a single byte.
func windowScaleOption(scale uint8) option {
	return option{kind: optWindowScale, value: []byte{scale}}
}

// findWindowScale returns the peer's advertised scale and whether the
// option was present at all (absence means "revert to defaults" per
// SPEC_FULL.md §4.4).
func findWindowScale(opts []option) (uint8, bool) {
	for _, o := range opts {
		if o.kind == optWindowScale && len(o.value) == 1 {
			return o.value[0], true
		}
	}
	return 0, false
}
