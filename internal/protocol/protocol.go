// Package protocol defines the contract shared by the wire protocol framers.
//
// A Protocol owns the packet schemas for both directions, builds outbound
// packets (including derived fields such as length prefixes and checksums),
// locates complete inbound packets inside an accumulation buffer, and
// validates them.
package protocol

import (
	"github.com/tturner/dcpf/internal/packet"
)

// Direction selects the request or response schema of a protocol.
type Direction int

const (
	Request Direction = iota
	Response
)

func (d Direction) String() string {
	if d == Request {
		return "request"
	}
	return "response"
}

// Span is a located packet window inside a buffer.
type Span struct {
	Start  int
	Length int
}

// End returns the index just past the packet.
func (s Span) End() int { return s.Start + s.Length }

// CheckOptions adjusts validation of a received packet.
type CheckOptions struct {
	// SkipChecksum disables checksum verification.
	SkipChecksum bool
	// AcceptAcks lists non-zero acknowledgment codes that are not errors.
	AcceptAcks []uint8
}

// Accepts reports whether an acknowledgment code passes validation.
func (o CheckOptions) Accepts(code uint8) bool {
	if code == 0 {
		return true
	}
	for _, c := range o.AcceptAcks {
		if c == code {
			return true
		}
	}
	return false
}

// Protocol is implemented by each wire format.
type Protocol interface {
	// Name is the registry identifier, e.g. "spinel97".
	Name() string
	// Schema returns the packet layout for a direction.
	Schema(dir Direction) *packet.Schema
	// Encode builds an outbound packet, filling framing defaults and
	// derived fields.
	Encode(dir Direction, fields packet.Fields) (*packet.Packet, error)
	// Locate finds the first complete packet at or after from. A false
	// result means more bytes are needed; it never implies data loss.
	Locate(dir Direction, buf []byte, from int) (Span, bool)
	// Check validates a located packet.
	Check(p *packet.Packet, opts CheckOptions) error
	// Payload extracts the data a query returns to its caller.
	Payload(p *packet.Packet) ([]byte, error)
	// ExpectsReply reports whether a request built from fields is answered.
	ExpectsReply(fields packet.Fields) bool
}

// Decode wraps a located span as a packet of the given direction.
func Decode(p Protocol, dir Direction, buf []byte, span Span) (*packet.Packet, error) {
	return packet.View(p.Schema(dir), buf, span.Start, span.Length)
}

// WithDefaults returns a copy of fields with every missing default filled in.
func WithDefaults(fields packet.Fields, defaults packet.Fields) packet.Fields {
	out := make(packet.Fields, len(fields)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
