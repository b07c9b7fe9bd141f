// Package evr116 implements the ASCII protocol of the EVR116 valve
// controller. Every line is a command character, optional data and CRLF;
// position queries are answered with a bare four-digit hex line.
package evr116

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
)

// CommandChars lists the recognised command characters.
const CommandChars = "hxyzijgpstv"

// BareLineLength is the content length of an untagged numeric reply.
const BareLineLength = 4

var terminator = []byte("\r\n")

// Schema is shared by requests and responses.
var Schema = packet.MustSchema("evr116",
	packet.Fixed("IDENTIFIER", 0, 1),
	packet.Range(packet.DataField, 1, -2),
	packet.Fixed("TERMINATOR", -2, 2),
)

// EVR116 is the valve line protocol.
type EVR116 struct{}

func (EVR116) Name() string { return "evr116" }

func (EVR116) Schema(protocol.Direction) *packet.Schema { return Schema }

// IsCommand reports whether c is a command character.
func IsCommand(c byte) bool { return strings.IndexByte(CommandChars, c) >= 0 }

// Encode builds a line. IDENTIFIER defaults to 'v' and DATA to "?".
func (EVR116) Encode(_ protocol.Direction, fields packet.Fields) (*packet.Packet, error) {
	values := protocol.WithDefaults(fields, packet.Fields{
		"IDENTIFIER":     packet.String("v"),
		packet.DataField: packet.String("?"),
		"TERMINATOR":     packet.String("\r\n"),
	})
	id := values["IDENTIFIER"]
	var c byte
	switch {
	case id.IsNumeric() && id.Num() <= 0xFF:
		c = byte(id.Num())
	case !id.IsNumeric() && len(id.Raw()) == 1:
		c = id.Raw()[0]
	}
	if !IsCommand(c) {
		return nil, fmt.Errorf("%w: %s is not a command character", protocol.ErrMalformed, id)
	}
	return packet.Build(Schema, values)
}

// Locate takes the first CRLF-terminated line at or after from. The packet
// starts at the last command character of the line; a line of exactly four
// bytes without one is a bare numeric reply. Lines matching neither are
// passed over.
func (EVR116) Locate(_ protocol.Direction, buf []byte, from int) (protocol.Span, bool) {
	if from < 0 {
		from = 0
	}
	pos := from
	for pos < len(buf) {
		i := bytes.Index(buf[pos:], terminator)
		if i < 0 {
			return protocol.Span{}, false
		}
		end := pos + i + len(terminator)
		line := buf[pos : pos+i]
		if k := bytes.LastIndexAny(line, CommandChars); k >= 0 {
			return protocol.Span{Start: pos + k, Length: end - (pos + k)}, true
		}
		if len(line) == BareLineLength {
			return protocol.Span{Start: pos, Length: end - pos}, true
		}
		pos = end
	}
	return protocol.Span{}, false
}

// IsBare reports whether p is an untagged numeric reply.
func IsBare(p *packet.Packet) bool {
	b := p.Bytes()
	return len(b) == BareLineLength+len(terminator) && !IsCommand(b[0])
}

// Check is structural: the line must start with a command character or be
// a bare numeric reply.
func (EVR116) Check(p *packet.Packet, _ protocol.CheckOptions) error {
	b := p.Bytes()
	if !bytes.HasSuffix(b, terminator) {
		return fmt.Errorf("%w: evr116 line without CRLF", protocol.ErrMalformed)
	}
	if IsCommand(b[0]) || IsBare(p) {
		return nil
	}
	return fmt.Errorf("%w: evr116 line starts with %q", protocol.ErrMalformed, b[0])
}

// Payload returns DATA, or the whole line content for a bare reply.
func (EVR116) Payload(p *packet.Packet) ([]byte, error) {
	if IsBare(p) {
		b := p.Bytes()
		out := make([]byte, BareLineLength)
		copy(out, b)
		return out, nil
	}
	return p.Data()
}

// ExpectsReply is always true; the controller has no broadcast address.
func (EVR116) ExpectsReply(packet.Fields) bool { return true }
