package spinel

import (
	"encoding/binary"

	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
)

const (
	Format97 = 97

	// Address97Broadcast and Address97Universal are never answered.
	Address97Broadcast = 0xFF
	Address97Universal = 0xFE

	// DefaultSignature is written when SIG is not given.
	DefaultSignature = 2
)

var base97 = Common.MustExtend("spinel97",
	packet.Code16("NUM", 2),
	packet.Code8("ADR", 4),
	packet.Code8("SIG", 5),
	packet.Range(packet.DataField, 7, -2),
	packet.Code8("SUMA", -2),
)

var (
	Request97  = base97.MustExtend("spinel97-request", packet.Code8("INST", 6))
	Response97 = base97.MustExtend("spinel97-response", packet.Code8("ACK", 6))
)

// Spinel97 is the binary Spinel format 97.
type Spinel97 struct{}

func (Spinel97) Name() string { return "spinel97" }

func (Spinel97) Schema(dir protocol.Direction) *packet.Schema {
	if dir == protocol.Request {
		return Request97
	}
	return Response97
}

// Encode builds a format 97 packet. NUM, SIG and SUMA are derived unless the
// caller sets them explicitly; ADR defaults to the universal address.
func (s Spinel97) Encode(dir protocol.Direction, fields packet.Fields) (*packet.Packet, error) {
	values := protocol.WithDefaults(fields, packet.Fields{
		"PRE": packet.String("*"),
		"FRM": packet.Uint(Format97),
		"ADR": packet.Uint(Address97Universal),
		"CR":  packet.String("\r"),
	})
	delete(values, "NUM")
	delete(values, "SIG")
	delete(values, "SUMA")

	p, err := packet.Build(s.Schema(dir), values)
	if err != nil {
		return nil, err
	}
	num, ok := fields["NUM"]
	if !ok {
		num = packet.Uint(uint64(p.Len() - 4))
	}
	if err := p.Set("NUM", num); err != nil {
		return nil, err
	}
	sig, ok := fields["SIG"]
	if !ok {
		sig = packet.Uint(DefaultSignature)
	}
	if err := p.Set("SIG", sig); err != nil {
		return nil, err
	}
	suma, ok := fields["SUMA"]
	if !ok {
		suma = packet.Uint(uint64(Checksum97(p.Bytes())))
	}
	if err := p.Set("SUMA", suma); err != nil {
		return nil, err
	}
	return p, nil
}

// Checksum97 computes 255 minus the byte sum of a complete packet, excluding
// the SUMA and CR bytes, modulo 256.
func Checksum97(pkt []byte) uint8 {
	sum := uint8(0xFF)
	for _, b := range pkt[:len(pkt)-2] {
		sum -= b
	}
	return sum
}

// Locate scans for a '*' ... CR candidate whose NUM field places the CR
// exactly at the declared end. Rejected candidates are skipped one byte past
// their '*'.
func (Spinel97) Locate(_ protocol.Direction, buf []byte, from int) (protocol.Span, bool) {
	minLen := Request97.MinLength()
	start, _, ok := locateCommon(buf, from)
	for ok {
		if len(buf)-start < minLen {
			return protocol.Span{}, false
		}
		total := int(binary.BigEndian.Uint16(buf[start+2:])) + 4
		end := start + total - 1
		if total >= minLen && end < len(buf) && buf[end] == Terminator {
			return protocol.Span{Start: start, Length: total}, true
		}
		start, _, ok = locateCommon(buf, start+1)
	}
	return protocol.Span{}, false
}

// Check verifies the checksum and then, for responses, the ACK code.
func (Spinel97) Check(p *packet.Packet, opts protocol.CheckOptions) error {
	if !opts.SkipChecksum {
		actual, err := p.Uint("SUMA")
		if err != nil {
			return err
		}
		expected := Checksum97(p.Bytes())
		if uint8(actual) != expected {
			return &protocol.ChecksumError{Expected: expected, Actual: uint8(actual)}
		}
	}
	if !p.Has("ACK") {
		return nil
	}
	code, err := p.Uint("ACK")
	if err != nil {
		return err
	}
	if !opts.Accepts(uint8(code)) {
		return protocol.NewAckError(uint8(code))
	}
	return nil
}

func (Spinel97) Payload(p *packet.Packet) ([]byte, error) { return p.Data() }

// ExpectsReply is false for the broadcast and universal addresses.
func (Spinel97) ExpectsReply(fields packet.Fields) bool {
	adr := byte(Address97Universal)
	if v, ok := fields["ADR"]; ok {
		b, valid := addressValue(v)
		if !valid {
			return true
		}
		adr = b
	}
	return adr != Address97Broadcast && adr != Address97Universal
}
