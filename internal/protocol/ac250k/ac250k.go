// Package ac250k implements the ASCII protocol of the AC250Kxxx power
// supplies. Requests start with '@', responses with '#'; both carry a
// two-digit hex address and a two-digit hex checksum before the CR.
package ac250k

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
)

const (
	RequestStart  = '@'
	ResponseStart = '#'
	Terminator    = '\r'

	// MaxAddress is the highest unit address; 0xFF addresses every unit.
	MaxAddress       = 31
	BroadcastAddress = 0xFF
)

var base = packet.MustSchema("ac250k",
	packet.Fixed("INIT", 0, 1),
	packet.Hex("ADR", 1, 2),
	packet.Range(packet.DataField, 3, -3),
	packet.Hex("SUMA", -3, 2),
	packet.Fixed("CR", -1, 1),
)

var (
	RequestSchema  = base.MustExtend("ac250k-request")
	ResponseSchema = base.MustExtend("ac250k-response")
)

// AC250K is the power supply protocol.
type AC250K struct{}

func (AC250K) Name() string { return "ac250k" }

func (AC250K) Schema(dir protocol.Direction) *packet.Schema {
	if dir == protocol.Request {
		return RequestSchema
	}
	return ResponseSchema
}

func startChar(dir protocol.Direction) byte {
	if dir == protocol.Request {
		return RequestStart
	}
	return ResponseStart
}

// Checksum sums the address and data characters of a complete packet modulo
// 256.
func Checksum(pkt []byte) uint8 {
	var sum uint8
	for _, b := range pkt[1 : len(pkt)-3] {
		sum += b
	}
	return sum
}

// Encode builds a packet and appends the checksum unless SUMA is given.
func (a AC250K) Encode(dir protocol.Direction, fields packet.Fields) (*packet.Packet, error) {
	values := protocol.WithDefaults(fields, packet.Fields{
		"INIT": packet.Bytes([]byte{startChar(dir)}),
		"ADR":  packet.Uint(BroadcastAddress),
		"CR":   packet.String("\r"),
	})
	if _, ok := address(values["ADR"]); !ok {
		return nil, fmt.Errorf("%w: ac250k address %s is not two hex digits", protocol.ErrMalformed, values["ADR"])
	}
	delete(values, "SUMA")
	p, err := packet.Build(a.Schema(dir), values)
	if err != nil {
		return nil, err
	}
	suma, ok := fields["SUMA"]
	if !ok {
		suma = packet.Uint(uint64(Checksum(p.Bytes())))
	}
	if err := p.Set("SUMA", suma); err != nil {
		return nil, err
	}
	return p, nil
}

// Locate finds the direction's start character and the next CR.
func (AC250K) Locate(dir protocol.Direction, buf []byte, from int) (protocol.Span, bool) {
	if from < 0 {
		from = 0
	}
	if from >= len(buf) {
		return protocol.Span{}, false
	}
	i := bytes.IndexByte(buf[from:], startChar(dir))
	if i < 0 {
		return protocol.Span{}, false
	}
	start := from + i
	j := bytes.IndexByte(buf[start:], Terminator)
	if j < 0 {
		return protocol.Span{}, false
	}
	return protocol.Span{Start: start, Length: j + 1}, true
}

// Check compares the SUMA characters with the recomputed checksum.
func (AC250K) Check(p *packet.Packet, opts protocol.CheckOptions) error {
	if opts.SkipChecksum {
		return nil
	}
	actual, err := p.Uint("SUMA")
	if err != nil {
		return err
	}
	expected := Checksum(p.Bytes())
	if uint8(actual) != expected {
		return &protocol.ChecksumError{Expected: expected, Actual: uint8(actual)}
	}
	return nil
}

func (AC250K) Payload(p *packet.Packet) ([]byte, error) { return p.Data() }

// ExpectsReply is false for the broadcast address; every unit accepts it but
// none answers. The address may be given as a number or as its two hex
// characters.
func (AC250K) ExpectsReply(fields packet.Fields) bool {
	v, ok := fields["ADR"]
	if !ok {
		return false
	}
	adr, ok := address(v)
	return !ok || adr != BroadcastAddress
}

func address(v packet.Value) (uint64, bool) {
	if v.IsNumeric() {
		return v.Num(), v.Num() <= 0xFF
	}
	if len(v.Raw()) != 2 {
		return 0, false
	}
	n, err := strconv.ParseUint(string(v.Raw()), 16, 8)
	return n, err == nil
}
