package spinel

import (
	"strconv"

	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
)

const (
	Format66 = 66

	// Address66Broadcast and Address66Universal are never answered.
	Address66Broadcast = '%'
	Address66Universal = '$'
)

var base66 = Common.MustExtend("spinel66",
	packet.Fixed("ADR", 2, 1),
	packet.Range(packet.DataField, 4, -1),
)

var (
	Request66  = base66.MustExtend("spinel66-request", packet.Fixed("INST", 3, 1))
	Response66 = base66.MustExtend("spinel66-response", packet.Fixed("ACK", 3, 1))
)

// Spinel66 is the character based Spinel format 66.
type Spinel66 struct{}

func (Spinel66) Name() string { return "spinel66" }

func (Spinel66) Schema(dir protocol.Direction) *packet.Schema {
	if dir == protocol.Request {
		return Request66
	}
	return Response66
}

func (s Spinel66) Encode(dir protocol.Direction, fields packet.Fields) (*packet.Packet, error) {
	values := protocol.WithDefaults(fields, packet.Fields{
		"PRE": packet.String("*"),
		"FRM": packet.Uint(Format66),
		"ADR": packet.Bytes([]byte{Address66Universal}),
		"CR":  packet.String("\r"),
	})
	return packet.Build(s.Schema(dir), values)
}

func (Spinel66) Locate(_ protocol.Direction, buf []byte, from int) (protocol.Span, bool) {
	start, length, ok := locateCommon(buf, from)
	if !ok {
		return protocol.Span{}, false
	}
	return protocol.Span{Start: start, Length: length}, true
}

// Check validates the ACK character of a response. The code is an ASCII hex
// digit; any other byte is reported by its raw value.
func (Spinel66) Check(p *packet.Packet, opts protocol.CheckOptions) error {
	if !p.Has("ACK") {
		return nil
	}
	raw, err := p.Raw("ACK")
	if err != nil {
		return err
	}
	code := AckCode66(raw[0])
	if !opts.Accepts(code) {
		return protocol.NewAckError(code)
	}
	return nil
}

// AckCode66 converts an ACK character to its numeric code.
func AckCode66(c byte) uint8 {
	if n, err := strconv.ParseUint(string(c), 16, 8); err == nil {
		return uint8(n)
	}
	return c
}

func (Spinel66) Payload(p *packet.Packet) ([]byte, error) { return p.Data() }

func (Spinel66) ExpectsReply(fields packet.Fields) bool {
	adr := byte(Address66Universal)
	if v, ok := fields["ADR"]; ok {
		b, valid := addressValue(v)
		if !valid {
			return true
		}
		adr = b
	}
	return adr != Address66Broadcast && adr != Address66Universal
}
