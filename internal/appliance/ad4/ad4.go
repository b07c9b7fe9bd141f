// Package ad4 drives the Papouch AD4ETH, AD4RS and AD4USB analog input
// modules and the Drak 4 over Spinel-97.
package ad4

import (
	"context"
	"encoding/binary"

	"github.com/tturner/dcpf/internal/appliance"
	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
)

const (
	InstMeasuredValues = 0x51

	// Channels is the number of analog inputs.
	Channels = 4

	channelSize = 4
)

// Status bits of a channel reading.
const (
	StatusUnderflow = 0x08
	StatusOverflow  = 0x10
	StatusValid     = 0x80
)

// Measurement is one channel reading.
type Measurement struct {
	Channel   uint8  `json:"channel"`
	Underflow bool   `json:"underflow"`
	Overflow  bool   `json:"overflow"`
	Valid     bool   `json:"valid"`
	Value     uint16 `json:"value"`
}

// Module is one AD4 or Drak 4 unit.
type Module struct {
	q       appliance.Querier
	address uint8
	Checks  protocol.CheckOptions
}

// New returns a driver for the module at address.
func New(q appliance.Querier, address uint8) *Module {
	return &Module{q: q, address: address}
}

// MeasuredValues reads all four inputs.
func (m *Module) MeasuredValues(ctx context.Context) ([]Measurement, error) {
	// The zero DATA byte is reserved by the manufacturer.
	data, err := appliance.ReplyLength(ctx, m.q, packet.Fields{
		"ADR":            packet.Uint(uint64(m.address)),
		"INST":           packet.Uint(InstMeasuredValues),
		packet.DataField: packet.Bytes([]byte{0x00}),
	}, m.Checks, Channels*channelSize)
	if err != nil {
		return nil, err
	}
	return DecodeMeasurements(data), nil
}

// DecodeMeasurements unpacks readings of four bytes each: channel number,
// status bits and a big-endian value. Trailing bytes are ignored.
func DecodeMeasurements(data []byte) []Measurement {
	out := make([]Measurement, 0, len(data)/channelSize)
	for off := 0; off+channelSize <= len(data); off += channelSize {
		status := data[off+1]
		out = append(out, Measurement{
			Channel:   data[off],
			Underflow: status&StatusUnderflow != 0,
			Overflow:  status&StatusOverflow != 0,
			Valid:     status&StatusValid != 0,
			Value:     binary.BigEndian.Uint16(data[off+2:]),
		})
	}
	return out
}
