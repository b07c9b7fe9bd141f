// Package quido drives Papouch Quido digital I/O modules over Spinel-97.
package quido

import (
	"context"
	"fmt"

	"github.com/tturner/dcpf/internal/appliance"
	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
	"github.com/tturner/dcpf/internal/protocol/spinel"
)

const (
	InstSetOutputs = 0x20
	InstOutputs    = 0x30

	// MaxOutput is the highest output number the set command can address.
	MaxOutput = 127

	outputOn = 0x80
)

// Module is one Quido module.
type Module struct {
	q       appliance.Querier
	address uint8
	Checks  protocol.CheckOptions
}

// New returns a driver for the module at address. Writes to the broadcast
// or universal address are sent without waiting for a reply.
func New(q appliance.Querier, address uint8) *Module {
	return &Module{q: q, address: address}
}

// Address returns the module's Spinel address.
func (m *Module) Address() uint8 { return m.address }

// OutputsState returns the state of every output, output 1 first. The
// module reports 1, 2 or 4 bytes depending on how many outputs it has.
func (m *Module) OutputsState(ctx context.Context) ([]bool, error) {
	data, err := appliance.Reply(ctx, m.q, packet.Fields{
		"ADR":  packet.Uint(uint64(m.address)),
		"INST": packet.Uint(InstOutputs),
	}, m.Checks)
	if err != nil {
		return nil, err
	}
	return DecodeOutputs(data)
}

// DecodeOutputs unpacks a big-endian output bitfield; the least significant
// bit is output 1.
func DecodeOutputs(data []byte) ([]bool, error) {
	switch len(data) {
	case 1, 2, 4:
	default:
		return nil, fmt.Errorf("%w: %d bytes of output state", protocol.ErrMalformed, len(data))
	}
	out := make([]bool, 0, len(data)*8)
	for i := len(data) - 1; i >= 0; i-- {
		for bit := 0; bit < 8; bit++ {
			out = append(out, data[i]&(1<<bit) != 0)
		}
	}
	return out, nil
}

// OutputState returns the state of output n (1-based). It reads every
// output, so batch lookups through OutputsState when checking several.
func (m *Module) OutputState(ctx context.Context, n int) (bool, error) {
	states, err := m.OutputsState(ctx)
	if err != nil {
		return false, err
	}
	if n < 1 || n > len(states) {
		return false, fmt.Errorf("output %d out of range [1, %d]", n, len(states))
	}
	return states[n-1], nil
}

// SetOutputsState switches outputs: a positive number turns that output on,
// a negative one turns it off. Order does not matter.
func (m *Module) SetOutputsState(ctx context.Context, outputs ...int) ([]byte, error) {
	data, err := EncodeOutputs(outputs...)
	if err != nil {
		return nil, err
	}
	return m.q.Query(ctx, packet.Fields{
		"ADR":            packet.Uint(uint64(m.address)),
		"INST":           packet.Uint(InstSetOutputs),
		packet.DataField: packet.Bytes(data),
	}, m.Checks)
}

// EncodeOutputs builds the set-outputs DATA: one byte per output, the high
// bit set to switch it on and the low seven bits holding its number.
func EncodeOutputs(outputs ...int) ([]byte, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no outputs given")
	}
	data := make([]byte, len(outputs))
	for i, o := range outputs {
		n := o
		if n < 0 {
			n = -n
		}
		if n < 1 || n > MaxOutput {
			return nil, fmt.Errorf("output %d out of range [1, %d]", n, MaxOutput)
		}
		data[i] = byte(n)
		if o > 0 {
			data[i] |= outputOn
		}
	}
	return data, nil
}

// ExpectsReply reports whether the module answers requests.
func (m *Module) ExpectsReply() bool {
	return spinel.Spinel97{}.ExpectsReply(packet.Fields{"ADR": packet.Uint(uint64(m.address))})
}
