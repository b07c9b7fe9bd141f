// Package ac250k drives the AC250Kxxx series programmable power supplies.
//
// The supplies sit on a serial line at 9600 8N1. Every unit has an address
// from 0 to 31 (hold the Clear button to show it); 0xFF reaches all units
// but none of them answers.
package ac250k

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tturner/dcpf/internal/appliance"
	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
	proto "github.com/tturner/dcpf/internal/protocol/ac250k"
	"github.com/tturner/dcpf/internal/transport"
)

// SerialOptions are the line settings the supplies use.
var SerialOptions = transport.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}

// MaxVoltage is the largest value the three-digit NAP command can carry.
const MaxVoltage = 999

// PowerSupply is one addressed unit.
type PowerSupply struct {
	q       appliance.Querier
	address uint8
	Checks  protocol.CheckOptions
}

// New returns a driver for the unit at address.
func New(q appliance.Querier, address uint8) *PowerSupply {
	return &PowerSupply{q: q, address: address}
}

// Address returns the unit address.
func (p *PowerSupply) Address() uint8 { return p.address }

// Query sends DATA to the unit and returns the reply text.
func (p *PowerSupply) Query(ctx context.Context, data string) (string, error) {
	reply, err := p.q.Query(ctx, packet.Fields{
		"ADR":            packet.Uint(uint64(p.address)),
		packet.DataField: packet.String(data),
	}, p.Checks)
	if err != nil {
		return "", err
	}
	if reply == nil {
		return "", appliance.ErrNoReply
	}
	return string(reply), nil
}

// Command sends a setting and reports whether the unit acknowledged it:
// "OK" is true, "Err" is false, anything else is an error.
func (p *PowerSupply) Command(ctx context.Context, data string) (bool, error) {
	reply, err := p.Query(ctx, data)
	if err != nil {
		return false, err
	}
	switch reply {
	case "OK":
		return true, nil
	case "Err":
		return false, nil
	default:
		return false, fmt.Errorf("device reported error: %q", reply)
	}
}

// Voltage returns the set output voltage in volts.
func (p *PowerSupply) Voltage(ctx context.Context) (int, error) {
	reply, err := p.Query(ctx, "NAP???")
	if err != nil {
		return 0, err
	}
	if !strings.HasPrefix(reply, "NAP") {
		return 0, fmt.Errorf("%w: unexpected voltage reply %q", protocol.ErrMalformed, reply)
	}
	v, err := strconv.Atoi(strings.TrimSpace(reply[3:]))
	if err != nil {
		return 0, fmt.Errorf("%w: voltage %q: %v", protocol.ErrMalformed, reply[3:], err)
	}
	return v, nil
}

// SetVoltage sets the output voltage in volts. The supply takes a moment to
// settle after accepting it.
func (p *PowerSupply) SetVoltage(ctx context.Context, volts int) (bool, error) {
	if volts < 0 || volts > MaxVoltage {
		return false, fmt.Errorf("voltage %d out of range [0, %d]", volts, MaxVoltage)
	}
	return p.Command(ctx, fmt.Sprintf("NAP%03d", volts))
}

// Output reports whether the output is switched on.
func (p *PowerSupply) Output(ctx context.Context) (bool, error) {
	reply, err := p.Query(ctx, "OUT?")
	if err != nil {
		return false, err
	}
	return strings.HasSuffix(reply, "1"), nil
}

// SetOutput switches the output on or off.
func (p *PowerSupply) SetOutput(ctx context.Context, on bool) (bool, error) {
	if on {
		return p.Command(ctx, "OUT1")
	}
	return p.Command(ctx, "OUT0")
}

// Identification returns the model and revision string.
func (p *PowerSupply) Identification(ctx context.Context) (string, error) {
	return p.Query(ctx, "ID?")
}

// ValidAddress reports whether address can be given to New.
func ValidAddress(address int) bool {
	return (address >= 0 && address <= proto.MaxAddress) || address == proto.BroadcastAddress
}
