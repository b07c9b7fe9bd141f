// Package evr116 drives the EVR116 gas valve controller, either on a serial
// line (300 baud, 7 data bits, 2 stop bits) or behind an RS232-to-Ethernet
// converter.
package evr116

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tturner/dcpf/internal/appliance"
	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
	"github.com/tturner/dcpf/internal/transport"
)

// SerialOptions are the controller's line settings.
var SerialOptions = transport.PortOptions{BaudRate: 300, DataBits: 7, StopBits: 2, Parity: "N"}

// Valve position limits accepted by SetPosition.
const (
	MinPosition = 512
	MaxPosition = 6760
)

// Valve is one controller.
type Valve struct {
	q      appliance.Querier
	Checks protocol.CheckOptions
}

// New returns a valve driver.
func New(q appliance.Querier) *Valve {
	return &Valve{q: q}
}

// query sends a command line. Without data the protocol default "?" is sent.
func (v *Valve) query(ctx context.Context, id byte, data ...string) ([]byte, error) {
	fields := packet.Fields{"IDENTIFIER": packet.Uint(uint64(id))}
	if len(data) > 0 {
		fields[packet.DataField] = packet.String(data[0])
	}
	return appliance.Reply(ctx, v.q, fields, v.Checks)
}

// SetPosition moves the valve. The controller takes half the position,
// written in hex.
func (v *Valve) SetPosition(ctx context.Context, position int) ([]byte, error) {
	if position < MinPosition || position > MaxPosition {
		return nil, fmt.Errorf("position %d not in range [%d, %d]", position, MinPosition, MaxPosition)
	}
	data := strconv.FormatInt(int64(position/2), 16)
	return v.query(ctx, 'g', data)
}

// Position returns the reported valve position.
func (v *Valve) Position(ctx context.Context) (int, error) {
	reply, err := v.query(ctx, 'p', "?")
	if err != nil {
		return 0, err
	}
	pos, err := strconv.ParseInt(string(reply), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: position %q: %v", protocol.ErrMalformed, reply, err)
	}
	return int(pos), nil
}

// Close shuts the valve.
func (v *Valve) Close(ctx context.Context) ([]byte, error) {
	return v.query(ctx, 'x')
}

// Open opens the valve fully.
func (v *Valve) Open(ctx context.Context) ([]byte, error) {
	return v.query(ctx, 'y')
}
