package emulator

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
	"github.com/tturner/dcpf/internal/protocol/spinel"
)

// InstFunc computes the reply to one instruction from the request DATA.
type InstFunc func(data []byte) (ack uint8, reply []byte)

// SpinelRegisters is an in-memory Spinel device for formats 66 and 97.
// Each instruction code maps to the data it returns; setter instructions
// store their DATA where a getter reads it back. Unknown instructions are
// answered with ACK "invalid instruction".
type SpinelRegisters struct {
	mu         sync.Mutex
	address    uint8
	anyAddress bool
	values     map[uint8][]byte
	setters    map[uint8]uint8
	funcs      map[uint8]InstFunc
}

// NewSpinelRegisters creates a device answering at address.
func NewSpinelRegisters(address uint8) *SpinelRegisters {
	return &SpinelRegisters{
		address: address,
		values:  make(map[uint8][]byte),
		setters: make(map[uint8]uint8),
		funcs:   make(map[uint8]InstFunc),
	}
}

// AnswerAll makes the device answer every address, the way a unit exposing
// one address per channel does.
func (r *SpinelRegisters) AnswerAll() *SpinelRegisters {
	r.anyAddress = true
	return r
}

// Set stores the reply DATA for inst.
func (r *SpinelRegisters) Set(inst uint8, data []byte) *SpinelRegisters {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[inst] = append([]byte(nil), data...)
	return r
}

// Setter makes set store its request DATA as the reply of get.
func (r *SpinelRegisters) Setter(set, get uint8) *SpinelRegisters {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setters[set] = get
	return r
}

// Func registers a computed instruction.
func (r *SpinelRegisters) Func(inst uint8, f InstFunc) *SpinelRegisters {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[inst] = f
	return r
}

// Get returns the stored DATA for inst.
func (r *SpinelRegisters) Get(inst uint8) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[inst]
	return append([]byte(nil), v...), ok
}

// Handle answers a Spinel request.
func (r *SpinelRegisters) Handle(req *packet.Packet) (packet.Fields, error) {
	frm, err := req.Uint("FRM")
	if err != nil {
		return nil, err
	}
	adr, err := req.Uint("ADR")
	if err != nil {
		return nil, err
	}
	inst, err := req.Uint("INST")
	if err != nil {
		return nil, err
	}
	data, err := req.Data()
	if err != nil {
		return nil, err
	}
	if !r.anyAddress && uint8(adr) != r.address && !isSpinelBroadcast(frm, uint8(adr)) {
		return nil, nil
	}

	r.mu.Lock()
	ack, reply := r.dispatch(uint8(inst), data)
	r.mu.Unlock()

	replyAdr := r.address
	if r.anyAddress || isSpinelBroadcast(frm, uint8(adr)) {
		replyAdr = uint8(adr)
	}
	fields := packet.Fields{
		"ADR":            packet.Uint(uint64(replyAdr)),
		"ACK":            packet.Uint(uint64(ack)),
		packet.DataField: packet.Bytes(reply),
	}
	if frm == spinel.Format66 {
		fields["ACK"] = packet.String(fmt.Sprintf("%X", ack))
	}
	return fields, nil
}

func (r *SpinelRegisters) dispatch(inst uint8, data []byte) (uint8, []byte) {
	if f, ok := r.funcs[inst]; ok {
		return f(data)
	}
	if get, ok := r.setters[inst]; ok {
		r.values[get] = append([]byte(nil), data...)
		return protocol.AckOK, nil
	}
	if v, ok := r.values[inst]; ok {
		return protocol.AckOK, v
	}
	return protocol.AckInvalidInstruction, nil
}

func isSpinelBroadcast(frm uint64, adr uint8) bool {
	if frm == spinel.Format66 {
		return adr == spinel.Address66Broadcast || adr == spinel.Address66Universal
	}
	return adr == spinel.Address97Broadcast || adr == spinel.Address97Universal
}

// QuidoRegisters emulates a Quido module with the given number of outputs
// (8, 16 or 32).
func QuidoRegisters(address uint8, outputs int) *SpinelRegisters {
	size := outputs / 8
	if size != 1 && size != 2 && size != 4 {
		size = 1
	}
	state := make([]byte, size)
	r := NewSpinelRegisters(address)
	r.Func(0x30, func([]byte) (uint8, []byte) {
		return protocol.AckOK, append([]byte(nil), state...)
	})
	r.Func(0x20, func(data []byte) (uint8, []byte) {
		for _, b := range data {
			n := int(b & 0x7F)
			if n < 1 || n > size*8 {
				return protocol.AckInvalidParameters, nil
			}
			idx := size - 1 - (n-1)/8
			bit := byte(1) << uint((n-1)%8)
			if b&0x80 != 0 {
				state[idx] |= bit
			} else {
				state[idx] &^= bit
			}
		}
		return protocol.AckOK, nil
	})
	return r
}

// AD4Registers emulates an AD4 module reporting a fixed valid reading on
// every channel.
func AD4Registers(address uint8, values [4]uint16) *SpinelRegisters {
	reading := make([]byte, 0, 16)
	for i, v := range values {
		reading = append(reading, byte(i+1), 0x80)
		reading = binary.BigEndian.AppendUint16(reading, v)
	}
	return NewSpinelRegisters(address).Set(0x51, reading)
}

// DAS1210Registers emulates a DAS1210 in its reset state. Every channel
// shares the same settings and sample memory; samples are a ramp.
func DAS1210Registers() *SpinelRegisters {
	r := NewSpinelRegisters(1).AnswerAll()
	r.Set(0x71, []byte{5}).Setter(0x70, 0x71)
	r.Set(0x73, []byte{1}).Setter(0x72, 0x73)
	r.Set(0x75, []byte{9}).Setter(0x74, 0x75)
	r.Set(0x77, binary.BigEndian.AppendUint32(nil, 524287)).Setter(0x76, 0x77)
	r.Set(0xF3, []byte("DAS1210 emulator"))
	r.Set(0xF5, []byte{1})
	r.Func(0x78, func([]byte) (uint8, []byte) { return protocol.AckOK, nil })
	r.Func(0x51, func(data []byte) (uint8, []byte) {
		if len(data) != 8 {
			return protocol.AckInvalidParameters, nil
		}
		offset := binary.BigEndian.Uint32(data[0:4])
		count := binary.BigEndian.Uint32(data[4:8])
		if count > 8192 {
			return protocol.AckInvalidParameters, nil
		}
		page := make([]byte, 0, 2*count)
		for i := uint32(0); i < count; i++ {
			page = binary.LittleEndian.AppendUint16(page, uint16(int16(offset+i)))
		}
		return protocol.AckOK, page
	})
	return r
}

// EchoValve emulates an EVR116 controller. It echoes every command line and
// answers position queries with the last position set.
type EchoValve struct {
	mu       sync.Mutex
	position int64
}

// NewEchoValve creates a closed valve.
func NewEchoValve() *EchoValve {
	return &EchoValve{position: 256}
}

// Position returns the last position set, in controller units.
func (v *EchoValve) Position() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.position
}

// Handle answers an EVR116 line.
func (v *EchoValve) Handle(req *packet.Packet) (packet.Fields, error) {
	id, err := req.Raw("IDENTIFIER")
	if err != nil {
		return nil, err
	}
	data, err := req.Data()
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	reply := data
	switch id[0] {
	case 'g':
		pos, err := strconv.ParseInt(string(data), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: position %q", protocol.ErrMalformed, data)
		}
		v.position = pos
	case 'p':
		reply = []byte(fmt.Sprintf("%04x", v.position))
	case 'x':
		v.position = 256
	case 'y':
		v.position = 3380
	}
	return packet.Fields{
		"IDENTIFIER":     packet.Bytes(id),
		packet.DataField: packet.Bytes(reply),
	}, nil
}

// PowerSupply emulates an AC250K unit.
type PowerSupply struct {
	mu      sync.Mutex
	address uint8
	voltage int
	output  bool
	ID      string
}

// NewPowerSupply creates a unit at address with the output off.
func NewPowerSupply(address uint8) *PowerSupply {
	return &PowerSupply{address: address, ID: "AC250K emulator rev 1"}
}

// State returns the set voltage and output state.
func (p *PowerSupply) State() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voltage, p.output
}

// Handle answers an AC250K request.
func (p *PowerSupply) Handle(req *packet.Packet) (packet.Fields, error) {
	adr, err := req.Uint("ADR")
	if err != nil {
		return nil, err
	}
	if uint8(adr) != p.address && adr != 0xFF {
		return nil, nil
	}
	data, err := req.Data()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := string(data)
	var reply string
	switch {
	case cmd == "NAP???":
		reply = fmt.Sprintf("NAP%03d", p.voltage)
	case strings.HasPrefix(cmd, "NAP"):
		v, err := strconv.Atoi(cmd[3:])
		if err != nil || len(cmd) != 6 {
			reply = "Err"
			break
		}
		p.voltage = v
		reply = "OK"
	case cmd == "OUT?":
		reply = "OUT0"
		if p.output {
			reply = "OUT1"
		}
	case cmd == "OUT1", cmd == "OUT0":
		p.output = cmd == "OUT1"
		reply = "OK"
	case cmd == "ID?":
		reply = p.ID
	default:
		reply = "Err"
	}
	return packet.Fields{
		"ADR":            packet.Uint(uint64(p.address)),
		packet.DataField: packet.String(reply),
	}, nil
}

// HandlerFor returns the built-in handler for an appliance, or for a bare
// protocol when appliance is empty.
func HandlerFor(appliance, protocolName string, address uint8) (Handler, error) {
	switch strings.ToLower(appliance) {
	case "quido":
		return QuidoRegisters(address, 8).Handle, nil
	case "ad4":
		return AD4Registers(address, [4]uint16{1000, 2000, 3000, 4000}).Handle, nil
	case "das1210":
		return DAS1210Registers().Handle, nil
	case "evr116":
		return NewEchoValve().Handle, nil
	case "ac250k":
		return NewPowerSupply(address).Handle, nil
	case "":
	default:
		return nil, fmt.Errorf("no emulator for appliance %q", appliance)
	}

	switch strings.ToLower(protocolName) {
	case "spinel97", "spinel66":
		return NewSpinelRegisters(address).Set(0xF3, []byte("dcpf emulator")).Handle, nil
	case "evr116":
		return NewEchoValve().Handle, nil
	case "ac250k":
		return NewPowerSupply(address).Handle, nil
	default:
		return nil, fmt.Errorf("no emulator for protocol %q", protocolName)
	}
}
