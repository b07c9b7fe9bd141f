// Package packet describes packet byte layouts declaratively and reads or
// writes named fields inside a packet window.
//
// A Packet is a window [start, start+length) over a byte buffer plus the
// schema used to interpret it. Outbound packets own a freshly allocated
// buffer; inbound packets are views over a receive buffer and must be
// cloned before the buffer is reused.
package packet

import "fmt"

// DataField is the conventional name of the variable-length payload field.
const DataField = "DATA"

// Packet is a schema-typed window over a byte buffer.
type Packet struct {
	buf    []byte
	start  int
	length int
	schema *Schema
}

// Build allocates a packet for the given field values. The total length is
// the schema minimum plus the length of the variable field value, if any.
// Fields not present in values are left zero.
func Build(s *Schema, values Fields) (*Packet, error) {
	total := s.minLength
	for name, v := range values {
		f, err := s.lookup(name)
		if err != nil {
			return nil, err
		}
		if f.Kind == KindRange {
			if v.numeric {
				return nil, fmt.Errorf("%w: %s: numeric value for variable field", ErrFieldValue, name)
			}
			total += len(v.raw)
		}
	}
	p := &Packet{buf: make([]byte, total), length: total, schema: s}
	for _, name := range s.order {
		v, ok := values[name]
		if !ok {
			continue
		}
		if err := p.Set(name, v); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// View wraps an existing buffer window without copying.
func View(s *Schema, buf []byte, start, length int) (*Packet, error) {
	if err := checkWindow(buf, start, length); err != nil {
		return nil, err
	}
	if length < s.minLength {
		return nil, &OutOfBoundsError{Field: s.name, Lo: start, Hi: start + s.minLength, Start: start, Length: length, BufLen: len(buf)}
	}
	return &Packet{buf: buf, start: start, length: length, schema: s}, nil
}

// Schema returns the packet schema.
func (p *Packet) Schema() *Schema { return p.schema }

// Start returns the window start inside the backing buffer.
func (p *Packet) Start() int { return p.start }

// Len returns the packet length in bytes.
func (p *Packet) Len() int { return p.length }

// Bytes returns the packet window. The slice aliases the backing buffer.
func (p *Packet) Bytes() []byte { return p.buf[p.start : p.start+p.length] }

// Buffer returns the backing buffer.
func (p *Packet) Buffer() []byte { return p.buf }

// Has reports whether the packet schema defines name.
func (p *Packet) Has(name string) bool { return p.schema.Has(name) }

// Get reads a field value.
func (p *Packet) Get(name string) (Value, error) {
	return p.schema.Get(p.buf, p.start, p.length, name)
}

// Set writes a field value.
func (p *Packet) Set(name string, v Value) error {
	return p.schema.Set(p.buf, p.start, p.length, name, v)
}

// Raw returns a copy of a field's bytes.
func (p *Packet) Raw(name string) ([]byte, error) {
	f, err := p.schema.lookup(name)
	if err != nil {
		return nil, err
	}
	lo, hi, err := p.schema.span(f, p.buf, p.start, p.length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, hi-lo)
	copy(out, p.buf[lo:hi])
	return out, nil
}

// Uint reads a numeric field.
func (p *Packet) Uint(name string) (uint64, error) {
	v, err := p.Get(name)
	if err != nil {
		return 0, err
	}
	if !v.numeric {
		if len(v.raw) == 1 {
			return uint64(v.raw[0]), nil
		}
		return 0, fmt.Errorf("%w: %s is not numeric", ErrFieldValue, name)
	}
	return v.num, nil
}

// Data returns a copy of the DATA field, or nil when the schema has none.
func (p *Packet) Data() ([]byte, error) {
	if !p.schema.Has(DataField) {
		return nil, nil
	}
	return p.Raw(DataField)
}

// Decode reads every field of the schema. Fixed-width fields decode as
// bytes, so a number written into a one-byte field reads back as that byte.
func (p *Packet) Decode() (Fields, error) {
	out := make(Fields, len(p.schema.order))
	for _, name := range p.schema.order {
		v, err := p.Get(name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// Clone copies the packet window into an owned buffer.
func (p *Packet) Clone() *Packet {
	buf := make([]byte, p.length)
	copy(buf, p.Bytes())
	return &Packet{buf: buf, length: p.length, schema: p.schema}
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s[% X]", p.schema.name, p.Bytes())
}
