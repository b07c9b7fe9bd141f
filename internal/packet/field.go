package packet

// Field descriptors and field values.
//
// A Field describes where a named value lives inside a packet. Offsets may be
// negative, in which case they are measured from the end of the packet. This is
// how trailing fields (checksum, terminator) are described before the total
// packet length is known.

import (
	"encoding/binary"
	"fmt"
)

// Kind selects how a field's bytes are interpreted.
type Kind int

const (
	// KindBytes is a fixed-width byte range copied verbatim.
	KindBytes Kind = iota
	// KindUint is a fixed-width unsigned integer in a declared byte order.
	KindUint
	// KindHex is an unsigned integer written as Width ASCII hex digits.
	KindHex
	// KindRange is a variable-length range ending at End (usually DATA).
	KindRange
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindUint:
		return "uint"
	case KindHex:
		return "hex"
	case KindRange:
		return "range"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Field describes one named field of a packet schema.
type Field struct {
	Name   string
	Offset int
	Kind   Kind
	Width  int              // bytes (KindBytes, KindUint) or digits (KindHex)
	End    int              // KindRange only; negative is relative to the packet end
	Order  binary.ByteOrder // KindUint only; nil means big-endian
}

// Fixed declares a fixed-width byte field.
func Fixed(name string, offset, width int) Field {
	return Field{Name: name, Offset: offset, Kind: KindBytes, Width: width}
}

// Code declares a numeric field of the given width and byte order.
func Code(name string, offset, width int, order binary.ByteOrder) Field {
	return Field{Name: name, Offset: offset, Kind: KindUint, Width: width, Order: order}
}

// Code8 declares a single-byte numeric field.
func Code8(name string, offset int) Field {
	return Code(name, offset, 1, binary.BigEndian)
}

// Code16 declares a big-endian 16-bit numeric field.
func Code16(name string, offset int) Field {
	return Code(name, offset, 2, binary.BigEndian)
}

// Hex declares a numeric field encoded as upper-case ASCII hex digits.
func Hex(name string, offset, digits int) Field {
	return Field{Name: name, Offset: offset, Kind: KindHex, Width: digits}
}

// Range declares a variable-length field spanning [offset, end).
func Range(name string, offset, end int) Field {
	return Field{Name: name, Offset: offset, Kind: KindRange, End: end}
}

// fixedWidth reports the number of bytes the field adds to a schema's
// minimum length. Range fields add nothing.
func (f Field) fixedWidth() int {
	if f.Kind == KindRange {
		return 0
	}
	return f.Width
}

func (f Field) order() binary.ByteOrder {
	if f.Order == nil {
		return binary.BigEndian
	}
	return f.Order
}

func (f Field) validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: empty field name", ErrInvalidField)
	}
	switch f.Kind {
	case KindBytes:
		if f.Width <= 0 {
			return fmt.Errorf("%w: %s: width must be > 0", ErrInvalidField, f.Name)
		}
	case KindUint:
		switch f.Width {
		case 1, 2, 4, 8:
		default:
			return fmt.Errorf("%w: %s: numeric width %d not in {1,2,4,8}", ErrInvalidField, f.Name, f.Width)
		}
	case KindHex:
		if f.Width <= 0 || f.Width > 16 {
			return fmt.Errorf("%w: %s: hex width %d not in [1,16]", ErrInvalidField, f.Name, f.Width)
		}
	case KindRange:
		if f.Offset >= 0 && f.End >= 0 && f.End < f.Offset {
			return fmt.Errorf("%w: %s: end %d before offset %d", ErrInvalidField, f.Name, f.End, f.Offset)
		}
		if f.Offset < 0 && f.End < 0 && f.End < f.Offset {
			return fmt.Errorf("%w: %s: end %d before offset %d", ErrInvalidField, f.Name, f.End, f.Offset)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s: unknown kind %d", ErrInvalidField, f.Name, int(f.Kind))
	}
	if f.Offset < 0 && f.Offset+f.Width > 0 {
		return fmt.Errorf("%w: %s: tail field runs past packet end", ErrInvalidField, f.Name)
	}
	return nil
}

// resolve maps the field onto absolute buffer indexes for a packet window.
func (f Field) resolve(start, length int) (lo, hi int) {
	lo = anchor(f.Offset, start, length)
	if f.Kind == KindRange {
		return lo, anchor(f.End, start, length)
	}
	return lo, lo + f.Width
}

func anchor(offset, start, length int) int {
	if offset >= 0 {
		return start + offset
	}
	return start + length + offset
}

// Value is a field value: either raw bytes or an unsigned number.
type Value struct {
	raw     []byte
	num     uint64
	numeric bool
}

// Fields maps field names to values.
type Fields map[string]Value

// Bytes returns a byte value. The slice is copied.
func Bytes(b []byte) Value {
	buf := make([]byte, len(b))
	copy(buf, b)
	return Value{raw: buf}
}

// String returns a byte value holding s.
func String(s string) Value {
	return Value{raw: []byte(s)}
}

// Uint returns a numeric value.
func Uint(n uint64) Value {
	return Value{num: n, numeric: true}
}

// IsNumeric reports whether the value was created with Uint.
func (v Value) IsNumeric() bool { return v.numeric }

// Raw returns the byte content of a byte value.
func (v Value) Raw() []byte { return v.raw }

// Num returns the numeric content of a numeric value.
func (v Value) Num() uint64 { return v.num }

// Equal reports whether two values hold the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.numeric != o.numeric {
		return false
	}
	if v.numeric {
		return v.num == o.num
	}
	return string(v.raw) == string(o.raw)
}

func (v Value) String() string {
	if v.numeric {
		return fmt.Sprintf("%d", v.num)
	}
	return fmt.Sprintf("%q", v.raw)
}
