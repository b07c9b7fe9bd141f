package packet

import (
	"fmt"
	"strconv"
	"strings"
)

// Schema is the named set of field descriptors for one protocol direction.
// Schemas are immutable once built; use Extend to derive a new one.
type Schema struct {
	name      string
	fields    map[string]Field
	order     []string
	minLength int
}

// NewSchema builds a schema from the given fields.
func NewSchema(name string, fields ...Field) (*Schema, error) {
	s := &Schema{name: name, fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		if err := s.add(f); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. It is meant for
// package-level schema tables.
func MustSchema(name string, fields ...Field) *Schema {
	s, err := NewSchema(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Extend returns a new schema holding the receiver's fields plus the given
// ones. A field whose name already exists replaces the inherited descriptor.
func (s *Schema) Extend(name string, fields ...Field) (*Schema, error) {
	out := &Schema{
		name:      name,
		fields:    make(map[string]Field, len(s.fields)+len(fields)),
		order:     append([]string(nil), s.order...),
		minLength: s.minLength,
	}
	for k, v := range s.fields {
		out.fields[k] = v
	}
	for _, f := range fields {
		if err := out.add(f); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
	}
	return out, nil
}

// MustExtend is like Extend but panics on error.
func (s *Schema) MustExtend(name string, fields ...Field) *Schema {
	out, err := s.Extend(name, fields...)
	if err != nil {
		panic(err)
	}
	return out
}

func (s *Schema) add(f Field) error {
	if err := f.validate(); err != nil {
		return err
	}
	if old, ok := s.fields[f.Name]; ok {
		s.minLength -= old.fixedWidth()
		delete(s.fields, f.Name)
	} else {
		s.order = append(s.order, f.Name)
	}
	for _, other := range s.fields {
		if overlaps(f, other) {
			return fmt.Errorf("%w: %s and %s", ErrOverlap, f.Name, other.Name)
		}
	}
	s.fields[f.Name] = f
	s.minLength += f.fixedWidth()
	return nil
}

// overlaps reports whether two descriptors can share bytes. Fixed fields are
// compared when anchored at the same end of the packet; a range field claims
// everything from its offset to its end on the side each bound is anchored to.
func overlaps(a, b Field) bool {
	if a.Kind == KindRange && b.Kind == KindRange {
		return true
	}
	if b.Kind == KindRange {
		a, b = b, a
	}
	if a.Kind == KindRange {
		if b.Offset >= 0 && a.Offset >= 0 && b.Offset+b.Width > a.Offset {
			return true
		}
		if b.Offset < 0 && a.End < 0 && b.Offset < a.End {
			return true
		}
		return false
	}
	if (a.Offset >= 0) != (b.Offset >= 0) {
		return false
	}
	return a.Offset < b.Offset+b.Width && b.Offset < a.Offset+a.Width
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// MinLength is the packet length with an empty variable-length field.
func (s *Schema) MinLength() int { return s.minLength }

// Field returns the descriptor registered under name.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Has reports whether the schema defines name.
func (s *Schema) Has(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// Fields returns the descriptors in registration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.fields[name])
	}
	return out
}

func (s *Schema) lookup(name string) (Field, error) {
	f, ok := s.fields[name]
	if !ok {
		return Field{}, fmt.Errorf("%w: %s (schema %s)", ErrUnknownField, name, s.name)
	}
	return f, nil
}

func checkWindow(buf []byte, start, length int) error {
	if start < 0 || length < 0 || start+length > len(buf) {
		return &OutOfBoundsError{Start: start, Length: length, BufLen: len(buf)}
	}
	return nil
}

func (s *Schema) span(f Field, buf []byte, start, length int) (int, int, error) {
	if err := checkWindow(buf, start, length); err != nil {
		return 0, 0, err
	}
	lo, hi := f.resolve(start, length)
	if lo < start || hi > start+length || hi < lo {
		return 0, 0, &OutOfBoundsError{Field: f.Name, Lo: lo, Hi: hi, Start: start, Length: length, BufLen: len(buf)}
	}
	return lo, hi, nil
}

// Get reads a field from the packet window [start, start+length) of buf.
func (s *Schema) Get(buf []byte, start, length int, name string) (Value, error) {
	f, err := s.lookup(name)
	if err != nil {
		return Value{}, err
	}
	lo, hi, err := s.span(f, buf, start, length)
	if err != nil {
		return Value{}, err
	}
	b := buf[lo:hi]
	switch f.Kind {
	case KindUint:
		switch f.Width {
		case 1:
			return Uint(uint64(b[0])), nil
		case 2:
			return Uint(uint64(f.order().Uint16(b))), nil
		case 4:
			return Uint(uint64(f.order().Uint32(b))), nil
		default:
			return Uint(f.order().Uint64(b)), nil
		}
	case KindHex:
		n, err := strconv.ParseUint(string(b), 16, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s: %q is not hex", ErrFieldValue, f.Name, b)
		}
		return Uint(n), nil
	default:
		return Bytes(b), nil
	}
}

// Set writes a field into the packet window [start, start+length) of buf.
func (s *Schema) Set(buf []byte, start, length int, name string, v Value) error {
	f, err := s.lookup(name)
	if err != nil {
		return err
	}
	lo, hi, err := s.span(f, buf, start, length)
	if err != nil {
		return err
	}
	dst := buf[lo:hi]
	switch f.Kind {
	case KindBytes:
		if v.numeric {
			if f.Width != 1 || v.num > 0xFF {
				return fmt.Errorf("%w: %s: numeric %d for %d-byte field", ErrFieldValue, f.Name, v.num, f.Width)
			}
			dst[0] = byte(v.num)
			return nil
		}
		if len(v.raw) != f.Width {
			return fmt.Errorf("%w: %s: got %d bytes, want %d", ErrFieldValue, f.Name, len(v.raw), f.Width)
		}
		copy(dst, v.raw)
	case KindRange:
		if v.numeric {
			return fmt.Errorf("%w: %s: numeric value for variable field", ErrFieldValue, f.Name)
		}
		if len(v.raw) != len(dst) {
			return fmt.Errorf("%w: %s: got %d bytes, window holds %d", ErrFieldValue, f.Name, len(v.raw), len(dst))
		}
		copy(dst, v.raw)
	case KindUint:
		if !v.numeric {
			if len(v.raw) != f.Width {
				return fmt.Errorf("%w: %s: got %d bytes, want %d", ErrFieldValue, f.Name, len(v.raw), f.Width)
			}
			copy(dst, v.raw)
			return nil
		}
		if f.Width < 8 && v.num>>(8*uint(f.Width)) != 0 {
			return fmt.Errorf("%w: %s: %d does not fit %d bytes", ErrFieldValue, f.Name, v.num, f.Width)
		}
		switch f.Width {
		case 1:
			dst[0] = byte(v.num)
		case 2:
			f.order().PutUint16(dst, uint16(v.num))
		case 4:
			f.order().PutUint32(dst, uint32(v.num))
		default:
			f.order().PutUint64(dst, v.num)
		}
	case KindHex:
		if !v.numeric {
			if len(v.raw) != f.Width {
				return fmt.Errorf("%w: %s: got %d bytes, want %d", ErrFieldValue, f.Name, len(v.raw), f.Width)
			}
			copy(dst, v.raw)
			return nil
		}
		digits := strings.ToUpper(strconv.FormatUint(v.num, 16))
		if len(digits) > f.Width {
			return fmt.Errorf("%w: %s: %d does not fit %d hex digits", ErrFieldValue, f.Name, v.num, f.Width)
		}
		copy(dst, strings.Repeat("0", f.Width-len(digits))+digits)
	}
	return nil
}
