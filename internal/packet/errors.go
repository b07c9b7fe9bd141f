package packet

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfBounds  = errors.New("packet: field out of bounds")
	ErrUnknownField = errors.New("packet: unknown field")
	ErrFieldValue   = errors.New("packet: invalid field value")
	ErrInvalidField = errors.New("packet: invalid field descriptor")
	ErrOverlap      = errors.New("packet: overlapping fields")
)

// OutOfBoundsError reports a field that resolves outside its packet window or
// the backing buffer. It indicates a schema or framing defect.
type OutOfBoundsError struct {
	Field  string
	Lo, Hi int
	Start  int
	Length int
	BufLen int
}

func (e *OutOfBoundsError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("packet: window [%d,%d) outside buffer of %d bytes",
			e.Start, e.Start+e.Length, e.BufLen)
	}
	return fmt.Sprintf("packet: field %s range [%d,%d) outside window [%d,%d) (buffer %d bytes)",
		e.Field, e.Lo, e.Hi, e.Start, e.Start+e.Length, e.BufLen)
}

func (e *OutOfBoundsError) Unwrap() error { return ErrOutOfBounds }
