// Package spinel implements the Spinel-66 and Spinel-97 framings.
//
// Both formats start with '*' and end with CR. Spinel-66 is character based;
// Spinel-97 carries a big-endian byte count and a one-byte checksum, which
// lets the framer reject a stray '*' in the stream.
package spinel

import (
	"bytes"

	"github.com/tturner/dcpf/internal/packet"
)

const (
	Prefix     = '*'
	Terminator = '\r'
)

// Common is the layout shared by every Spinel format.
var Common = packet.MustSchema("spinel",
	packet.Fixed("PRE", 0, 1),
	packet.Code8("FRM", 1),
	packet.Fixed("CR", -1, 1),
)

// locateCommon returns the first '*' at or after from and the next CR after
// it.
func locateCommon(buf []byte, from int) (start, length int, ok bool) {
	if from < 0 {
		from = 0
	}
	if from >= len(buf) {
		return 0, 0, false
	}
	i := bytes.IndexByte(buf[from:], Prefix)
	if i < 0 {
		return 0, 0, false
	}
	start = from + i
	j := bytes.IndexByte(buf[start:], Terminator)
	if j < 0 {
		return 0, 0, false
	}
	return start, j + 1, true
}

// addressValue extracts a single-byte address from a field value regardless
// of whether it was given as a number or a character.
func addressValue(v packet.Value) (byte, bool) {
	if v.IsNumeric() {
		if v.Num() > 0xFF {
			return 0, false
		}
		return byte(v.Num()), true
	}
	if len(v.Raw()) != 1 {
		return 0, false
	}
	return v.Raw()[0], true
}
