package spinel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
)

var (
	referenceRequest  = []byte{0x2A, 0x61, 0x00, 0x05, 0xFE, 0x02, 0x7F, 0xF0, 0x0D}
	referenceResponse = []byte{0x2A, 0x61, 0x00, 0x05, 0xFE, 0x02, 0x00, 0x6F, 0x0D}
)

func TestSpinel97ReferenceRequest(t *testing.T) {
	p, err := Spinel97{}.Encode(protocol.Request, packet.Fields{"INST": packet.Uint(0x7F)})
	require.NoError(t, err)
	assert.Equal(t, referenceRequest, p.Bytes())
}

func TestSpinel97ReferenceResponse(t *testing.T) {
	p, err := Spinel97{}.Encode(protocol.Response, packet.Fields{"ACK": packet.Uint(0)})
	require.NoError(t, err)
	assert.Equal(t, referenceResponse, p.Bytes())
	assert.NoError(t, Spinel97{}.Check(p, protocol.CheckOptions{}))
}

func TestChecksum97(t *testing.T) {
	tests := []struct {
		name string
		pkt  []byte
		want uint8
	}{
		{"reference request", referenceRequest, 0xF0},
		{"reference response", referenceResponse, 0x6F},
		{"sum wraps past 255", []byte{0xFF, 0xFF, 0xFF, 0, 0}, 0x02},
		{"zero sum", []byte{0, 0, 0, 0}, 0xFF},
		{"sum of exactly 255", []byte{0xFF, 0, 0}, 0x00},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Checksum97(tt.pkt))
		})
	}
}

func TestSpinel97RoundTrip(t *testing.T) {
	proto := Spinel97{}
	for _, dir := range []protocol.Direction{protocol.Request, protocol.Response} {
		code := "INST"
		if dir == protocol.Response {
			code = "ACK"
		}
		fields := packet.Fields{
			"ADR":            packet.Uint(0x31),
			code:             packet.Uint(0x51),
			packet.DataField: packet.Bytes([]byte{0x00, 0x0D, 0x2A, 0x10}),
		}
		p, err := proto.Encode(dir, fields)
		require.NoError(t, err)

		span, ok := proto.Locate(dir, p.Bytes(), 0)
		require.True(t, ok, dir.String())
		assert.Equal(t, protocol.Span{Start: 0, Length: p.Len()}, span)

		got, err := protocol.Decode(proto, dir, p.Bytes(), span)
		require.NoError(t, err)
		decoded, err := got.Decode()
		require.NoError(t, err)
		for name, want := range fields {
			assert.True(t, want.Equal(decoded[name]), "%s %s: want %v got %v", dir, name, want, decoded[name])
		}
		num, err := got.Uint("NUM")
		require.NoError(t, err)
		assert.Equal(t, uint64(p.Len()-4), num)
		sig, err := got.Uint("SIG")
		require.NoError(t, err)
		assert.Equal(t, uint64(DefaultSignature), sig)
	}
}

func TestSpinel97LocateAfterGarbage(t *testing.T) {
	buf := append([]byte{0x00, 0x13, '*', 'j', 'u', 'n', 'k', '\r', 0x55}, referenceResponse...)
	span, ok := Spinel97{}.Locate(protocol.Response, buf, 0)
	require.True(t, ok)
	assert.Equal(t, 9, span.Start)
	assert.Equal(t, 9, span.Length)
	assert.Equal(t, referenceResponse, buf[span.Start:span.End()])
}

func TestSpinel97LocateIncremental(t *testing.T) {
	proto := Spinel97{}
	for i := 1; i < len(referenceResponse); i++ {
		_, ok := proto.Locate(protocol.Response, referenceResponse[:i], 0)
		assert.False(t, ok, "prefix of %d bytes must be incomplete", i)
	}
	span, ok := proto.Locate(protocol.Response, referenceResponse, 0)
	require.True(t, ok)
	assert.Equal(t, protocol.Span{Start: 0, Length: len(referenceResponse)}, span)
}

func TestSpinel97LocateSkipsLengthMismatch(t *testing.T) {
	tests := []struct {
		name   string
		prefix []byte
	}{
		{"declared end is not CR", []byte{'*', 0x61, 0x00, 0x06, 1, 2, 3, 4, 5, 6, '\r'}},
		{"declared length too short", []byte{'*', 0x61, 0x00, 0x03, 1, 2, 3, 4, 5, '\r'}},
		{"declared end past buffer", []byte{'*', 0x61, 0x7F, 0xFF, 1, 2, 3, 4, 5, '\r'}},
		{"stray prefix byte", []byte{'*', '*', 0x00, 0x05, '\r', 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := append(append([]byte{}, tt.prefix...), referenceRequest...)
			span, ok := Spinel97{}.Locate(protocol.Request, buf, 0)
			require.True(t, ok)
			assert.Equal(t, referenceRequest, buf[span.Start:span.End()])
			assert.Equal(t, len(tt.prefix), span.Start)
		})
	}
}

func TestSpinel97LocateNoFalsePositive(t *testing.T) {
	buf := []byte{'*', 0x61, 0x00, 0x06, 1, 2, 3, 4, 5, 6, '\r', '*', 0x61, 0x00}
	_, ok := Spinel97{}.Locate(protocol.Response, buf, 0)
	assert.False(t, ok)
}

func TestSpinel97LocateFromOffset(t *testing.T) {
	buf := append(append([]byte{}, referenceRequest...), referenceResponse...)
	span, ok := Spinel97{}.Locate(protocol.Response, buf, 1)
	require.True(t, ok)
	assert.Equal(t, len(referenceRequest), span.Start)

	_, ok = Spinel97{}.Locate(protocol.Response, buf, len(buf))
	assert.False(t, ok)
}

func TestSpinel97AckErrors(t *testing.T) {
	proto := Spinel97{}
	p, err := proto.Encode(protocol.Response, packet.Fields{"ADR": packet.Uint(0x31), "ACK": packet.Uint(5)})
	require.NoError(t, err)

	err = proto.Check(p, protocol.CheckOptions{})
	var ackErr *protocol.AckError
	require.True(t, errors.As(err, &ackErr))
	assert.Equal(t, uint8(5), ackErr.Code)
	assert.Equal(t, "Device malfunction", ackErr.Description)
	assert.ErrorIs(t, err, protocol.ErrAck)
	assert.Equal(t, "Non-zero acknowledgment code 0x05: Device malfunction", err.Error())
}

func TestSpinel97AcceptAcks(t *testing.T) {
	proto := Spinel97{}
	p, err := proto.Encode(protocol.Response, packet.Fields{"ADR": packet.Uint(0x31), "ACK": packet.Uint(uint64(protocol.AckInputStateChange))})
	require.NoError(t, err)
	assert.Error(t, proto.Check(p, protocol.CheckOptions{}))
	assert.NoError(t, proto.Check(p, protocol.CheckOptions{AcceptAcks: []uint8{protocol.AckInputStateChange}}))
}

func TestSpinel97ChecksumBeforeAck(t *testing.T) {
	proto := Spinel97{}
	p, err := proto.Encode(protocol.Response, packet.Fields{"ADR": packet.Uint(0x31), "ACK": packet.Uint(5)})
	require.NoError(t, err)
	require.NoError(t, p.Set("SUMA", packet.Uint(0x00)))

	err = proto.Check(p, protocol.CheckOptions{})
	var sumErr *protocol.ChecksumError
	require.True(t, errors.As(err, &sumErr), "got %v", err)
	assert.Equal(t, uint8(0), sumErr.Actual)
	assert.Equal(t, Checksum97(p.Bytes()), sumErr.Expected)

	err = proto.Check(p, protocol.CheckOptions{SkipChecksum: true})
	assert.ErrorIs(t, err, protocol.ErrAck)
}

func TestSpinel97RequestCheckIgnoresInstruction(t *testing.T) {
	p, err := Spinel97{}.Encode(protocol.Request, packet.Fields{"INST": packet.Uint(5)})
	require.NoError(t, err)
	assert.NoError(t, Spinel97{}.Check(p, protocol.CheckOptions{}))
}

func TestSpinel97ExpectsReply(t *testing.T) {
	tests := []struct {
		name   string
		fields packet.Fields
		want   bool
	}{
		{"default universal address", packet.Fields{}, false},
		{"broadcast", packet.Fields{"ADR": packet.Uint(0xFF)}, false},
		{"universal", packet.Fields{"ADR": packet.Uint(0xFE)}, false},
		{"module address", packet.Fields{"ADR": packet.Uint(0x31)}, true},
		{"character address", packet.Fields{"ADR": packet.String("1")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Spinel97{}.ExpectsReply(tt.fields))
		})
	}
}

func TestSpinel66Encode(t *testing.T) {
	p, err := Spinel66{}.Encode(protocol.Request, packet.Fields{
		"ADR":            packet.String("1"),
		"INST":           packet.String("T"),
		packet.DataField: packet.String("?"),
	})
	require.NoError(t, err)
	assert.Equal(t, "*B1T?\r", string(p.Bytes()))
}

func TestSpinel66LocateAndCheck(t *testing.T) {
	tests := []struct {
		name    string
		stream  string
		ack     uint8
		wantErr bool
	}{
		{"ok", "xx*B10DATA\r", 0, false},
		{"hex digit error", "*B15\r", 5, true},
		{"hex letter notification", "*B1E\r", 0x0E, true},
		{"raw byte code", "*B1\x0f\r", 0x0F, true},
		{"unknown character", "*B1x\r", 'x', true},
	}
	proto := Spinel66{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := []byte(tt.stream)
			span, ok := proto.Locate(protocol.Response, buf, 0)
			require.True(t, ok)
			p, err := protocol.Decode(proto, protocol.Response, buf, span)
			require.NoError(t, err)
			err = proto.Check(p, protocol.CheckOptions{})
			if !tt.wantErr {
				assert.NoError(t, err)
				data, err := proto.Payload(p)
				require.NoError(t, err)
				assert.Equal(t, "DATA", string(data))
				return
			}
			var ackErr *protocol.AckError
			require.True(t, errors.As(err, &ackErr), "got %v", err)
			assert.Equal(t, tt.ack, ackErr.Code)
		})
	}
}

func TestSpinel66UnknownAckMessage(t *testing.T) {
	buf := []byte("*B1x\r")
	p, err := protocol.Decode(Spinel66{}, protocol.Response, buf, protocol.Span{Start: 0, Length: len(buf)})
	require.NoError(t, err)
	err = Spinel66{}.Check(p, protocol.CheckOptions{})
	require.Error(t, err)
	assert.Equal(t, "Unknown acknowledgment code 0x78", err.Error())
}

func TestSpinel66Incomplete(t *testing.T) {
	proto := Spinel66{}
	for _, s := range []string{"", "noise", "*B10", "\r\r*"} {
		_, ok := proto.Locate(protocol.Response, []byte(s), 0)
		assert.False(t, ok, "%q", s)
	}
}

func TestSpinel66ExpectsReply(t *testing.T) {
	proto := Spinel66{}
	assert.False(t, proto.ExpectsReply(packet.Fields{}))
	assert.False(t, proto.ExpectsReply(packet.Fields{"ADR": packet.String("%")}))
	assert.False(t, proto.ExpectsReply(packet.Fields{"ADR": packet.String("$")}))
	assert.True(t, proto.ExpectsReply(packet.Fields{"ADR": packet.String("1")}))
}

// assertRoundTrip encodes fields, locates and decodes the packet again and
// checks that every given field reads back unchanged and that the decoded
// fields encode to the same bytes.
func assertRoundTrip(t *testing.T, proto protocol.Protocol, dir protocol.Direction, fields packet.Fields) packet.Fields {
	t.Helper()
	p, err := proto.Encode(dir, fields)
	require.NoError(t, err)
	span, ok := proto.Locate(dir, p.Bytes(), 0)
	require.True(t, ok, "%s %q not located", dir, p.Bytes())
	assert.Equal(t, protocol.Span{Start: 0, Length: p.Len()}, span)

	got, err := protocol.Decode(proto, dir, p.Bytes(), span)
	require.NoError(t, err)
	decoded, err := got.Decode()
	require.NoError(t, err)
	for name, want := range fields {
		assert.True(t, want.Equal(decoded[name]), "%s %s: want %v got %v", dir, name, want, decoded[name])
	}

	again, err := proto.Encode(dir, decoded)
	require.NoError(t, err)
	assert.Equal(t, p.Bytes(), again.Bytes())
	return decoded
}

func TestSpinel66RoundTrip(t *testing.T) {
	proto := Spinel66{}
	for _, dir := range []protocol.Direction{protocol.Request, protocol.Response} {
		code := "INST"
		if dir == protocol.Response {
			code = "ACK"
		}
		assertRoundTrip(t, proto, dir, packet.Fields{
			"ADR":            packet.String("1"),
			code:             packet.String("T"),
			packet.DataField: packet.Bytes([]byte{0x00, '*', 0x7F}),
		})
	}
}

func TestSpinel66DefaultsRoundTrip(t *testing.T) {
	decoded := assertRoundTrip(t, Spinel66{}, protocol.Request, packet.Fields{"INST": packet.String("0")})
	want := packet.Fields{
		"PRE": packet.String("*"),
		"FRM": packet.Uint(Format66),
		"ADR": packet.String("$"),
		"CR":  packet.String("\r"),
	}
	for name, v := range want {
		assert.True(t, v.Equal(decoded[name]), "%s: want %v got %v", name, v, decoded[name])
	}
}

func TestSpinel97DefaultsRoundTrip(t *testing.T) {
	decoded := assertRoundTrip(t, Spinel97{}, protocol.Request, packet.Fields{"INST": packet.Uint(0x7F)})
	want := packet.Fields{
		"PRE": packet.String("*"),
		"FRM": packet.Uint(Format97),
		"ADR": packet.Uint(Address97Universal),
		"SIG": packet.Uint(DefaultSignature),
		"CR":  packet.String("\r"),
	}
	for name, v := range want {
		assert.True(t, v.Equal(decoded[name]), "%s: want %v got %v", name, v, decoded[name])
	}
}
