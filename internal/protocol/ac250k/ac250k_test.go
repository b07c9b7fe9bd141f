package ac250k

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
)

func TestEncodeRequest(t *testing.T) {
	p, err := AC250K{}.Encode(protocol.Request, packet.Fields{
		"ADR":            packet.Uint(10),
		packet.DataField: packet.String("ID?"),
	})
	require.NoError(t, err)
	// 0x30+0x41+0x49+0x44+0x3F = 0x13D
	assert.Equal(t, "@0AID?3D\r", string(p.Bytes()))
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		pkt  string
		want uint8
	}{
		{"empty data", "@00" + "00\r", 0x60},
		{"identification", "@0AID?3D\r", 0x3D},
		{"voltage", "@01NAP230" + "00\r", 0xD5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Checksum([]byte(tt.pkt)))
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	proto := AC250K{}
	p, err := proto.Encode(protocol.Response, packet.Fields{
		"ADR":            packet.Uint(1),
		packet.DataField: packet.String("NAP230"),
	})
	require.NoError(t, err)
	assert.Equal(t, byte('#'), p.Bytes()[0])

	stream := append([]byte("\x00garbage@01X"), p.Bytes()...)
	span, ok := proto.Locate(protocol.Response, stream, 0)
	require.True(t, ok)
	got, err := protocol.Decode(proto, protocol.Response, stream, span)
	require.NoError(t, err)
	require.NoError(t, proto.Check(got, protocol.CheckOptions{}))

	adr, err := got.Uint("ADR")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), adr)
	data, err := proto.Payload(got)
	require.NoError(t, err)
	assert.Equal(t, "NAP230", string(data))
}

func TestLocateIncomplete(t *testing.T) {
	proto := AC250K{}
	for _, s := range []string{"", "#01OK", "@01OK00\r", "OK\r"} {
		_, ok := proto.Locate(protocol.Response, []byte(s), 0)
		assert.False(t, ok, "%q", s)
	}
	_, ok := proto.Locate(protocol.Request, []byte("@01OK00\r"), 0)
	assert.True(t, ok)
}

func TestCheckRejectsBadChecksum(t *testing.T) {
	buf := []byte("#01OK00\r")
	p, err := protocol.Decode(AC250K{}, protocol.Response, buf, protocol.Span{Start: 0, Length: len(buf)})
	require.NoError(t, err)

	err = AC250K{}.Check(p, protocol.CheckOptions{})
	var sumErr *protocol.ChecksumError
	require.True(t, errors.As(err, &sumErr))
	assert.Equal(t, Checksum(buf), sumErr.Expected)
	assert.Equal(t, uint8(0), sumErr.Actual)

	assert.NoError(t, AC250K{}.Check(p, protocol.CheckOptions{SkipChecksum: true}))
}

func TestCheckAcceptsLowerCaseChecksum(t *testing.T) {
	// '0'+'1'+'O'+'K' = 0x30+0x31+0x4F+0x4B = 0xFB
	buf := []byte("#01OKfb\r")
	p, err := protocol.Decode(AC250K{}, protocol.Response, buf, protocol.Span{Start: 0, Length: len(buf)})
	require.NoError(t, err)
	assert.NoError(t, AC250K{}.Check(p, protocol.CheckOptions{}))
}

func TestExpectsReply(t *testing.T) {
	proto := AC250K{}
	assert.False(t, proto.ExpectsReply(packet.Fields{}))
	assert.False(t, proto.ExpectsReply(packet.Fields{"ADR": packet.Uint(BroadcastAddress)}))
	assert.True(t, proto.ExpectsReply(packet.Fields{"ADR": packet.Uint(3)}))
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

func TestRoundTrip(t *testing.T) {
	for _, dir := range []protocol.Direction{protocol.Request, protocol.Response} {
		assertRoundTrip(t, AC250K{}, dir, packet.Fields{
			"ADR":            packet.Uint(0x1F),
			packet.DataField: packet.String("NAP230"),
		})
	}
}

func TestDefaultsRoundTrip(t *testing.T) {
	for dir, start := range map[protocol.Direction]string{protocol.Request: "@", protocol.Response: "#"} {
		decoded := assertRoundTrip(t, AC250K{}, dir, packet.Fields{packet.DataField: packet.String("ID?")})
		want := packet.Fields{
			"INIT": packet.String(start),
			"ADR":  packet.Uint(BroadcastAddress),
			"CR":   packet.String("\r"),
		}
		for name, v := range want {
			assert.True(t, v.Equal(decoded[name]), "%s %s: want %v got %v", dir, name, v, decoded[name])
		}
	}
}

func TestExpectsReplyHexAddress(t *testing.T) {
	proto := AC250K{}
	assert.False(t, proto.ExpectsReply(packet.Fields{"ADR": packet.String("FF")}))
	assert.False(t, proto.ExpectsReply(packet.Fields{"ADR": packet.String("ff")}))
	assert.True(t, proto.ExpectsReply(packet.Fields{"ADR": packet.String("01")}))

	p, err := proto.Encode(protocol.Request, packet.Fields{"ADR": packet.String("ff"), packet.DataField: packet.String("OUT1")})
	require.NoError(t, err)
	adr, err := p.Uint("ADR")
	require.NoError(t, err)
	assert.Equal(t, uint64(BroadcastAddress), adr)
}

func TestEncodeRejectsInvalidAddress(t *testing.T) {
	for _, adr := range []packet.Value{packet.String("G1"), packet.String("1"), packet.Uint(0x100)} {
		_, err := AC250K{}.Encode(protocol.Request, packet.Fields{"ADR": adr})
		assert.ErrorIs(t, err, protocol.ErrMalformed, "address %v", adr)
	}
}
