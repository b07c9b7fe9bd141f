package evr116

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name   string
		fields packet.Fields
		want   string
	}{
		{"defaults", packet.Fields{}, "v?\r\n"},
		{"set position", packet.Fields{"IDENTIFIER": packet.String("g"), packet.DataField: packet.String("c80")}, "gc80\r\n"},
		{"numeric identifier", packet.Fields{"IDENTIFIER": packet.Uint('p')}, "p?\r\n"},
		{"empty data", packet.Fields{"IDENTIFIER": packet.String("y"), packet.DataField: packet.String("")}, "y\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := EVR116{}.Encode(protocol.Request, tt.fields)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(p.Bytes()))
		})
	}
}

func TestEncodeRejectsUnknownCommand(t *testing.T) {
	_, err := EVR116{}.Encode(protocol.Request, packet.Fields{"IDENTIFIER": packet.String("q")})
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestLocate(t *testing.T) {
	tests := []struct {
		name    string
		stream  string
		from    int
		want    string
		payload string
		found   bool
	}{
		{"echoed command", "gc80\r\n", 0, "gc80\r\n", "c80", true},
		{"noise before command", "\x00\x7fp?\r\n", 0, "p?\r\n", "?", true},
		{"last command character wins", "xyp?\r\n", 0, "p?\r\n", "?", true},
		{"bare numeric reply", "0c80\r\n", 0, "0c80\r\n", "0c80", true},
		{"unknown line skipped", "ERR\r\n0c80\r\n", 0, "0c80\r\n", "0c80", true},
		{"scan from offset", "x\r\n0640\r\n", 3, "0640\r\n", "0640", true},
		{"no terminator", "p?", 0, "", "", false},
		{"half terminator", "0c80\r", 0, "", "", false},
		{"only unknown lines", "ERR\r\n12\r\n", 0, "", "", false},
	}
	proto := EVR116{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := []byte(tt.stream)
			span, ok := proto.Locate(protocol.Response, buf, tt.from)
			require.Equal(t, tt.found, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.want, string(buf[span.Start:span.End()]))
			p, err := protocol.Decode(proto, protocol.Response, buf, span)
			require.NoError(t, err)
			require.NoError(t, proto.Check(p, protocol.CheckOptions{}))
			payload, err := proto.Payload(p)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, string(payload))
		})
	}
}

func TestLocateIncremental(t *testing.T) {
	line := []byte("p?\r\n")
	for i := 0; i < len(line); i++ {
		_, ok := EVR116{}.Locate(protocol.Response, line[:i], 0)
		assert.False(t, ok)
	}
	_, ok := EVR116{}.Locate(protocol.Response, line, 0)
	assert.True(t, ok)
}

func TestCheckRejectsUnknownLine(t *testing.T) {
	buf := []byte("ERR!!\r\n")
	p, err := packet.View(Schema, buf, 0, len(buf))
	require.NoError(t, err)
	assert.ErrorIs(t, EVR116{}.Check(p, protocol.CheckOptions{}), protocol.ErrMalformed)
}

func TestExpectsReply(t *testing.T) {
	assert.True(t, EVR116{}.ExpectsReply(packet.Fields{"IDENTIFIER": packet.String("x")}))
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
		assertRoundTrip(t, EVR116{}, dir, packet.Fields{
			"IDENTIFIER":     packet.String("g"),
			packet.DataField: packet.String("c80"),
		})
	}
}

func TestDefaultsRoundTrip(t *testing.T) {
	decoded := assertRoundTrip(t, EVR116{}, protocol.Request, packet.Fields{})
	want := packet.Fields{
		"IDENTIFIER":     packet.String("v"),
		packet.DataField: packet.String("?"),
		"TERMINATOR":     packet.String("\r\n"),
	}
	for name, v := range want {
		assert.True(t, v.Equal(decoded[name]), "%s: want %v got %v", name, v, decoded[name])
	}
}
