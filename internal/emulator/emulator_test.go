package emulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tturner/dcpf/internal/appliance/ac250k"
	"github.com/tturner/dcpf/internal/appliance/ad4"
	"github.com/tturner/dcpf/internal/appliance/das1210"
	"github.com/tturner/dcpf/internal/appliance/evr116"
	"github.com/tturner/dcpf/internal/appliance/quido"
	"github.com/tturner/dcpf/internal/device"
	"github.com/tturner/dcpf/internal/metrics"
	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
	protoac250k "github.com/tturner/dcpf/internal/protocol/ac250k"
	protoevr116 "github.com/tturner/dcpf/internal/protocol/evr116"
	"github.com/tturner/dcpf/internal/protocol/spinel"
	"github.com/tturner/dcpf/internal/transport"
)

func request97(t *testing.T, adr, inst uint8, data []byte) []byte {
	t.Helper()
	p, err := spinel.Spinel97{}.Encode(protocol.Request, packet.Fields{
		"ADR":            packet.Uint(uint64(adr)),
		"INST":           packet.Uint(uint64(inst)),
		packet.DataField: packet.Bytes(data),
	})
	require.NoError(t, err)
	return p.Bytes()
}

// serveScript runs a session over a mock that delivers chunks and then
// closes, and returns everything the session sent.
func serveScript(t *testing.T, p protocol.Protocol, h Handler, opts Options, chunks ...[]byte) []byte {
	t.Helper()
	mock := transport.NewMock()
	mock.Push(chunks...)
	mock.PushError(transport.ErrClosed)
	require.NoError(t, mock.Connect(context.Background(), "emulator", true))

	s := NewSession(p, h, opts)
	require.NoError(t, s.Serve(context.Background(), mock))
	return mock.SentBytes()
}

func parseResponses(t *testing.T, p protocol.Protocol, buf []byte) []*packet.Packet {
	t.Helper()
	var out []*packet.Packet
	for {
		span, ok := p.Locate(protocol.Response, buf, 0)
		if !ok {
			return out
		}
		view, err := protocol.Decode(p, protocol.Response, buf, span)
		require.NoError(t, err)
		out = append(out, view.Clone())
		buf = buf[span.End():]
	}
}

func TestSessionAnswersRegisters(t *testing.T) {
	regs := NewSpinelRegisters(0x31).Set(0xF3, []byte("v1"))
	req := request97(t, 0x31, 0xF3, nil)

	sent := serveScript(t, spinel.Spinel97{}, regs.Handle, Options{},
		append([]byte("junk"), req[:3]...), req[3:])

	resps := parseResponses(t, spinel.Spinel97{}, sent)
	require.Len(t, resps, 1)
	require.NoError(t, spinel.Spinel97{}.Check(resps[0], protocol.CheckOptions{}))
	data, err := resps[0].Data()
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
	adr, err := resps[0].Uint("ADR")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x31), adr)
}

func TestSessionSetterAndUnknownInstruction(t *testing.T) {
	regs := NewSpinelRegisters(0x02).Setter(0x70, 0x71)
	sent := serveScript(t, spinel.Spinel97{}, regs.Handle, Options{},
		request97(t, 0x02, 0x70, []byte{3}),
		request97(t, 0x02, 0x71, nil),
		request97(t, 0x02, 0x99, nil),
	)

	resps := parseResponses(t, spinel.Spinel97{}, sent)
	require.Len(t, resps, 3)
	data, _ := resps[1].Data()
	assert.Equal(t, []byte{3}, data)

	err := spinel.Spinel97{}.Check(resps[2], protocol.CheckOptions{})
	var ackErr *protocol.AckError
	require.ErrorAs(t, err, &ackErr)
	assert.Equal(t, protocol.AckInvalidInstruction, ackErr.Code)
}

func TestSessionSilentCases(t *testing.T) {
	regs := NewSpinelRegisters(0x31).Set(0x30, []byte{1})
	bad := request97(t, 0x31, 0x30, nil)
	bad[len(bad)-2] ^= 0xFF

	sink := metrics.NewSink()
	sent := serveScript(t, spinel.Spinel97{}, regs.Handle, Options{Metrics: sink},
		request97(t, spinel.Address97Broadcast, 0x30, nil), // broadcast
		request97(t, 0x55, 0x30, nil),                       // other device
		bad,                                                 // checksum mismatch
	)
	assert.Empty(t, sent)

	summary := sink.GetSummary()
	assert.Equal(t, 3, summary.TotalOperations)
	assert.Equal(t, 1, summary.ChecksumFailures)
}

func TestSessionSkipChecksum(t *testing.T) {
	regs := NewSpinelRegisters(0x31).Set(0x30, []byte{1})
	bad := request97(t, 0x31, 0x30, nil)
	bad[len(bad)-2] ^= 0xFF
	sent := serveScript(t, spinel.Spinel97{}, regs.Handle, Options{SkipChecksum: true}, bad)
	assert.Len(t, parseResponses(t, spinel.Spinel97{}, sent), 1)
}

func TestSessionSpinel66(t *testing.T) {
	regs := NewSpinelRegisters('A').Set('s', []byte("10"))
	req, err := spinel.Spinel66{}.Encode(protocol.Request, packet.Fields{
		"ADR":  packet.String("A"),
		"INST": packet.String("s"),
	})
	require.NoError(t, err)
	unknown, err := spinel.Spinel66{}.Encode(protocol.Request, packet.Fields{
		"ADR":  packet.String("A"),
		"INST": packet.String("q"),
	})
	require.NoError(t, err)

	sent := serveScript(t, spinel.Spinel66{}, regs.Handle, Options{}, req.Bytes(), unknown.Bytes())
	assert.Equal(t, "*BA010\r*BA2\r", string(sent))
}

func TestHandlerFor(t *testing.T) {
	for _, name := range []string{"quido", "ad4", "das1210", "evr116", "ac250k"} {
		h, err := HandlerFor(name, "", 1)
		require.NoError(t, err, name)
		assert.NotNil(t, h)
	}
	for _, proto := range []string{"spinel66", "spinel97", "evr116", "ac250k"} {
		_, err := HandlerFor("", proto, 1)
		require.NoError(t, err, proto)
	}
	_, err := HandlerFor("toaster", "", 1)
	assert.Error(t, err)
	_, err = HandlerFor("", "modbus", 1)
	assert.Error(t, err)
}

func startServer(t *testing.T, p protocol.Protocol, h Handler) *Server {
	t.Helper()
	srv := NewServer(p, h, Options{})
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func dial(t *testing.T, p protocol.Protocol, srv *Server) *device.Device {
	t.Helper()
	tr := transport.NewTCP(transport.Options{Timeout: 2 * time.Second, ConnectTimeout: 2 * time.Second})
	d := device.New(p, tr, device.Options{Address: srv.Addr()})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Connect(ctx))
	t.Cleanup(func() { d.Disconnect(context.Background()) })
	return d
}

func TestLoopbackQuido(t *testing.T) {
	srv := startServer(t, spinel.Spinel97{}, QuidoRegisters(0x31, 16).Handle)
	m := quido.New(dial(t, spinel.Spinel97{}, srv), 0x31)
	ctx := context.Background()

	_, err := m.SetOutputsState(ctx, 1, 3, 10)
	require.NoError(t, err)
	_, err = m.SetOutputsState(ctx, -3)
	require.NoError(t, err)

	states, err := m.OutputsState(ctx)
	require.NoError(t, err)
	require.Len(t, states, 16)
	assert.True(t, states[0])
	assert.False(t, states[2])
	assert.True(t, states[9])
	assert.Equal(t, 1, srv.Connections())
}

func TestLoopbackAD4(t *testing.T) {
	srv := startServer(t, spinel.Spinel97{}, AD4Registers(0x01, [4]uint16{10, 20, 30, 40}).Handle)
	values, err := ad4.New(dial(t, spinel.Spinel97{}, srv), 0x01).MeasuredValues(context.Background())
	require.NoError(t, err)
	require.Len(t, values, 4)
	for i, v := range values {
		assert.Equal(t, uint8(i+1), v.Channel)
		assert.True(t, v.Valid)
		assert.Equal(t, uint16(10*(i+1)), v.Value)
	}
}

func TestLoopbackDAS1210(t *testing.T) {
	srv := startServer(t, spinel.Spinel97{}, DAS1210Registers().Handle)
	das := das1210.New(dial(t, spinel.Spinel97{}, srv))
	ctx := context.Background()

	_, err := das.SetRange(ctx, 3, 2.5)
	require.NoError(t, err)
	r, err := das.Range(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2.5, r)

	fs, err := das.SamplingFrequency(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1e6, fs)

	pages, err := das.Data(ctx, 3, 16, 8)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Len(t, pages[1], 16)
	assert.Equal(t, []byte{8, 0}, pages[1][:2])

	v, err := das.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DAS1210 emulator", v)
}

func TestLoopbackValve(t *testing.T) {
	valve := NewEchoValve()
	srv := startServer(t, protoevr116.EVR116{}, valve.Handle)
	v := evr116.New(dial(t, protoevr116.EVR116{}, srv))
	ctx := context.Background()

	_, err := v.SetPosition(ctx, 3200)
	require.NoError(t, err)
	pos, err := v.Position(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1600, pos)

	_, err = v.Close(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(256), valve.Position())
}

func TestLoopbackPowerSupply(t *testing.T) {
	psu := NewPowerSupply(4)
	srv := startServer(t, protoac250k.AC250K{}, psu.Handle)
	p := ac250k.New(dial(t, protoac250k.AC250K{}, srv), 4)
	ctx := context.Background()

	ok, err := p.SetVoltage(ctx, 48)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.SetOutput(ctx, true)
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := p.Voltage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 48, v)
	on, err := p.Output(ctx)
	require.NoError(t, err)
	assert.True(t, on)

	id, err := p.Identification(ctx)
	require.NoError(t, err)
	assert.Equal(t, psu.ID, id)

	volts, out := psu.State()
	assert.Equal(t, 48, volts)
	assert.True(t, out)
}

func TestServerStopClosesConnections(t *testing.T) {
	srv := NewServer(spinel.Spinel97{}, NewSpinelRegisters(1).Handle, Options{})
	require.NoError(t, srv.Start("127.0.0.1:0"))
	d := dial(t, spinel.Spinel97{}, srv)

	require.NoError(t, srv.Stop())
	_, err := d.ReceivePacket(context.Background())
	assert.Error(t, err)
}
