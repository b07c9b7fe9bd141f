package quido

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tturner/dcpf/internal/appliance"
	"github.com/tturner/dcpf/internal/device"
	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
	"github.com/tturner/dcpf/internal/protocol/spinel"
	"github.com/tturner/dcpf/internal/transport"
)

func newModule(t *testing.T, address uint8, replies ...string) (*Module, *transport.Mock) {
	t.Helper()
	mock := transport.NewMock()
	for _, r := range replies {
		p, err := spinel.Spinel97{}.Encode(protocol.Response, packet.Fields{
			"ADR":            packet.Uint(uint64(address)),
			"ACK":            packet.Uint(0),
			packet.DataField: packet.String(r),
		})
		require.NoError(t, err)
		mock.Push(p.Bytes())
	}
	d := device.New(spinel.Spinel97{}, mock, device.Options{Address: "192.168.1.254:10001"})
	require.NoError(t, d.Connect(context.Background()))
	return New(d, address), mock
}

func TestDecodeOutputs(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []bool
	}{
		{"one byte", []byte{0x05}, []bool{true, false, true, false, false, false, false, false}},
		{"two bytes big-endian", []byte{0x80, 0x01}, []bool{
			true, false, false, false, false, false, false, false,
			false, false, false, false, false, false, false, true,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeOutputs(tt.data)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DecodeOutputs mismatch (-want +got):\n%s", diff)
			}
		})
	}

	got, err := DecodeOutputs([]byte{0, 0, 0, 1})
	require.NoError(t, err)
	assert.Len(t, got, 32)
	assert.True(t, got[0])

	_, err = DecodeOutputs([]byte{1, 2, 3})
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestEncodeOutputs(t *testing.T) {
	data, err := EncodeOutputs(1, -2, 127, -127)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x81, 0x02, 0xFF, 0x7F}, data)

	for _, bad := range [][]int{nil, {0}, {128}, {-128}} {
		_, err := EncodeOutputs(bad...)
		assert.Error(t, err, "outputs %v", bad)
	}
}

func TestOutputsStateOverDevice(t *testing.T) {
	m, mock := newModule(t, 0x31, "\x06")
	states, err := m.OutputsState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true, false, false, false, false, false}, states)

	want, err := spinel.Spinel97{}.Encode(protocol.Request, packet.Fields{
		"ADR":  packet.Uint(0x31),
		"INST": packet.Uint(InstOutputs),
	})
	require.NoError(t, err)
	assert.Equal(t, want.Bytes(), mock.SentBytes())
}

func TestOutputState(t *testing.T) {
	m, _ := newModule(t, 0x31, "\x02", "\x02", "\x02")
	on, err := m.OutputState(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, on)

	on, err = m.OutputState(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, on)

	_, err = m.OutputState(context.Background(), 9)
	assert.ErrorContains(t, err, "out of range")
}

func TestSetOutputsState(t *testing.T) {
	m, mock := newModule(t, 0x31, "")
	data, err := m.SetOutputsState(context.Background(), 3, -4)
	require.NoError(t, err)
	assert.Empty(t, data)

	want, err := spinel.Spinel97{}.Encode(protocol.Request, packet.Fields{
		"ADR":            packet.Uint(0x31),
		"INST":           packet.Uint(InstSetOutputs),
		packet.DataField: packet.Bytes([]byte{0x83, 0x04}),
	})
	require.NoError(t, err)
	assert.Equal(t, want.Bytes(), mock.SentBytes())
}

func TestUniversalAddressNotAnswered(t *testing.T) {
	m, mock := newModule(t, spinel.Address97Universal)
	assert.False(t, m.ExpectsReply())

	data, err := m.SetOutputsState(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Equal(t, 0, mock.ReceiveCalls())

	_, err = m.OutputsState(context.Background())
	assert.ErrorIs(t, err, appliance.ErrNoReply)
}
