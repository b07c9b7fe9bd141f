// Package das1210 drives the DAS1210 fast data acquisition unit. The unit
// speaks Spinel-97 over TCP (port 10001 by default) and exposes each input
// channel as its own Spinel address; AllChannels reaches every channel at
// once and is never answered.
//
// Setters return the DATA of the reply, which is normally empty, or nil when
// sent to AllChannels.
package das1210

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tturner/dcpf/internal/appliance"
	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
	"github.com/tturner/dcpf/internal/protocol/spinel"
)

// DefaultPort is the unit's TCP port.
const DefaultPort = 10001

// AllChannels addresses every channel.
const AllChannels uint8 = spinel.Address97Broadcast

// Instruction codes.
const (
	InstData            = 0x51
	InstSetRange        = 0x70
	InstRange           = 0x71
	InstSetTrigger      = 0x72
	InstTrigger         = 0x73
	InstSetSamplingFreq = 0x74
	InstSamplingFreq    = 0x75
	InstSetSamplesCount = 0x76
	InstSamplesCount    = 0x77
	InstSetReady        = 0x78
	InstVersion         = 0xF3
	InstDataReady       = 0xF5
)

// Version requests go to the first channel.
const versionAddress uint8 = 1

// Ranges lists the input ranges in volts, indexed by their wire code. A
// range r digitises -r to +r.
var Ranges = []float64{0.25, 0.5, 1, 2.5, 5, 10}

// Reset defaults.
const (
	DefaultRange        = 10
	DefaultSamplingFreq = 1e6
	DefaultSamplesCount = 524287
	DefaultPacketSize   = 4096
	MaxPacketSize       = 8192

	// samplingClock is divided by (code+1) to give the sampling frequency.
	samplingClock = 1e7
	minFreqCode   = 0x07
	maxFreqCode   = 0xFF
)

// DAS is one acquisition unit.
type DAS struct {
	q      appliance.Querier
	Checks protocol.CheckOptions
}

// New returns a driver for the unit behind q.
func New(q appliance.Querier) *DAS {
	return &DAS{q: q}
}

func (d *DAS) query(ctx context.Context, channel uint8, inst uint8, data []byte) ([]byte, error) {
	fields := packet.Fields{
		"ADR":  packet.Uint(uint64(channel)),
		"INST": packet.Uint(uint64(inst)),
	}
	if data != nil {
		fields[packet.DataField] = packet.Bytes(data)
	}
	return d.q.Query(ctx, fields, d.Checks)
}

func (d *DAS) get(ctx context.Context, channel uint8, inst uint8, n int) ([]byte, error) {
	return appliance.ReplyLength(ctx, d.q, packet.Fields{
		"ADR":  packet.Uint(uint64(channel)),
		"INST": packet.Uint(uint64(inst)),
	}, d.Checks, n)
}

// SetRange sets the input range of channel to one of Ranges.
func (d *DAS) SetRange(ctx context.Context, channel uint8, volts float64) ([]byte, error) {
	for i, r := range Ranges {
		if r == volts {
			return d.query(ctx, channel, InstSetRange, []byte{byte(i)})
		}
	}
	return nil, fmt.Errorf("invalid range %g V, possible ranges are %v", volts, Ranges)
}

// Range returns the input range of channel in volts.
func (d *DAS) Range(ctx context.Context, channel uint8) (float64, error) {
	data, err := d.get(ctx, channel, InstRange, 1)
	if err != nil {
		return 0, err
	}
	if int(data[0]) >= len(Ranges) {
		return 0, fmt.Errorf("%w: device reports unknown range code %d", protocol.ErrMalformed, data[0])
	}
	return Ranges[data[0]], nil
}

// SetTrigger selects a rising (true) or falling edge trigger.
func (d *DAS) SetTrigger(ctx context.Context, channel uint8, rising bool) ([]byte, error) {
	var b byte
	if rising {
		b = 1
	}
	return d.query(ctx, channel, InstSetTrigger, []byte{b})
}

// Trigger reports whether channel triggers on a rising edge.
func (d *DAS) Trigger(ctx context.Context, channel uint8) (bool, error) {
	data, err := d.get(ctx, channel, InstTrigger, 1)
	if err != nil {
		return false, err
	}
	return data[0] != 0, nil
}

// FrequencyCode returns the wire code for the highest sampling frequency
// not above hz. Frequencies run from 39.0625 kHz to 1.25 MHz.
func FrequencyCode(hz float64) (byte, error) {
	if hz <= 0 || math.IsNaN(hz) {
		return 0, fmt.Errorf("invalid sampling frequency %g", hz)
	}
	code := math.Ceil(samplingClock/hz) - 1
	if code < minFreqCode || code > maxFreqCode {
		return 0, fmt.Errorf("sampling frequency %g Hz out of range [%g, %g]",
			hz, samplingClock/(maxFreqCode+1), samplingClock/(minFreqCode+1))
	}
	return byte(code), nil
}

// Frequency is the sampling frequency in Hz for a wire code.
func Frequency(code byte) float64 {
	return samplingClock / (float64(code) + 1)
}

// SetSamplingFrequency sets the sampling frequency of channel, rounded down
// to the nearest frequency the unit supports.
func (d *DAS) SetSamplingFrequency(ctx context.Context, channel uint8, hz float64) ([]byte, error) {
	code, err := FrequencyCode(hz)
	if err != nil {
		return nil, err
	}
	return d.query(ctx, channel, InstSetSamplingFreq, []byte{code})
}

// SamplingFrequency returns the sampling frequency of channel in Hz.
func (d *DAS) SamplingFrequency(ctx context.Context, channel uint8) (float64, error) {
	data, err := d.get(ctx, channel, InstSamplingFreq, 1)
	if err != nil {
		return 0, err
	}
	return Frequency(data[0]), nil
}

// SetSamplesCount sets how many samples channel records. The unit rounds up
// to a multiple of 8.
func (d *DAS) SetSamplesCount(ctx context.Context, channel uint8, count int32) ([]byte, error) {
	if count < 0 || count > DefaultSamplesCount {
		return nil, fmt.Errorf("samples count %d out of range [0, %d]", count, DefaultSamplesCount)
	}
	return d.query(ctx, channel, InstSetSamplesCount, binary.BigEndian.AppendUint32(nil, uint32(count)))
}

// SamplesCount returns the number of samples channel records.
func (d *DAS) SamplesCount(ctx context.Context, channel uint8) (int32, error) {
	data, err := d.get(ctx, channel, InstSamplesCount, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(data)), nil
}

// Data reads length samples from channel in pages of packetSize samples and
// returns the raw page payloads. length is rounded down to whole pages.
func (d *DAS) Data(ctx context.Context, channel uint8, length, packetSize int) ([][]byte, error) {
	if packetSize <= 0 {
		packetSize = DefaultPacketSize
	}
	if packetSize > MaxPacketSize {
		return nil, fmt.Errorf("packet size %d exceeds %d", packetSize, MaxPacketSize)
	}
	pages := length / packetSize
	out := make([][]byte, 0, pages)
	for i := 0; i < pages; i++ {
		req := binary.BigEndian.AppendUint32(nil, uint32(i*packetSize))
		req = binary.BigEndian.AppendUint32(req, uint32(packetSize))
		page, err := appliance.Reply(ctx, d.q, packet.Fields{
			"ADR":            packet.Uint(uint64(channel)),
			"INST":           packet.Uint(InstData),
			packet.DataField: packet.Bytes(req),
		}, d.Checks)
		if err != nil {
			return out, fmt.Errorf("data page %d: %w", i, err)
		}
		out = append(out, page)
	}
	return out, nil
}

// Calibrated reads channel and converts the little-endian int16 samples to
// volts using the channel's range. With seconds > 0 only that much signal is
// read, rounded up to whole pages; otherwise the full sample memory is read.
// It returns the time span covered and the samples.
func (d *DAS) Calibrated(ctx context.Context, channel uint8, seconds float64, packetSize int) (float64, []float64, error) {
	if packetSize <= 0 {
		packetSize = DefaultPacketSize
	}
	fs, err := d.SamplingFrequency(ctx, channel)
	if err != nil {
		return 0, nil, err
	}
	var length int
	if seconds > 0 {
		n := int(math.Round(seconds * fs))
		length = (n + packetSize - 1) / packetSize * packetSize
	} else {
		count, err := d.SamplesCount(ctx, channel)
		if err != nil {
			return 0, nil, err
		}
		length = int(count)
	}
	vmax, err := d.Range(ctx, channel)
	if err != nil {
		return 0, nil, err
	}
	pages, err := d.Data(ctx, channel, length, packetSize)
	if err != nil {
		return 0, nil, err
	}

	scale := vmax / (1 << 15)
	var samples []float64
	for _, page := range pages {
		for i := 0; i+1 < len(page); i += 2 {
			samples = append(samples, float64(int16(binary.LittleEndian.Uint16(page[i:])))*scale)
		}
	}
	return float64(length) / fs, samples, nil
}

// DataReady reports whether channel has finished recording.
func (d *DAS) DataReady(ctx context.Context, channel uint8) (bool, error) {
	data, err := d.get(ctx, channel, InstDataReady, 1)
	if err != nil {
		return false, err
	}
	return data[0] != 0, nil
}

// SetReady arms channel again. It must be called after a triggered
// recording to free the sample memory for the next one.
func (d *DAS) SetReady(ctx context.Context, channel uint8) ([]byte, error) {
	return d.query(ctx, channel, InstSetReady, nil)
}

// Version returns the unit description and firmware version.
func (d *DAS) Version(ctx context.Context) (string, error) {
	data, err := appliance.Reply(ctx, d.q, packet.Fields{
		"ADR":  packet.Uint(uint64(versionAddress)),
		"INST": packet.Uint(InstVersion),
	}, d.Checks)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
