package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Record is one payload-carrying TCP segment read from a capture.
type Record struct {
	Time      time.Time
	Direction Direction
	Data      []byte
}

// ReadFile reads every TCP payload from a pcap file. Segments sent to
// devicePort are outbound; all others are inbound. A zero devicePort uses
// the default.
func ReadFile(path string, devicePort uint16) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	defer file.Close()
	return Read(file, devicePort)
}

// Read reads every TCP payload from a pcap stream.
func Read(in io.Reader, devicePort uint16) ([]Record, error) {
	if devicePort == 0 {
		devicePort = DefaultOptions().DevicePort
	}
	reader, err := pcapgo.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}

	var records []Record
	for {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return records, fmt.Errorf("read packet %d: %w", len(records)+1, err)
		}
		pkt := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		tcpLayer := pkt.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp := tcpLayer.(*layers.TCP)
		if len(tcp.Payload) == 0 {
			continue
		}
		dir := Inbound
		if uint16(tcp.DstPort) == devicePort {
			dir = Outbound
		}
		payload := make([]byte, len(tcp.Payload))
		copy(payload, tcp.Payload)
		records = append(records, Record{Time: ci.Timestamp, Direction: dir, Data: payload})
	}
	return records, nil
}

// Stream concatenates the payloads of one direction in capture order.
func Stream(records []Record, dir Direction) []byte {
	var out []byte
	for _, r := range records {
		if r.Direction == dir {
			out = append(out, r.Data...)
		}
	}
	return out
}
