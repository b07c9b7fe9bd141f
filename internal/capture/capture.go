// Package capture records the bytes exchanged with a device as a pcap file
// and reads such files back. Serial and pipe traffic has no network framing,
// so every chunk is wrapped in synthesized Ethernet/IPv4/TCP headers with
// running sequence numbers; Wireshark then shows one TCP conversation per
// capture with the host on one side and the device on the other.
package capture

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Direction of a recorded chunk relative to the host.
type Direction int

const (
	Outbound Direction = iota // host to device
	Inbound                   // device to host
)

func (d Direction) String() string {
	if d == Outbound {
		return "out"
	}
	return "in"
}

// Options controls the synthesized addressing.
type Options struct {
	HostIP     net.IP
	DeviceIP   net.IP
	HostPort   uint16
	DevicePort uint16
	SnapLen    uint32
}

// DefaultOptions returns the addressing used when none is configured.
func DefaultOptions() Options {
	return Options{
		HostIP:     net.IPv4(192, 168, 100, 10),
		DeviceIP:   net.IPv4(192, 168, 100, 20),
		HostPort:   50000,
		DevicePort: 10001,
		SnapLen:    65535,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.HostIP == nil {
		o.HostIP = def.HostIP
	}
	if o.DeviceIP == nil {
		o.DeviceIP = def.DeviceIP
	}
	if o.HostPort == 0 {
		o.HostPort = def.HostPort
	}
	if o.DevicePort == 0 {
		o.DevicePort = def.DevicePort
	}
	if o.SnapLen == 0 {
		o.SnapLen = def.SnapLen
	}
	return o
}

// Writer appends chunks to a pcap stream. It is safe for concurrent use.
type Writer struct {
	opts      Options
	w         *pcapgo.Writer
	closer    io.Closer
	hostSeq   uint32
	deviceSeq uint32
	count     int
	now       func() time.Time
	mu        sync.Mutex
}

// Create opens path and writes the pcap file header.
func Create(path string, opts Options) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap: %w", err)
	}
	w, err := NewWriter(file, opts)
	if err != nil {
		file.Close()
		return nil, err
	}
	w.closer = file
	return w, nil
}

// NewWriter writes the pcap file header to out.
func NewWriter(out io.Writer, opts Options) (*Writer, error) {
	opts = opts.withDefaults()
	writer := pcapgo.NewWriter(out)
	if err := writer.WriteFileHeader(opts.SnapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Writer{opts: opts, w: writer, hostSeq: 1, deviceSeq: 1, now: time.Now}, nil
}

// Record writes one chunk.
func (w *Writer) Record(dir Direction, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	srcIP, dstIP := w.opts.HostIP.To4(), w.opts.DeviceIP.To4()
	srcPort, dstPort := w.opts.HostPort, w.opts.DevicePort
	seq, ack := w.hostSeq, w.deviceSeq
	if dir == Inbound {
		srcIP, dstIP = dstIP, srcIP
		srcPort, dstPort = dstPort, srcPort
		seq, ack = w.deviceSeq, w.hostSeq
	}

	buffer := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	ethernet := &layers.Ethernet{
		SrcMAC:       []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	if dir == Inbound {
		ethernet.SrcMAC, ethernet.DstMAC = ethernet.DstMAC, ethernet.SrcMAC
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		ACK:     true,
		PSH:     true,
		Seq:     seq,
		Ack:     ack,
		Window:  65535,
	}
	_ = tcp.SetNetworkLayerForChecksum(ip)

	if err := gopacket.SerializeLayers(buffer, opts, ethernet, ip, tcp, gopacket.Payload(data)); err != nil {
		return fmt.Errorf("serialize packet: %w", err)
	}
	frame := buffer.Bytes()
	if err := w.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     w.now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}, frame); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}

	if dir == Inbound {
		w.deviceSeq += uint32(len(data))
	} else {
		w.hostSeq += uint32(len(data))
	}
	w.count++
	return nil
}

// Count returns the number of chunks written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close closes the underlying file when the writer owns one.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closer == nil {
		return nil
	}
	err := w.closer.Close()
	w.closer = nil
	return err
}
