package app

import (
	"fmt"
	"io"
	"os"

	"github.com/tturner/dcpf/internal/capture"
	"github.com/tturner/dcpf/internal/protocol"
	"github.com/tturner/dcpf/internal/protocol/registry"
)

// InspectOptions selects a capture file and the protocol to decode it with.
type InspectOptions struct {
	File         string
	Protocol     string
	DevicePort   uint16 // 0 uses the capture default
	SkipChecksum bool
	Out          io.Writer
}

// InspectedPacket is one packet located in a captured stream.
type InspectedPacket struct {
	Direction capture.Direction
	Offset    int
	Bytes     []byte
	Summary   string
	Err       error
}

// RunInspect decodes a capture written by dcpf (or any pcap holding the
// device's TCP conversation) and lists the packets found in each direction.
func RunInspect(opts InspectOptions) error {
	p, err := registry.New(opts.Protocol)
	if err != nil {
		return err
	}
	records, err := capture.ReadFile(opts.File, opts.DevicePort)
	if err != nil {
		return err
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	checks := protocol.CheckOptions{SkipChecksum: opts.SkipChecksum}
	requests := inspectStream(p, protocol.Request, capture.Stream(records, capture.Outbound), checks)
	responses := inspectStream(p, protocol.Response, capture.Stream(records, capture.Inbound), checks)

	renderBlock(out, opts.File, []row{
		{"protocol", p.Name()},
		{"chunks", fmt.Sprintf("%d", len(records))},
		{"requests", fmt.Sprintf("%d", len(requests))},
		{"responses", fmt.Sprintf("%d", len(responses))},
	})
	for _, group := range []struct {
		title string
		pkts  []InspectedPacket
	}{{"requests", requests}, {"responses", responses}} {
		if len(group.pkts) == 0 {
			continue
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, titleStyle.Render(group.title))
		for _, pkt := range group.pkts {
			status := successStyle.Render("ok  ")
			detail := pkt.Summary
			if pkt.Err != nil {
				status = errorStyle.Render("bad ")
				detail = pkt.Err.Error()
			}
			fmt.Fprintf(out, "  %s%s %s\n", status, labelStyle.Render(fmt.Sprintf("@%-6d", pkt.Offset)), capture.Hex(pkt.Bytes))
			fmt.Fprintf(out, "        %s\n", dimStyle.Render(detail))
		}
	}
	return nil
}

// inspectStream locates every packet of one direction in stream. Bytes no
// packet accounts for are skipped the same way a device skips noise.
func inspectStream(p protocol.Protocol, dir protocol.Direction, stream []byte, checks protocol.CheckOptions) []InspectedPacket {
	var pkts []InspectedPacket
	from := 0
	for from < len(stream) {
		span, ok := p.Locate(dir, stream, from)
		if !ok {
			break
		}
		pkt := InspectedPacket{
			Direction: capture.Outbound,
			Offset:    span.Start,
			Bytes:     append([]byte(nil), stream[span.Start:span.End()]...),
		}
		if dir == protocol.Response {
			pkt.Direction = capture.Inbound
		}
		view, err := protocol.Decode(p, dir, stream, span)
		if err == nil && dir == protocol.Response {
			err = p.Check(view, checks)
		}
		if err == nil {
			pkt.Summary = view.String()
		}
		pkt.Err = err
		pkts = append(pkts, pkt)
		from = span.End()
	}
	return pkts
}
