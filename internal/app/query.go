package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
)

// QueryOptions describes a raw request sent to one device.
type QueryOptions struct {
	DeviceOptions

	Inst    string   // instruction or command character
	Data    string   // DATA as text
	DataHex string   // DATA as hex bytes
	Fields  []string // NAME=VALUE overrides

	SkipChecksum bool
	AcceptAcks   []int

	Count    int
	Interval time.Duration
}

// RunQuery sends a request built from opts and prints the validated
// response. With Count > 1 the request is repeated and a summary printed.
func RunQuery(opts QueryOptions) error {
	ctx := context.Background()
	s, err := openSession(ctx, "query", opts.DeviceOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	p := s.device.Protocol()
	fields, err := buildRequest(p, s.entry.DeviceAddress, opts)
	if err != nil {
		return err
	}
	req, err := p.Encode(protocol.Request, fields)
	if err != nil {
		return s.wrap(err, "encode request")
	}

	checks := s.entry.CheckOptions()
	if opts.SkipChecksum {
		checks.SkipChecksum = true
	}
	for _, code := range opts.AcceptAcks {
		if code < 0 || code > 0xFF {
			return fmt.Errorf("accepted ACK %d out of range", code)
		}
		checks.AcceptAcks = append(checks.AcceptAcks, uint8(code))
	}

	count := opts.Count
	if count <= 0 {
		count = 1
	}
	out := opts.out()
	for i := 0; i < count; i++ {
		if i > 0 && opts.Interval > 0 {
			time.Sleep(opts.Interval)
		}
		start := time.Now()
		resp, err := s.device.QueryPacket(ctx, fields, checks)
		if err != nil {
			return s.wrap(err, "query")
		}
		if i == 0 {
			renderQuery(out, s.entry.Name, p, req.Bytes(), resp, time.Since(start))
		}
	}
	if count > 1 {
		renderSummary(out, s.sink)
	}
	return nil
}

// buildRequest assembles request fields: the configured device address,
// the instruction, DATA, then explicit overrides.
func buildRequest(p protocol.Protocol, deviceAddress *int, opts QueryOptions) (packet.Fields, error) {
	schema := p.Schema(protocol.Request)
	fields := packet.Fields{}

	if deviceAddress != nil && schema.Has("ADR") {
		fields["ADR"] = packet.Uint(uint64(*deviceAddress))
	}

	if opts.Inst != "" {
		name := instructionField(schema)
		if name == "" {
			return nil, fmt.Errorf("protocol %s has no instruction field; put the command in the data", p.Name())
		}
		v, err := parseFieldValue(opts.Inst)
		if err != nil {
			return nil, fmt.Errorf("instruction: %w", err)
		}
		fields[name] = v
	}

	switch {
	case opts.Data != "" && opts.DataHex != "":
		return nil, fmt.Errorf("use either --data or --data-hex, not both")
	case opts.DataHex != "":
		data, err := parseHexPayload(opts.DataHex)
		if err != nil {
			return nil, err
		}
		fields[packet.DataField] = packet.Bytes(data)
	case opts.Data != "":
		fields[packet.DataField] = packet.String(opts.Data)
	}

	for _, kv := range opts.Fields {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.ToUpper(strings.TrimSpace(name))
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid field %q (expected NAME=VALUE)", kv)
		}
		if !schema.Has(name) {
			return nil, fmt.Errorf("protocol %s has no request field %s", p.Name(), name)
		}
		v, err := parseFieldValue(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		fields[name] = v
	}
	return fields, nil
}

func instructionField(schema *packet.Schema) string {
	for _, name := range []string{"INST", "IDENTIFIER"} {
		if schema.Has(name) {
			return name
		}
	}
	return ""
}

// parseFieldValue reads a command-line field value: 0x-prefixed or decimal
// numbers, "hex:" byte strings, "text:" or anything else as text.
func parseFieldValue(s string) (packet.Value, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "text:"):
		return packet.String(strings.TrimPrefix(s, "text:")), nil
	case strings.HasPrefix(s, "hex:"):
		data, err := parseHexPayload(strings.TrimPrefix(s, "hex:"))
		if err != nil {
			return packet.Value{}, err
		}
		return packet.Bytes(data), nil
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return packet.Value{}, fmt.Errorf("invalid hex number %q", s)
		}
		return packet.Uint(n), nil
	default:
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return packet.Uint(n), nil
		}
		return packet.String(s), nil
	}
}

func parseHexPayload(input string) ([]byte, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(input), " ", "")
	cleaned = strings.TrimPrefix(cleaned, "0x")
	if cleaned == "" {
		return []byte{}, nil
	}
	if len(cleaned)%2 != 0 {
		return nil, fmt.Errorf("hex payload must have even length")
	}
	decoded := make([]byte, len(cleaned)/2)
	if _, err := hex.Decode(decoded, []byte(cleaned)); err != nil {
		return nil, fmt.Errorf("decode hex payload: %w", err)
	}
	return decoded, nil
}

func renderQuery(w io.Writer, name string, p protocol.Protocol, req []byte, resp *packet.Packet, rtt time.Duration) {
	renderBlock(w, fmt.Sprintf("%s (%s)", name, p.Name()), []row{
		{"request", fmt.Sprintf("% X", req)},
		{"rtt", fmt.Sprintf("%.3f ms", float64(rtt.Microseconds())/1000.0)},
	})
	if resp == nil {
		fmt.Fprintln(w, dimStyle.Render("  broadcast request, no reply expected"))
		return
	}

	decoded, err := resp.Decode()
	if err != nil {
		renderStatus(w, false, err.Error())
		return
	}
	names := make([]string, 0, len(decoded))
	for name := range decoded {
		if name != packet.DataField {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	rows := make([]row, 0, len(names)+1)
	for _, name := range names {
		rows = append(rows, row{name, decoded[name].String()})
	}
	payload, err := p.Payload(resp)
	if err != nil {
		renderStatus(w, false, err.Error())
		return
	}
	if text, ok := printable(payload); ok {
		rows = append(rows, row{"text", strconv.Quote(text)})
	}
	renderBlock(w, "response", rows)
	renderHex(w, "payload", payload)
}
