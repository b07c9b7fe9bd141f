package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/tturner/dcpf/internal/appliance"
	"github.com/tturner/dcpf/internal/appliance/ac250k"
	"github.com/tturner/dcpf/internal/appliance/ad4"
	"github.com/tturner/dcpf/internal/appliance/das1210"
	"github.com/tturner/dcpf/internal/appliance/evr116"
	"github.com/tturner/dcpf/internal/appliance/quido"
	"github.com/tturner/dcpf/internal/protocol"
)

// CallOptions runs one appliance operation.
type CallOptions struct {
	DeviceOptions

	Appliance string // overrides the configured appliance
	Op        string
	Args      []string
	JSON      bool
}

// Operations lists the operations each appliance supports, with their
// arguments.
var Operations = map[string]map[string]string{
	"ac250k": {
		"get_voltage":    "",
		"set_voltage":    "VOLTS",
		"get_output":     "",
		"set_output":     "on|off",
		"identification": "",
		"command":        "DATA",
		"query":          "DATA",
	},
	"evr116": {
		"get_position": "",
		"set_position": "POSITION",
		"open":         "",
		"close":        "",
	},
	"das1210": {
		"version":                "",
		"get_range":              "CHANNEL",
		"set_range":              "CHANNEL VOLTS",
		"get_trigger":            "CHANNEL",
		"set_trigger":            "CHANNEL rising|falling",
		"get_sampling_frequency": "CHANNEL",
		"set_sampling_frequency": "CHANNEL HZ",
		"get_samples_count":      "CHANNEL",
		"set_samples_count":      "CHANNEL COUNT",
		"data_ready":             "CHANNEL",
		"set_ready":              "CHANNEL",
		"data":                   "CHANNEL LENGTH [PACKET_SIZE]",
		"calibrated":             "CHANNEL [SECONDS] [PACKET_SIZE]",
	},
	"quido": {
		"outputs_state":     "",
		"output_state":      "OUTPUT",
		"set_outputs_state": "+N|-N ...",
	},
	"ad4": {
		"measured_values": "",
	},
}

// OperationUsage returns "op ARGS" lines for an appliance, sorted.
func OperationUsage(name string) []string {
	ops := Operations[name]
	lines := make([]string, 0, len(ops))
	for op, args := range ops {
		lines = append(lines, strings.TrimSpace(op+" "+args))
	}
	sort.Strings(lines)
	return lines
}

// RunCall runs an appliance operation against a configured device and
// prints the result.
func RunCall(opts CallOptions) error {
	ctx := context.Background()
	cfg, entry, err := opts.resolve()
	if err != nil {
		return err
	}
	name := strings.ToLower(opts.Appliance)
	if name == "" {
		name = entry.Appliance
	}
	if name == "" {
		return fmt.Errorf("device %s has no appliance configured; use --appliance", entry.Name)
	}
	if _, ok := Operations[name]; !ok {
		return fmt.Errorf("unknown appliance %q", name)
	}

	s, err := connectSession(ctx, "call", cfg, entry, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := callAppliance(ctx, s.device, name, entry.DeviceAddress, entry.CheckOptions(), opts.Op, opts.Args)
	if err != nil {
		return s.wrap(err, name+" "+opts.Op)
	}
	return renderResult(opts.out(), fmt.Sprintf("%s %s", entry.Name, opts.Op), result, opts.JSON)
}

// callAppliance runs op on the named appliance driver over q.
func callAppliance(ctx context.Context, q appliance.Querier, name string, address *int, checks protocol.CheckOptions, op string, argv []string) (any, error) {
	ops, ok := Operations[name]
	if !ok {
		return nil, fmt.Errorf("unknown appliance %q", name)
	}
	if _, ok := ops[op]; !ok {
		return nil, fmt.Errorf("appliance %s has no operation %q (available: %s)", name, op, strings.Join(OperationUsage(name), ", "))
	}
	a := args(argv)

	switch name {
	case "ac250k":
		adr, err := requireAddress(name, address)
		if err != nil {
			return nil, err
		}
		if !ac250k.ValidAddress(int(adr)) {
			return nil, fmt.Errorf("ac250k address %d out of range", adr)
		}
		psu := ac250k.New(q, adr)
		psu.Checks = checks
		return callAC250K(ctx, psu, op, a)
	case "evr116":
		valve := evr116.New(q)
		valve.Checks = checks
		return callEVR116(ctx, valve, op, a)
	case "das1210":
		das := das1210.New(q)
		das.Checks = checks
		return callDAS1210(ctx, das, op, a)
	case "quido":
		adr, err := requireAddress(name, address)
		if err != nil {
			return nil, err
		}
		m := quido.New(q, adr)
		m.Checks = checks
		return callQuido(ctx, m, op, a)
	case "ad4":
		adr, err := requireAddress(name, address)
		if err != nil {
			return nil, err
		}
		m := ad4.New(q, adr)
		m.Checks = checks
		return m.MeasuredValues(ctx)
	}
	return nil, fmt.Errorf("unknown appliance %q", name)
}

func requireAddress(name string, address *int) (uint8, error) {
	if address == nil {
		return 0, fmt.Errorf("appliance %s needs a device address (device_address or --adr)", name)
	}
	return uint8(*address), nil
}

func callAC250K(ctx context.Context, psu *ac250k.PowerSupply, op string, a args) (any, error) {
	switch op {
	case "get_voltage":
		return psu.Voltage(ctx)
	case "set_voltage":
		v, err := a.integer(0, "VOLTS")
		if err != nil {
			return nil, err
		}
		return psu.SetVoltage(ctx, v)
	case "get_output":
		return psu.Output(ctx)
	case "set_output":
		on, err := a.flag(0, "STATE")
		if err != nil {
			return nil, err
		}
		return psu.SetOutput(ctx, on)
	case "identification":
		return psu.Identification(ctx)
	case "command":
		data, err := a.text(0, "DATA")
		if err != nil {
			return nil, err
		}
		return psu.Command(ctx, data)
	default:
		data, err := a.text(0, "DATA")
		if err != nil {
			return nil, err
		}
		return psu.Query(ctx, data)
	}
}

func callEVR116(ctx context.Context, v *evr116.Valve, op string, a args) (any, error) {
	switch op {
	case "get_position":
		return v.Position(ctx)
	case "set_position":
		pos, err := a.integer(0, "POSITION")
		if err != nil {
			return nil, err
		}
		return v.SetPosition(ctx, pos)
	case "open":
		return v.Open(ctx)
	default:
		return v.Close(ctx)
	}
}

func callDAS1210(ctx context.Context, das *das1210.DAS, op string, a args) (any, error) {
	if op == "version" {
		return das.Version(ctx)
	}
	ch, err := a.channel(0)
	if err != nil {
		return nil, err
	}

	switch op {
	case "get_range":
		return das.Range(ctx, ch)
	case "set_range":
		volts, err := a.number(1, "VOLTS")
		if err != nil {
			return nil, err
		}
		return das.SetRange(ctx, ch, volts)
	case "get_trigger":
		return das.Trigger(ctx, ch)
	case "set_trigger":
		rising, err := a.flag(1, "EDGE")
		if err != nil {
			return nil, err
		}
		return das.SetTrigger(ctx, ch, rising)
	case "get_sampling_frequency":
		return das.SamplingFrequency(ctx, ch)
	case "set_sampling_frequency":
		hz, err := a.number(1, "HZ")
		if err != nil {
			return nil, err
		}
		return das.SetSamplingFrequency(ctx, ch, hz)
	case "get_samples_count":
		return das.SamplesCount(ctx, ch)
	case "set_samples_count":
		n, err := a.integer(1, "COUNT")
		if err != nil {
			return nil, err
		}
		return das.SetSamplesCount(ctx, ch, int32(n))
	case "data_ready":
		return das.DataReady(ctx, ch)
	case "set_ready":
		return das.SetReady(ctx, ch)
	case "data":
		length, err := a.integer(1, "LENGTH")
		if err != nil {
			return nil, err
		}
		size, err := a.optionalInteger(2, "PACKET_SIZE", das1210.DefaultPacketSize)
		if err != nil {
			return nil, err
		}
		return das.Data(ctx, ch, length, size)
	default:
		seconds, err := a.optionalNumber(1, "SECONDS", 0)
		if err != nil {
			return nil, err
		}
		size, err := a.optionalInteger(2, "PACKET_SIZE", das1210.DefaultPacketSize)
		if err != nil {
			return nil, err
		}
		span, samples, err := das.Calibrated(ctx, ch, seconds, size)
		if err != nil {
			return nil, err
		}
		return calibratedResult{Seconds: span, Samples: samples}, nil
	}
}

func callQuido(ctx context.Context, m *quido.Module, op string, a args) (any, error) {
	switch op {
	case "outputs_state":
		return m.OutputsState(ctx)
	case "output_state":
		n, err := a.integer(0, "OUTPUT")
		if err != nil {
			return nil, err
		}
		return m.OutputState(ctx, n)
	default:
		if len(a) == 0 {
			return nil, fmt.Errorf("set_outputs_state needs at least one output")
		}
		outputs := make([]int, len(a))
		for i := range a {
			n, err := a.integer(i, "OUTPUT")
			if err != nil {
				return nil, err
			}
			outputs[i] = n
		}
		return m.SetOutputsState(ctx, outputs...)
	}
}

type calibratedResult struct {
	Seconds float64   `json:"seconds"`
	Samples []float64 `json:"samples"`
}

// args are the positional operation arguments.
type args []string

func (a args) text(i int, name string) (string, error) {
	if i >= len(a) {
		return "", fmt.Errorf("missing argument %s", name)
	}
	return a[i], nil
}

func (a args) integer(i int, name string) (int, error) {
	s, err := a.text(i, name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %s: invalid integer %q", name, s)
	}
	return int(n), nil
}

func (a args) optionalInteger(i int, name string, def int) (int, error) {
	if i >= len(a) {
		return def, nil
	}
	return a.integer(i, name)
}

func (a args) number(i int, name string) (float64, error) {
	s, err := a.text(i, name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %s: invalid number %q", name, s)
	}
	return f, nil
}

func (a args) optionalNumber(i int, name string, def float64) (float64, error) {
	if i >= len(a) {
		return def, nil
	}
	return a.number(i, name)
}

func (a args) flag(i int, name string) (bool, error) {
	s, err := a.text(i, name)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes", "rising":
		return true, nil
	case "off", "false", "0", "no", "falling":
		return false, nil
	}
	return false, fmt.Errorf("argument %s: expected on or off, got %q", name, s)
}

// channel reads a DAS1210 channel number, or "all" for every channel.
func (a args) channel(i int) (uint8, error) {
	s, err := a.text(i, "CHANNEL")
	if err != nil {
		return 0, err
	}
	if strings.EqualFold(s, "all") {
		return das1210.AllChannels, nil
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("argument CHANNEL: invalid channel %q", s)
	}
	return uint8(n), nil
}

// renderResult prints an operation result as a block or as JSON.
func renderResult(w io.Writer, title string, result any, asJSON bool) error {
	if asJSON {
		if b, ok := result.([]byte); ok {
			result = fmt.Sprintf("% X", b)
		}
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	switch v := result.(type) {
	case []byte:
		if v == nil {
			renderBlock(w, title, []row{{"result", "sent (no reply expected)"}})
			return nil
		}
		renderBlock(w, title, []row{{"result", "ok"}})
		if len(v) > 0 {
			renderHex(w, "reply", v)
		}
	case bool:
		renderBlock(w, title, []row{{"result", strconv.FormatBool(v)}})
	case []bool:
		rows := make([]row, len(v))
		for i, on := range v {
			state := "off"
			if on {
				state = "on"
			}
			rows[i] = row{fmt.Sprintf("output %d", i+1), state}
		}
		renderBlock(w, title, rows)
	case []ad4.Measurement:
		rows := make([]row, len(v))
		for i, m := range v {
			flags := []string{}
			if m.Valid {
				flags = append(flags, "valid")
			}
			if m.Underflow {
				flags = append(flags, "underflow")
			}
			if m.Overflow {
				flags = append(flags, "overflow")
			}
			rows[i] = row{fmt.Sprintf("channel %d", m.Channel), fmt.Sprintf("%d [%s]", m.Value, strings.Join(flags, ","))}
		}
		renderBlock(w, title, rows)
	case [][]byte:
		total := 0
		for _, page := range v {
			total += len(page)
		}
		renderBlock(w, title, []row{{"pages", strconv.Itoa(len(v))}, {"bytes", strconv.Itoa(total)}})
		if len(v) > 0 {
			renderHex(w, "first page", v[0])
		}
	case calibratedResult:
		rows := []row{
			{"span", fmt.Sprintf("%g s", v.Seconds)},
			{"samples", strconv.Itoa(len(v.Samples))},
		}
		if len(v.Samples) > 0 {
			lo, hi := v.Samples[0], v.Samples[0]
			for _, s := range v.Samples {
				lo = min(lo, s)
				hi = max(hi, s)
			}
			rows = append(rows, row{"min", fmt.Sprintf("%.4f V", lo)}, row{"max", fmt.Sprintf("%.4f V", hi)})
		}
		renderBlock(w, title, rows)
	default:
		renderBlock(w, title, []row{{"result", fmt.Sprint(v)}})
	}
	return nil
}
