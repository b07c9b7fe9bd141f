package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tturner/dcpf/internal/appliance/ac250k"
	"github.com/tturner/dcpf/internal/appliance/ad4"
	"github.com/tturner/dcpf/internal/appliance/das1210"
	"github.com/tturner/dcpf/internal/appliance/evr116"
	"github.com/tturner/dcpf/internal/appliance/quido"
	"github.com/tturner/dcpf/internal/capture"
	"github.com/tturner/dcpf/internal/config"
	"github.com/tturner/dcpf/internal/device"
	"github.com/tturner/dcpf/internal/emulator"
	"github.com/tturner/dcpf/internal/logging"
	"github.com/tturner/dcpf/internal/metrics"
	"github.com/tturner/dcpf/internal/protocol/registry"
	"github.com/tturner/dcpf/internal/transport"
)

// SelfTestOptions configures a loopback selftest.
type SelfTestOptions struct {
	Appliances []string // empty runs every appliance
	LatencyMs  int      // emulator reply delay
	PcapFile   string   // record client traffic when set
	LogLevel   string
	Out        io.Writer
}

type selfTest struct {
	appliance string
	handler   func() emulator.Handler
	run       func(ctx context.Context, d *device.Device) error
}

var selfTests = []selfTest{
	{
		appliance: "quido",
		handler:   func() emulator.Handler { return emulator.QuidoRegisters(0x31, 16).Handle },
		run: func(ctx context.Context, d *device.Device) error {
			m := quido.New(d, 0x31)
			if _, err := m.SetOutputsState(ctx, 1, 4, -1, 16); err != nil {
				return fmt.Errorf("set outputs: %w", err)
			}
			states, err := m.OutputsState(ctx)
			if err != nil {
				return fmt.Errorf("read outputs: %w", err)
			}
			if len(states) != 16 || states[0] || !states[3] || !states[15] {
				return fmt.Errorf("unexpected output states %v", states)
			}
			return nil
		},
	},
	{
		appliance: "ad4",
		handler: func() emulator.Handler {
			return emulator.AD4Registers(0x01, [4]uint16{100, 200, 300, 400}).Handle
		},
		run: func(ctx context.Context, d *device.Device) error {
			values, err := ad4.New(d, 0x01).MeasuredValues(ctx)
			if err != nil {
				return err
			}
			for i, v := range values {
				if !v.Valid || v.Value != uint16(100*(i+1)) {
					return fmt.Errorf("channel %d: unexpected measurement %+v", i+1, v)
				}
			}
			return nil
		},
	},
	{
		appliance: "das1210",
		handler:   func() emulator.Handler { return emulator.DAS1210Registers().Handle },
		run: func(ctx context.Context, d *device.Device) error {
			das := das1210.New(d)
			if _, err := das.Version(ctx); err != nil {
				return fmt.Errorf("version: %w", err)
			}
			if _, err := das.SetRange(ctx, 2, 5); err != nil {
				return fmt.Errorf("set range: %w", err)
			}
			r, err := das.Range(ctx, 2)
			if err != nil {
				return fmt.Errorf("range: %w", err)
			}
			if r != 5 {
				return fmt.Errorf("range read back %g, want 5", r)
			}
			pages, err := das.Data(ctx, 2, 64, 32)
			if err != nil {
				return fmt.Errorf("data: %w", err)
			}
			if len(pages) != 2 || len(pages[1]) != 64 {
				return fmt.Errorf("unexpected data pages")
			}
			return nil
		},
	},
	{
		appliance: "evr116",
		handler:   func() emulator.Handler { return emulator.NewEchoValve().Handle },
		run: func(ctx context.Context, d *device.Device) error {
			v := evr116.New(d)
			if _, err := v.SetPosition(ctx, 2048); err != nil {
				return fmt.Errorf("set position: %w", err)
			}
			pos, err := v.Position(ctx)
			if err != nil {
				return fmt.Errorf("position: %w", err)
			}
			if pos != 1024 {
				return fmt.Errorf("position read back %d, want 1024", pos)
			}
			if _, err := v.Open(ctx); err != nil {
				return fmt.Errorf("open: %w", err)
			}
			return nil
		},
	},
	{
		appliance: "ac250k",
		handler:   func() emulator.Handler { return emulator.NewPowerSupply(1).Handle },
		run: func(ctx context.Context, d *device.Device) error {
			psu := ac250k.New(d, 1)
			if ok, err := psu.SetVoltage(ctx, 230); err != nil || !ok {
				return fmt.Errorf("set voltage: ok=%t err=%v", ok, err)
			}
			v, err := psu.Voltage(ctx)
			if err != nil {
				return fmt.Errorf("voltage: %w", err)
			}
			if v != 230 {
				return fmt.Errorf("voltage read back %d, want 230", v)
			}
			if _, err := psu.Identification(ctx); err != nil {
				return fmt.Errorf("identification: %w", err)
			}
			return nil
		},
	},
}

// RunSelfTest starts an in-process emulator for each appliance, drives it
// over loopback TCP and reports the result of every check.
func RunSelfTest(opts SelfTestOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	level := logging.LogLevelError
	if opts.LogLevel != "" {
		var err error
		if level, err = logging.ParseLevel(opts.LogLevel); err != nil {
			return err
		}
	}
	logger, err := logging.NewLogger(level, "")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()

	var rec *capture.Writer
	if opts.PcapFile != "" {
		rec, err = capture.Create(opts.PcapFile, capture.Options{})
		if err != nil {
			return fmt.Errorf("create capture: %w", err)
		}
		defer rec.Close()
	}

	selected := make(map[string]bool, len(opts.Appliances))
	for _, name := range opts.Appliances {
		selected[strings.ToLower(name)] = true
	}

	sink := metrics.NewSink()
	failed := 0
	ran := 0
	for _, tc := range selfTests {
		if len(selected) > 0 && !selected[tc.appliance] {
			continue
		}
		ran++
		err := runSelfTestCase(tc, opts, logger, sink, rec)
		if err != nil {
			failed++
			renderStatus(out, false, fmt.Sprintf("%-8s %v", tc.appliance, err))
			continue
		}
		renderStatus(out, true, tc.appliance)
	}
	if ran == 0 {
		return fmt.Errorf("no selftest matches %s", strings.Join(opts.Appliances, ", "))
	}

	renderSummary(out, sink)
	if rec != nil {
		fmt.Fprintf(out, "\nCaptured %d chunks to %s\n", rec.Count(), opts.PcapFile)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d selftests failed", failed, ran)
	}
	return nil
}

func runSelfTestCase(tc selfTest, opts SelfTestOptions, logger *logging.Logger, sink *metrics.Sink, rec *capture.Writer) error {
	p, err := registry.New(config.DefaultProtocol(tc.appliance))
	if err != nil {
		return err
	}

	srv := emulator.NewServer(p, tc.handler(), emulator.Options{
		ReplyDelay: time.Duration(opts.LatencyMs) * time.Millisecond,
		Logger:     logger,
	})
	if err := srv.Start("127.0.0.1:0"); err != nil {
		return fmt.Errorf("start emulator: %w", err)
	}
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var t transport.Transport = transport.NewTCP(transport.Options{
		Timeout:        2 * time.Second,
		ConnectTimeout: 2 * time.Second,
	})
	if rec != nil {
		t = transport.NewRecorder(t, rec)
	}
	d := device.New(p, t, device.Options{
		Name:    tc.appliance,
		Address: srv.Addr(),
		Logger:  logger,
		Metrics: sink,
	})
	if err := d.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer d.Disconnect(context.Background())

	return tc.run(ctx, d)
}
