package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tturner/dcpf/internal/config"
	"github.com/tturner/dcpf/internal/emulator"
	"github.com/tturner/dcpf/internal/logging"
	"github.com/tturner/dcpf/internal/metrics"
	"github.com/tturner/dcpf/internal/protocol/registry"
	"github.com/tturner/dcpf/internal/transport"
)

// EmulateOptions configures an emulated device.
type EmulateOptions struct {
	Appliance string
	Protocol  string
	Address   *int // device address answered; nil uses the appliance default

	Transport string // tcp (any number of clients) or serial
	Listen    string // host:port for tcp, port path for serial
	Serial    transport.PortOptions

	SkipChecksum bool
	ReplyDelay   time.Duration
	Duration     time.Duration // 0 runs until interrupted

	LogLevel string
	LogFile  string
}

func defaultEmulatorAddress(appliance string) int {
	if strings.EqualFold(appliance, "quido") {
		return 0x31
	}
	return 1
}

// RunEmulate serves an emulated appliance or bare protocol device until
// interrupted or until Duration elapses.
func RunEmulate(opts EmulateOptions) error {
	protocolName := opts.Protocol
	if protocolName == "" {
		protocolName = config.DefaultProtocol(opts.Appliance)
	}
	if protocolName == "" {
		return fmt.Errorf("--protocol or a known --appliance is required")
	}
	p, err := registry.New(protocolName)
	if err != nil {
		return err
	}

	address := defaultEmulatorAddress(opts.Appliance)
	if opts.Address != nil {
		address = *opts.Address
	}
	if address < 0 || address > 0xFF {
		return fmt.Errorf("device address %d out of range 0x00-0xFF", address)
	}
	handler, err := emulator.HandlerFor(opts.Appliance, protocolName, uint8(address))
	if err != nil {
		return err
	}

	level := logging.LogLevelInfo
	if opts.LogLevel != "" {
		if level, err = logging.ParseLevel(opts.LogLevel); err != nil {
			return err
		}
	}
	logger, err := logging.NewLogger(level, opts.LogFile)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()

	sink := metrics.NewSink()
	eopts := emulator.Options{
		SkipChecksum: opts.SkipChecksum,
		ReplyDelay:   opts.ReplyDelay,
		Logger:       logger,
		Metrics:      sink,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	name := opts.Appliance
	if name == "" {
		name = protocolName
	}

	switch strings.ToLower(opts.Transport) {
	case "", "tcp":
		listen := opts.Listen
		if listen == "" {
			listen = "127.0.0.1:10001"
		}
		srv := emulator.NewServer(p, handler, eopts)
		if err := srv.Start(listen); err != nil {
			return err
		}
		renderBlock(os.Stdout, "dcpf emulator", []row{
			{"device", name},
			{"protocol", p.Name()},
			{"address", fmt.Sprintf("0x%02X", address)},
			{"listening", srv.Addr()},
		})
		<-ctx.Done()
		fmt.Fprintln(os.Stdout, "\nShutting down emulator...")
		if err := srv.Stop(); err != nil {
			return fmt.Errorf("stop emulator: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Connections served: %d\n", srv.Connections())
	case "serial":
		if opts.Listen == "" {
			return fmt.Errorf("serial emulation needs a port path")
		}
		t := transport.NewSerial(transport.Options{Timeout: time.Second, Serial: opts.Serial})
		if err := t.Connect(ctx, opts.Listen, false); err != nil {
			return err
		}
		defer t.Disconnect(context.Background(), opts.Listen, false)
		renderBlock(os.Stdout, "dcpf emulator", []row{
			{"device", name},
			{"protocol", p.Name()},
			{"address", fmt.Sprintf("0x%02X", address)},
			{"port", t.String()},
		})
		session := emulator.NewSession(p, handler, eopts)
		if err := session.Serve(ctx, t); err != nil {
			return err
		}
	default:
		return fmt.Errorf("emulation over %q is not supported (use tcp or serial)", opts.Transport)
	}

	renderSummary(os.Stdout, sink)
	return nil
}
