package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/tturner/dcpf/internal/capture"
	"github.com/tturner/dcpf/internal/config"
	"github.com/tturner/dcpf/internal/device"
	dcpferrors "github.com/tturner/dcpf/internal/errors"
	"github.com/tturner/dcpf/internal/logging"
	"github.com/tturner/dcpf/internal/metrics"
	"github.com/tturner/dcpf/internal/protocol/registry"
	"github.com/tturner/dcpf/internal/transport"
)

// DeviceOptions selects a device from the config file, or describes one
// directly when Device is empty.
type DeviceOptions struct {
	ConfigPath string
	Device     string

	Protocol      string
	Transport     string
	Address       string
	DeviceAddress *int // nil keeps the configured or protocol default
	TimeoutMs     *int // nil keeps the configured timeout
	Serve         bool

	LogLevel    string
	PcapFile    string
	MetricsCSV  string
	MetricsJSON string

	// Out receives rendered results. Nil means stdout.
	Out io.Writer
}

func (o DeviceOptions) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

// resolve loads or builds the configuration and returns the selected entry
// with command-line overrides applied.
func (o DeviceOptions) resolve() (*config.Config, *config.DeviceConfig, error) {
	var (
		cfg   *config.Config
		entry *config.DeviceConfig
		err   error
	)

	if o.Device != "" {
		cfg, err = config.LoadConfig(o.ConfigPath, false)
		if err != nil {
			return nil, nil, err
		}
		entry, err = cfg.Device(o.Device)
		if err != nil {
			return nil, nil, dcpferrors.WrapConfigError(err, o.ConfigPath)
		}
		if o.Address != "" {
			entry.Address = o.Address
		}
		if o.Serve {
			entry.Serve = true
		}
	} else {
		if o.Protocol == "" || o.Address == "" {
			return nil, nil, fmt.Errorf("either --device or both --protocol and --address are required")
		}
		cfg, err = config.FromDevice(config.DeviceConfig{
			Name:      o.Address,
			Protocol:  o.Protocol,
			Transport: o.Transport,
			Address:   o.Address,
			Serve:     o.Serve,
		})
		if err != nil {
			return nil, nil, dcpferrors.WrapConfigError(err, "command line")
		}
		entry = &cfg.Devices[0]
	}

	if o.TimeoutMs != nil {
		if *o.TimeoutMs < 0 {
			return nil, nil, fmt.Errorf("timeout must be >= 0")
		}
		timeout := *o.TimeoutMs
		entry.TimeoutMs = &timeout
	}
	if o.DeviceAddress != nil {
		if *o.DeviceAddress < 0 || *o.DeviceAddress > 0xFF {
			return nil, nil, fmt.Errorf("device address %d out of range 0x00-0xFF", *o.DeviceAddress)
		}
		adr := *o.DeviceAddress
		entry.DeviceAddress = &adr
	}
	if o.LogLevel != "" {
		if _, err := logging.ParseLevel(o.LogLevel); err != nil {
			return nil, nil, err
		}
		cfg.Logging.Level = o.LogLevel
	}
	if o.PcapFile != "" {
		cfg.Capture.PcapFile = o.PcapFile
	}
	if o.MetricsCSV != "" {
		cfg.Metrics.CSVFile = o.MetricsCSV
	}
	if o.MetricsJSON != "" {
		cfg.Metrics.JSONFile = o.MetricsJSON
	}
	return cfg, entry, nil
}

// session is an open device together with the logger, metrics and capture
// attached to it for one command.
type session struct {
	cfg      *config.Config
	entry    *config.DeviceConfig
	logger   *logging.Logger
	device   *device.Device
	sink     *metrics.Sink
	writer   *metrics.Writer
	capture  *capture.Writer
	recorder *transport.Recorder
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.NewLoggerWithOptions(cfg.LogLevel(), cfg.Logging.File, cfg.Logging.Format, cfg.Logging.LogEveryN)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

// openSession builds the device described by opts and connects it.
func openSession(ctx context.Context, command string, opts DeviceOptions) (*session, error) {
	cfg, entry, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	return connectSession(ctx, command, cfg, entry, opts.ConfigPath)
}

func connectSession(ctx context.Context, command string, cfg *config.Config, entry *config.DeviceConfig, configPath string) (*session, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, entry: entry, logger: logger, sink: metrics.NewSink()}

	logger.LogStartup(command, entry.Name, entry.Protocol, entry.Transport, entry.Address, configPath)

	p, err := registry.New(entry.Protocol)
	if err != nil {
		s.Close()
		return nil, err
	}

	topts := entry.TransportOptions()
	if entry.Serve {
		topts.OnListen = func(addr string) {
			logger.Info("Waiting for %s to connect on %s", entry.Name, addr)
		}
	}
	t, err := transport.New(entry.Transport, topts)
	if err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Capture.PcapFile != "" {
		w, err := capture.Create(cfg.Capture.PcapFile, captureOptions(cfg, entry))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("create capture: %w", err)
		}
		s.capture = w
		s.recorder = transport.NewRecorder(t, w)
		t = s.recorder
		logger.Verbose("Recording traffic to %s", cfg.Capture.PcapFile)
	}

	dopts := device.Options{
		Name:             entry.Name,
		Address:          entry.Address,
		Serve:            entry.Serve,
		SendByteCount:    entry.SendByteCount,
		ReceiveByteCount: entry.ReceiveByteCount,
		Logger:           logger,
		Metrics:          s.sink,
	}
	if cfg.Metrics.CSVFile != "" || cfg.Metrics.JSONFile != "" {
		w, err := metrics.NewWriter(cfg.Metrics.CSVFile, cfg.Metrics.JSONFile)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("create metrics writer: %w", err)
		}
		s.writer = w
		dopts.MetricWriter = w
	}

	s.device = device.New(p, t, dopts)
	if err := s.device.Connect(ctx); err != nil {
		s.Close()
		return nil, dcpferrors.WrapTransportError(err, entry.Address)
	}
	return s, nil
}

func captureOptions(cfg *config.Config, entry *config.DeviceConfig) capture.Options {
	opts := capture.Options{
		HostIP:   net.ParseIP(cfg.Capture.HostIP),
		DeviceIP: net.ParseIP(cfg.Capture.DeviceIP),
	}
	if entry.Transport == "tcp" {
		if _, port, err := net.SplitHostPort(entry.Address); err == nil {
			if n, err := strconv.ParseUint(port, 10, 16); err == nil {
				opts.DevicePort = uint16(n)
			}
		}
	}
	return opts
}

// wrap turns err into a user-facing error for operation.
func (s *session) wrap(err error, operation string) error {
	return dcpferrors.Wrap(err, s.entry.Address, s.entry.Protocol, operation)
}

// Close disconnects the device and flushes metrics and capture files.
func (s *session) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.device != nil {
		keep(s.device.Disconnect(context.Background()))
	}
	if s.recorder != nil {
		if err := s.recorder.Err(); err != nil {
			s.logger.Error("capture: %v", err)
		}
	}
	if s.capture != nil {
		keep(s.capture.Close())
		s.logger.Info("Captured %d chunks to %s", s.capture.Count(), s.cfg.Capture.PcapFile)
	}
	if s.writer != nil {
		keep(s.writer.Close())
	}
	keep(s.logger.Close())
	return firstErr
}
