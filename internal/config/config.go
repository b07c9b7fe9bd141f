package config

// Configuration loading and validation for dcpf

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tturner/dcpf/internal/errors"
	"github.com/tturner/dcpf/internal/logging"
	"github.com/tturner/dcpf/internal/protocol"
	"github.com/tturner/dcpf/internal/protocol/registry"
	"github.com/tturner/dcpf/internal/transport"
)

const (
	DefaultTimeoutMs        = 2000
	DefaultConnectTimeoutMs = 5000
)

// Appliances lists the driver names a device entry may select.
var Appliances = []string{"ac250k", "ad4", "das1210", "evr116", "quido"}

// applianceProtocols maps each appliance driver to the protocols it can run on.
var applianceProtocols = map[string][]string{
	"ac250k":  {"ac250k"},
	"evr116":  {"evr116"},
	"das1210": {"spinel97"},
	"quido":   {"spinel97"},
	"ad4":     {"spinel97"},
}

// DefaultProtocol returns the protocol an appliance speaks, or "" for an
// unknown appliance.
func DefaultProtocol(appliance string) string {
	protocols := applianceProtocols[strings.ToLower(appliance)]
	if len(protocols) == 0 {
		return ""
	}
	return protocols[0]
}

// Config represents the dcpf configuration file
type Config struct {
	Logging LoggingConfig  `yaml:"logging"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Capture CaptureConfig  `yaml:"capture"`
	Devices []DeviceConfig `yaml:"devices"`
}

// LoggingConfig controls log verbosity and destination.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	Format    string `yaml:"format,omitempty"`      // text or json
	LogEveryN int    `yaml:"log_every_n,omitempty"` // console sampling
}

// MetricsConfig selects where per-query metrics are written.
type MetricsConfig struct {
	CSVFile  string `yaml:"csv_file"`
	JSONFile string `yaml:"json_file"`
}

// CaptureConfig enables pcap recording of exchanged bytes.
type CaptureConfig struct {
	PcapFile string `yaml:"pcap_file"`
	HostIP   string `yaml:"host_ip,omitempty"`
	DeviceIP string `yaml:"device_ip,omitempty"`
}

// ChecksConfig tunes response validation for one device.
type ChecksConfig struct {
	SkipChecksum bool  `yaml:"skip_checksum,omitempty"`
	AcceptAcks   []int `yaml:"accept_acks,omitempty"`
}

// DeviceConfig describes one device: the protocol it speaks and how to
// reach it.
type DeviceConfig struct {
	Name             string                `yaml:"name"`
	Protocol         string                `yaml:"protocol"`
	Appliance        string                `yaml:"appliance,omitempty"`
	Transport        string                `yaml:"transport"`
	Address          string                `yaml:"address"`
	Serve            bool                  `yaml:"serve,omitempty"`
	TimeoutMs        *int                  `yaml:"timeout_ms,omitempty"`
	ConnectTimeoutMs int                   `yaml:"connect_timeout_ms,omitempty"`
	SendByteCount    int                   `yaml:"send_byte_count,omitempty"`
	ReceiveByteCount int                   `yaml:"receive_byte_count,omitempty"`
	DeviceAddress    *int                  `yaml:"device_address,omitempty"`
	Command          []string              `yaml:"command,omitempty"`
	Serial           transport.PortOptions `yaml:"serial,omitempty"`
	SSH              transport.SSHOptions  `yaml:"ssh,omitempty"`
	Checks           ChecksConfig          `yaml:"checks,omitempty"`
}

// Timeout returns the receive timeout. Zero means wait indefinitely.
func (d DeviceConfig) Timeout() time.Duration {
	if d.TimeoutMs == nil {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(*d.TimeoutMs) * time.Millisecond
}

// TransportOptions converts the device entry into transport options.
func (d DeviceConfig) TransportOptions() transport.Options {
	opts := transport.DefaultOptions()
	opts.Timeout = d.Timeout()
	if d.ConnectTimeoutMs > 0 {
		opts.ConnectTimeout = time.Duration(d.ConnectTimeoutMs) * time.Millisecond
	}
	opts.Serial = d.Serial
	opts.Command = d.Command

	ssh := transport.DefaultSSHOptions()
	if d.SSH.User != "" {
		ssh.User = d.SSH.User
	}
	if d.SSH.KeyFile != "" {
		ssh.KeyFile = d.SSH.KeyFile
	}
	if d.SSH.KnownHostsFile != "" {
		ssh.KnownHostsFile = d.SSH.KnownHostsFile
	}
	if d.SSH.Port != 0 {
		ssh.Port = d.SSH.Port
	}
	if d.SSH.Command != "" {
		ssh.Command = d.SSH.Command
	}
	ssh.InsecureIgnoreHost = d.SSH.InsecureIgnoreHost
	ssh.ConnectTimeout = opts.ConnectTimeout
	opts.SSH = ssh
	return opts
}

// CheckOptions converts the checks section into validation options.
func (d DeviceConfig) CheckOptions() protocol.CheckOptions {
	opts := protocol.CheckOptions{SkipChecksum: d.Checks.SkipChecksum}
	for _, code := range d.Checks.AcceptAcks {
		opts.AcceptAcks = append(opts.AcceptAcks, uint8(code))
	}
	return opts
}

// Device returns the device entry with the given name.
func (c *Config) Device(name string) (*DeviceConfig, error) {
	for i := range c.Devices {
		if strings.EqualFold(c.Devices[i].Name, name) {
			return &c.Devices[i], nil
		}
	}
	names := make([]string, 0, len(c.Devices))
	for _, d := range c.Devices {
		names = append(names, d.Name)
	}
	return nil, fmt.Errorf("device %q not found in config (available: %s)", name, strings.Join(names, ", "))
}

// LogLevel returns the parsed logging level.
func (c *Config) LogLevel() logging.LogLevel {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.LogLevelInfo
	}
	return level
}

// CreateDefaultConfig creates a default configuration
func CreateDefaultConfig() *Config {
	timeout := DefaultTimeoutMs
	quidoAddr := 0x31
	ad4Addr := 0x01
	psuAddr := 1
	cfg := &Config{
		Logging: LoggingConfig{Level: "info"},
		Devices: []DeviceConfig{
			{
				Name:          "quido",
				Protocol:      "spinel97",
				Appliance:     "quido",
				Transport:     "tcp",
				Address:       "192.168.1.254:10001",
				TimeoutMs:     &timeout,
				DeviceAddress: &quidoAddr,
			},
			{
				Name:          "ad4",
				Protocol:      "spinel97",
				Appliance:     "ad4",
				Transport:     "serial",
				Address:       "/dev/ttyUSB0",
				TimeoutMs:     &timeout,
				DeviceAddress: &ad4Addr,
				Serial:        transport.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
			},
			{
				Name:          "psu",
				Protocol:      "ac250k",
				Appliance:     "ac250k",
				Transport:     "serial",
				Address:       "/dev/ttyUSB1",
				TimeoutMs:     &timeout,
				DeviceAddress: &psuAddr,
				Serial:        transport.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
			},
			{
				Name:      "valve",
				Protocol:  "evr116",
				Appliance: "evr116",
				Transport: "serial",
				Address:   "/dev/ttyUSB2",
				TimeoutMs: &timeout,
				Serial:    transport.PortOptions{BaudRate: 300, DataBits: 7, StopBits: 2, Parity: "N"},
			},
		},
	}
	applyDefaults(cfg)
	return cfg
}

// WriteDefaultConfig writes a default configuration to a file
func WriteDefaultConfig(path string) error {
	cfg := CreateDefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// LoadConfig loads a configuration from a YAML file
// If the file doesn't exist and autoCreate is true, it will create a default config file
func LoadConfig(path string, autoCreate bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if !autoCreate {
				return nil, errors.WrapConfigError(
					fmt.Errorf("config file not found: %s", path),
					path,
				)
			}
			if err := WriteDefaultConfig(path); err != nil {
				return nil, fmt.Errorf("create default config: %w", err)
			}
			data, err = os.ReadFile(path)
			if err != nil {
				return nil, errors.WrapConfigError(
					fmt.Errorf("read created config file: %w", err),
					path,
				)
			}
		} else {
			return nil, errors.WrapConfigError(
				fmt.Errorf("read config file: %w", err),
				path,
			)
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.WrapConfigError(err, path)
	}
	return cfg, nil
}

// Parse decodes, defaults and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// FromDevice builds a configuration holding only d, for devices described
// on the command line instead of in a file.
func FromDevice(d DeviceConfig) (*Config, error) {
	cfg := &Config{Devices: []DeviceConfig{d}}
	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.LogEveryN == 0 {
		cfg.Logging.LogEveryN = 1
	}
	if cfg.Capture.HostIP == "" {
		cfg.Capture.HostIP = "10.0.0.1"
	}
	if cfg.Capture.DeviceIP == "" {
		cfg.Capture.DeviceIP = "10.0.0.2"
	}
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		d.Protocol = strings.ToLower(strings.TrimSpace(d.Protocol))
		d.Appliance = strings.ToLower(strings.TrimSpace(d.Appliance))
		d.Transport = strings.ToLower(strings.TrimSpace(d.Transport))
		if d.Transport == "" {
			d.Transport = "tcp"
		}
		if d.TimeoutMs == nil {
			timeout := DefaultTimeoutMs
			d.TimeoutMs = &timeout
		}
		if d.ConnectTimeoutMs == 0 {
			d.ConnectTimeoutMs = DefaultConnectTimeoutMs
		}
		if d.ReceiveByteCount == 0 {
			d.ReceiveByteCount = transport.DefaultReceiveSize
		}
		if d.Transport == "serial" {
			if normalized, err := d.Serial.Normalize(); err == nil {
				d.Serial = normalized
			}
		}
	}
}

// ValidateConfig validates a configuration
func ValidateConfig(cfg *Config) error {
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if cfg.Logging.Format != "" && cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging: format must be text or json, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.LogEveryN < 0 {
		return fmt.Errorf("logging: log_every_n must be >= 0")
	}
	for _, ip := range []string{cfg.Capture.HostIP, cfg.Capture.DeviceIP} {
		if ip != "" && net.ParseIP(ip).To4() == nil {
			return fmt.Errorf("capture: %q is not an IPv4 address", ip)
		}
	}

	if len(cfg.Devices) == 0 {
		return fmt.Errorf("at least one device is required")
	}

	seen := make(map[string]bool, len(cfg.Devices))
	for i, d := range cfg.Devices {
		if err := validateDevice(d, i); err != nil {
			return err
		}
		key := strings.ToLower(d.Name)
		if seen[key] {
			return fmt.Errorf("devices[%d]: duplicate device name %q", i, d.Name)
		}
		seen[key] = true
	}
	return nil
}

// validateDevice validates a single device entry
func validateDevice(d DeviceConfig, index int) error {
	if d.Name == "" {
		return fmt.Errorf("devices[%d]: name is required", index)
	}
	if d.Protocol == "" {
		return fmt.Errorf("devices[%d] (%s): protocol is required", index, d.Name)
	}
	if _, err := registry.New(d.Protocol); err != nil {
		return fmt.Errorf("devices[%d] (%s): %w", index, d.Name, err)
	}
	if _, err := transport.New(d.Transport, transport.Options{}); err != nil {
		return fmt.Errorf("devices[%d] (%s): %w", index, d.Name, err)
	}
	if d.Address == "" && !(d.Transport == "pipe" && len(d.Command) > 0) {
		return fmt.Errorf("devices[%d] (%s): address is required", index, d.Name)
	}
	if d.Serve && d.Transport != "tcp" {
		return fmt.Errorf("devices[%d] (%s): serve mode is only supported by the tcp transport", index, d.Name)
	}
	if d.Transport == "tcp" {
		if _, _, err := net.SplitHostPort(d.Address); err != nil {
			return fmt.Errorf("devices[%d] (%s): address must be host:port: %w", index, d.Name, err)
		}
	}
	if d.Transport == "serial" {
		if _, err := d.Serial.Normalize(); err != nil {
			return fmt.Errorf("devices[%d] (%s): serial: %w", index, d.Name, err)
		}
	}
	if d.TimeoutMs != nil && *d.TimeoutMs < 0 {
		return fmt.Errorf("devices[%d] (%s): timeout_ms must be >= 0", index, d.Name)
	}
	if d.SendByteCount < 0 {
		return fmt.Errorf("devices[%d] (%s): send_byte_count must be >= 0", index, d.Name)
	}
	if d.ReceiveByteCount < 0 {
		return fmt.Errorf("devices[%d] (%s): receive_byte_count must be >= 0", index, d.Name)
	}
	if d.DeviceAddress != nil && (*d.DeviceAddress < 0 || *d.DeviceAddress > 0xFF) {
		return fmt.Errorf("devices[%d] (%s): device_address must be between 0x00 and 0xFF", index, d.Name)
	}
	for _, code := range d.Checks.AcceptAcks {
		if code < 0 || code > 0xFF {
			return fmt.Errorf("devices[%d] (%s): accept_acks entry %d out of range", index, d.Name, code)
		}
	}
	if d.Appliance != "" {
		protocols, ok := applianceProtocols[d.Appliance]
		if !ok {
			return fmt.Errorf("devices[%d] (%s): unknown appliance %q (available: %s)",
				index, d.Name, d.Appliance, strings.Join(Appliances, ", "))
		}
		if !contains(protocols, d.Protocol) {
			return fmt.Errorf("devices[%d] (%s): appliance %s requires protocol %s, got %s",
				index, d.Name, d.Appliance, strings.Join(protocols, " or "), d.Protocol)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
