package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tturner/dcpf/internal/app"
)

func handleHelpArg(cmd *cobra.Command, args []string) bool {
	if len(args) == 0 {
		return false
	}
	if strings.EqualFold(args[0], "help") {
		_ = cmd.Help()
		return true
	}
	return false
}

func missingFlagError(cmd *cobra.Command, flag string) error {
	_ = cmd.Help()
	return fmt.Errorf("required flag %s not set", flag)
}

// deviceFlags selects a device, shared by query and call.
type deviceFlags struct {
	configPath    string
	device        string
	protocol      string
	transport     string
	address       string
	deviceAddress int
	timeoutMs     int
	serve         bool
	logLevel      string
	pcapFile      string
	metricsCSV    string
	metricsJSON   string
}

func addDeviceFlags(cmd *cobra.Command, flags *deviceFlags) {
	cmd.Flags().StringVar(&flags.configPath, "config", "dcpf.yaml", "Configuration file")
	cmd.Flags().StringVarP(&flags.device, "device", "d", "", "Device name from the configuration file")
	cmd.Flags().StringVar(&flags.protocol, "protocol", "", "Protocol when no --device is given (spinel66, spinel97, evr116, ac250k)")
	cmd.Flags().StringVar(&flags.transport, "transport", "tcp", "Transport when no --device is given (tcp, serial, pipe, ssh)")
	cmd.Flags().StringVar(&flags.address, "address", "", "Transport address (host:port, serial port path); overrides the configured one")
	cmd.Flags().IntVar(&flags.deviceAddress, "adr", 0, "Protocol-level device address (ADR), e.g. 0x31")
	cmd.Flags().IntVar(&flags.timeoutMs, "timeout-ms", 0, "Receive timeout in milliseconds (0 waits indefinitely)")
	cmd.Flags().BoolVar(&flags.serve, "serve", false, "Listen on the address and wait for the device to connect (tcp only)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level: silent, error, info, verbose, debug")
	cmd.Flags().StringVar(&flags.pcapFile, "pcap", "", "Record exchanged bytes to a pcap file")
	cmd.Flags().StringVar(&flags.metricsCSV, "metrics-csv", "", "Write per-query metrics to a CSV file")
	cmd.Flags().StringVar(&flags.metricsJSON, "metrics-json", "", "Write per-query metrics to a JSON file")
}

func (f *deviceFlags) validate(cmd *cobra.Command) error {
	if f.device == "" && f.protocol == "" {
		return missingFlagError(cmd, "--device or --protocol")
	}
	if f.device == "" && f.address == "" {
		return missingFlagError(cmd, "--address")
	}
	return nil
}

func (f *deviceFlags) options(cmd *cobra.Command) app.DeviceOptions {
	opts := app.DeviceOptions{
		ConfigPath:  f.configPath,
		Device:      f.device,
		Protocol:    f.protocol,
		Transport:   f.transport,
		Address:     f.address,
		Serve:       f.serve,
		LogLevel:    f.logLevel,
		PcapFile:    f.pcapFile,
		MetricsCSV:  f.metricsCSV,
		MetricsJSON: f.metricsJSON,
		Out:         cmd.OutOrStdout(),
	}
	if cmd.Flags().Changed("adr") {
		adr := f.deviceAddress
		opts.DeviceAddress = &adr
	}
	if cmd.Flags().Changed("timeout-ms") {
		timeout := f.timeoutMs
		opts.TimeoutMs = &timeout
	}
	return opts
}
