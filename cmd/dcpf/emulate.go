package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tturner/dcpf/internal/app"
	"github.com/tturner/dcpf/internal/transport"
)

type emulateFlags struct {
	appliance    string
	protocol     string
	address      int
	transport    string
	listen       string
	baudRate     int
	dataBits     int
	stopBits     int
	parity       string
	skipChecksum bool
	replyDelay   time.Duration
	duration     time.Duration
	logLevel     string
	logFile      string
}

func newEmulateCmd() *cobra.Command {
	flags := &emulateFlags{}

	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Emulate an appliance for testing without hardware",
		Long: `Serve an emulated appliance over TCP or a serial port. Requests are framed
and validated exactly as a client would frame them; invalid or broadcast
requests get no reply.

Without --appliance the emulator answers every valid request with an empty
successful reply for the chosen protocol.`,
		Example: `  # Emulate a Quido I/O module on the default port
  dcpf emulate --appliance quido

  # Emulate the power supply on a serial port for one minute
  dcpf emulate --appliance ac250k --transport serial --listen /dev/ttyUSB1 --duration 1m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if flags.appliance == "" && flags.protocol == "" {
				return missingFlagError(cmd, "--appliance or --protocol")
			}
			return runEmulate(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.appliance, "appliance", "", "Appliance to emulate (ac250k, evr116, das1210, quido, ad4)")
	cmd.Flags().StringVar(&flags.protocol, "protocol", "", "Protocol (defaults to the appliance's protocol)")
	cmd.Flags().IntVar(&flags.address, "adr", 0, "Device address to answer (default 0x31 for quido, 1 otherwise)")
	cmd.Flags().StringVar(&flags.transport, "transport", "tcp", "tcp or serial")
	cmd.Flags().StringVar(&flags.listen, "listen", "", "Listen address (tcp, default 127.0.0.1:10001) or serial port path")
	cmd.Flags().IntVar(&flags.baudRate, "baud", 0, "Serial baud rate")
	cmd.Flags().IntVar(&flags.dataBits, "data-bits", 0, "Serial data bits")
	cmd.Flags().IntVar(&flags.stopBits, "stop-bits", 0, "Serial stop bits")
	cmd.Flags().StringVar(&flags.parity, "parity", "", "Serial parity (N, E, O)")
	cmd.Flags().BoolVar(&flags.skipChecksum, "skip-checksum", false, "Accept requests with a wrong checksum")
	cmd.Flags().DurationVar(&flags.replyDelay, "reply-delay", 0, "Delay before each reply")
	cmd.Flags().DurationVar(&flags.duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level: silent, error, info, verbose, debug")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "Also write logs to this file")

	return cmd
}

func runEmulate(cmd *cobra.Command, flags *emulateFlags) error {
	opts := app.EmulateOptions{
		Appliance: flags.appliance,
		Protocol:  flags.protocol,
		Transport: flags.transport,
		Listen:    flags.listen,
		Serial: transport.PortOptions{
			BaudRate: flags.baudRate,
			DataBits: flags.dataBits,
			StopBits: flags.stopBits,
			Parity:   flags.parity,
		},
		SkipChecksum: flags.skipChecksum,
		ReplyDelay:   flags.replyDelay,
		Duration:     flags.duration,
		LogLevel:     flags.logLevel,
		LogFile:      flags.logFile,
	}
	if cmd.Flags().Changed("adr") {
		adr := flags.address
		opts.Address = &adr
	}
	return app.RunEmulate(opts)
}
