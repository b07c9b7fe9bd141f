package main

import (
	"github.com/spf13/cobra"

	"github.com/tturner/dcpf/internal/app"
)

type inspectFlags struct {
	input        string
	protocol     string
	devicePort   int
	skipChecksum bool
}

func newInspectCmd() *cobra.Command {
	flags := &inspectFlags{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Decode the packets in a pcap capture",
		Long: `Read a capture recorded with --pcap (or any capture of the device's TCP
conversation), reassemble each direction and list every packet found with
its decoded fields and validation result.`,
		Example: `  dcpf inspect --input psu.pcap --protocol ac250k
  dcpf inspect --input field.pcap --protocol spinel97 --device-port 10001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if flags.input == "" {
				return missingFlagError(cmd, "--input")
			}
			if flags.protocol == "" {
				return missingFlagError(cmd, "--protocol")
			}
			return runInspect(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.input, "input", "", "Capture file (required)")
	cmd.Flags().StringVar(&flags.protocol, "protocol", "", "Protocol to decode with (required)")
	cmd.Flags().IntVar(&flags.devicePort, "device-port", 0, "TCP port of the device side (default: capture default)")
	cmd.Flags().BoolVar(&flags.skipChecksum, "skip-checksum", false, "Do not verify response checksums")

	return cmd
}

func runInspect(cmd *cobra.Command, flags *inspectFlags) error {
	return app.RunInspect(app.InspectOptions{
		File:         flags.input,
		Protocol:     flags.protocol,
		DevicePort:   uint16(flags.devicePort),
		SkipChecksum: flags.skipChecksum,
		Out:          cmd.OutOrStdout(),
	})
}
