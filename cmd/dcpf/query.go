package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tturner/dcpf/internal/app"
)

type queryFlags struct {
	device       deviceFlags
	inst         string
	data         string
	dataHex      string
	fields       []string
	skipChecksum bool
	acceptAcks   []int
	count        int
	interval     time.Duration
}

func newQueryCmd() *cobra.Command {
	flags := &queryFlags{}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Send a raw protocol request and print the validated response",
		Long: `Build one request packet from flags, send it to a device and wait for the
matching response. The response checksum, address and ACK are validated
unless told otherwise.

The device comes from the configuration file (--device) or is described
entirely by flags (--protocol, --transport, --address).

Field values accept plain numbers, 0x-prefixed hex, hex:BYTES for raw bytes
and text:STRING for text.`,
		Example: `  # Ask a Quido module (Spinel-97, ADR 0x31) for its output states
  dcpf query --protocol spinel97 --address 192.168.1.50:10001 --adr 0x31 --inst 0x30

  # Read the valve position using the configured device
  dcpf query -d valve --data "?"

  # Repeat a query ten times, one per second, and record metrics
  dcpf query -d psu --inst 0x41 --count 10 --interval 1s --metrics-csv psu.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if err := flags.device.validate(cmd); err != nil {
				return err
			}
			return runQuery(cmd, flags)
		},
	}

	addDeviceFlags(cmd, &flags.device)
	cmd.Flags().StringVar(&flags.inst, "inst", "", "Instruction code or command character (e.g. 0x30, v)")
	cmd.Flags().StringVar(&flags.data, "data", "", "DATA field as text")
	cmd.Flags().StringVar(&flags.dataHex, "data-hex", "", "DATA field as hex bytes (e.g. \"01 02\" or 0102)")
	cmd.Flags().StringArrayVar(&flags.fields, "field", nil, "Set a request field, NAME=VALUE (repeatable)")
	cmd.Flags().BoolVar(&flags.skipChecksum, "skip-checksum", false, "Do not verify the response checksum")
	cmd.Flags().IntSliceVar(&flags.acceptAcks, "accept-ack", nil, "Additional ACK codes treated as success (Spinel-97)")
	cmd.Flags().IntVar(&flags.count, "count", 1, "Number of times to send the request")
	cmd.Flags().DurationVar(&flags.interval, "interval", 0, "Delay between repeated requests")

	return cmd
}

func runQuery(cmd *cobra.Command, flags *queryFlags) error {
	return app.RunQuery(app.QueryOptions{
		DeviceOptions: flags.device.options(cmd),
		Inst:          flags.inst,
		Data:          flags.data,
		DataHex:       flags.dataHex,
		Fields:        flags.fields,
		SkipChecksum:  flags.skipChecksum,
		AcceptAcks:    flags.acceptAcks,
		Count:         flags.count,
		Interval:      flags.interval,
	})
}
