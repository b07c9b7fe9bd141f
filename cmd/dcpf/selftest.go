package main

import (
	"github.com/spf13/cobra"

	"github.com/tturner/dcpf/internal/app"
)

type selfTestFlags struct {
	appliances []string
	latencyMs  int
	pcapFile   string
	logLevel   string
}

func newSelfTestCmd() *cobra.Command {
	flags := &selfTestFlags{}

	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Exercise every appliance driver against an in-process emulator",
		Long: `Start an emulator per appliance on a loopback port, drive it through the
same client stack used for real devices and report each result.`,
		Example: `  dcpf selftest
  dcpf selftest --appliance quido --appliance ac250k --latency-ms 20
  dcpf selftest --pcap selftest.pcap`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return runSelfTest(cmd, flags)
		},
	}

	cmd.Flags().StringArrayVar(&flags.appliances, "appliance", nil, "Only test this appliance (repeatable)")
	cmd.Flags().IntVar(&flags.latencyMs, "latency-ms", 0, "Emulator reply delay in milliseconds")
	cmd.Flags().StringVar(&flags.pcapFile, "pcap", "", "Record the traffic to a pcap file")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level: silent, error, info, verbose, debug")

	return cmd
}

func runSelfTest(cmd *cobra.Command, flags *selfTestFlags) error {
	return app.RunSelfTest(app.SelfTestOptions{
		Appliances: flags.appliances,
		LatencyMs:  flags.latencyMs,
		PcapFile:   flags.pcapFile,
		LogLevel:   flags.logLevel,
		Out:        cmd.OutOrStdout(),
	})
}
