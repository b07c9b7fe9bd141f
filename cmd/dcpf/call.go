package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tturner/dcpf/internal/app"
)

type callFlags struct {
	device    deviceFlags
	appliance string
	op        string
	json      bool
}

func callOperationsHelp() string {
	names := make([]string, 0, len(app.Operations))
	for name := range app.Operations {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "\n  %s:\n", name)
		for _, line := range app.OperationUsage(name) {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}
	return b.String()
}

func newCallCmd() *cobra.Command {
	flags := &callFlags{}

	cmd := &cobra.Command{
		Use:   "call [arguments]",
		Short: "Run an appliance operation (set voltage, read outputs, ...)",
		Long: `Run one operation of an appliance driver against a device. The appliance
comes from the device configuration or from --appliance.

Operations:` + callOperationsHelp() + `
Arguments starting with '-' must follow "--".`,
		Example: `  # Read the power supply voltage
  dcpf call -d psu --op get_voltage

  # Switch Quido outputs 1 and 3 on and output 2 off
  dcpf call -d io --op set_outputs_state -- +1 -2 +3

  # Capture 1000 samples from DAS channel 2 as JSON
  dcpf call -d das --op data --json 2 1000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if err := flags.device.validate(cmd); err != nil {
				return err
			}
			if flags.op == "" {
				return missingFlagError(cmd, "--op")
			}
			return runCall(cmd, flags, args)
		},
	}

	addDeviceFlags(cmd, &flags.device)
	cmd.Flags().StringVar(&flags.appliance, "appliance", "", "Appliance driver (ac250k, evr116, das1210, quido, ad4)")
	cmd.Flags().StringVar(&flags.op, "op", "", "Operation to run (see the list above)")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Print the result as JSON")

	return cmd
}

func runCall(cmd *cobra.Command, flags *callFlags, args []string) error {
	return app.RunCall(app.CallOptions{
		DeviceOptions: flags.device.options(cmd),
		Appliance:     flags.appliance,
		Op:            flags.op,
		Args:          args,
		JSON:          flags.json,
	})
}
