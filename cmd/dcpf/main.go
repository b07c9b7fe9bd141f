package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dcpf",
		Short: "Device communications protocol framework",
		Long: `dcpf talks to small instrumentation devices (power supplies, valves,
data-acquisition and I/O modules) over serial lines and TCP sockets using the
Spinel-66, Spinel-97, EVR116 and AC250K protocols.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newCallCmd())
	rootCmd.AddCommand(newEmulateCmd())
	rootCmd.AddCommand(newSelfTestCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newMetricsReportCmd())

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != rootCmd {
			out := cmd.OutOrStdout()
			if cmd.Long != "" {
				fmt.Fprintf(out, "%s\n\n", cmd.Long)
			}
			fmt.Fprint(out, cmd.UsageString())
			return
		}
		fmt.Fprintf(os.Stdout, "Usage:\n  %s <command> [arguments] [options]\n\n", cmd.Name())
		fmt.Fprintf(os.Stdout, "Available Commands:\n")
		for _, subCmd := range cmd.Commands() {
			if !subCmd.Hidden {
				fmt.Fprintf(os.Stdout, "  %-15s %s\n", subCmd.Name(), subCmd.Short)
			}
		}
		fmt.Fprintf(os.Stdout, "\nUse \"%s help <command>\" for more information about a command.\n", cmd.Name())
	})
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
