package main

import (
	"github.com/spf13/cobra"

	"github.com/tturner/dcpf/internal/app"
)

type metricsReportFlags struct {
	inputs []string
}

func newMetricsReportCmd() *cobra.Command {
	flags := &metricsReportFlags{}

	cmd := &cobra.Command{
		Use:   "metrics-report [FILES...]",
		Short: "Summarize metrics CSVs recorded with --metrics-csv",
		Long: `Read one or more metrics CSV files written by query --metrics-csv and
print the time range of each file and RTT statistics, ACK failures and
timeouts across all of them.`,
		Example: `  dcpf metrics-report psu.csv
  dcpf metrics-report --input bench1.csv --input bench2.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			flags.inputs = append(flags.inputs, args...)
			if len(flags.inputs) == 0 {
				return missingFlagError(cmd, "--input")
			}
			return runMetricsReport(cmd, flags)
		},
	}

	cmd.Flags().StringArrayVar(&flags.inputs, "input", nil, "Metrics CSV file (repeatable, or pass as arguments)")

	return cmd
}

func runMetricsReport(cmd *cobra.Command, flags *metricsReportFlags) error {
	return app.RunMetricsReport(app.MetricsReportOptions{
		Files: flags.inputs,
		Out:   cmd.OutOrStdout(),
	})
}
