package main

import (
	"github.com/spf13/cobra"

	"github.com/tturner/dcpf/internal/app"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the device configuration file",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var path string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return app.RunConfigInit(app.ConfigOptions{Path: path, Force: force, Out: cmd.OutOrStdout()})
		},
	}
	cmd.Flags().StringVar(&path, "config", "dcpf.yaml", "Configuration file to write")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a configuration file and print the resolved devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if path == "" {
				return missingFlagError(cmd, "--config")
			}
			return app.RunConfigValidate(app.ConfigOptions{Path: path, Out: cmd.OutOrStdout()})
		},
	}
	cmd.Flags().StringVar(&path, "config", "dcpf.yaml", "Configuration file to check")
	return cmd
}
