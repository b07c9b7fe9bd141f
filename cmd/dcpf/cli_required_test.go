package main

import (
	"io"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestRequiredFlagsErrors(t *testing.T) {
	tests := []struct {
		name    string
		cmd     func() *cobra.Command
		args    []string
		wantErr string
	}{
		{
			name:    "query missing device",
			cmd:     newQueryCmd,
			args:    nil,
			wantErr: "required flag --device or --protocol not set",
		},
		{
			name:    "query missing address",
			cmd:     newQueryCmd,
			args:    []string{"--protocol", "spinel97"},
			wantErr: "required flag --address not set",
		},
		{
			name:    "call missing op",
			cmd:     newCallCmd,
			args:    []string{"--device", "psu"},
			wantErr: "required flag --op not set",
		},
		{
			name:    "emulate missing appliance",
			cmd:     newEmulateCmd,
			args:    nil,
			wantErr: "required flag --appliance or --protocol not set",
		},
		{
			name:    "inspect missing input",
			cmd:     newInspectCmd,
			args:    nil,
			wantErr: "required flag --input not set",
		},
		{
			name:    "inspect missing protocol",
			cmd:     newInspectCmd,
			args:    []string{"--input", "x.pcap"},
			wantErr: "required flag --protocol not set",
		},
		{
			name:    "metrics-report missing input",
			cmd:     newMetricsReportCmd,
			args:    nil,
			wantErr: "required flag --input not set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := tt.cmd()
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)
			cmd.SetArgs(tt.args)
			err := cmd.Execute()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error: got %q want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"call", "config", "emulate", "inspect", "metrics-report", "query", "selftest", "version"}
	for _, name := range want {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestCallHelpListsOperations(t *testing.T) {
	long := newCallCmd().Long
	for _, op := range []string{"set_voltage VOLTS", "set_outputs_state +N|-N ...", "measured_values"} {
		if !strings.Contains(long, op) {
			t.Errorf("call help missing %q", op)
		}
	}
}
