package app

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/tturner/dcpf/internal/config"
	dcpferrors "github.com/tturner/dcpf/internal/errors"
)

// ConfigOptions names the configuration file a config command works on.
type ConfigOptions struct {
	Path  string
	Force bool
	Out   io.Writer
}

func (o ConfigOptions) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

// RunConfigInit writes the default configuration. An existing file is only
// replaced with Force.
func RunConfigInit(opts ConfigOptions) error {
	if _, err := os.Stat(opts.Path); err == nil && !opts.Force {
		return dcpferrors.UserFriendlyError{
			Message: fmt.Sprintf("Config file already exists: %s", opts.Path),
			Hint:    "Use --force to overwrite it",
		}
	}
	if err := config.WriteDefaultConfig(opts.Path); err != nil {
		return dcpferrors.WrapConfigError(err, opts.Path)
	}
	renderStatus(opts.out(), true, "wrote "+opts.Path)
	return nil
}

// RunConfigValidate loads and validates a configuration and lists its
// devices.
func RunConfigValidate(opts ConfigOptions) error {
	cfg, err := config.LoadConfig(opts.Path, false)
	if err != nil {
		return err
	}
	w := opts.out()
	renderStatus(w, true, opts.Path+" is valid")
	for _, d := range cfg.Devices {
		rows := []row{
			{"protocol", d.Protocol},
			{"transport", d.Transport},
			{"address", d.Address},
			{"timeout", d.Timeout().String()},
		}
		if d.Appliance != "" {
			rows = append(rows, row{"appliance", d.Appliance})
		}
		if d.DeviceAddress != nil {
			rows = append(rows, row{"device address", "0x" + strconv.FormatInt(int64(*d.DeviceAddress), 16)})
		}
		if d.Transport == "serial" {
			rows = append(rows, row{"serial", d.Serial.String()})
		}
		if d.Serve {
			rows = append(rows, row{"mode", "serve"})
		}
		fmt.Fprintln(w)
		renderBlock(w, d.Name, rows)
	}
	return nil
}
