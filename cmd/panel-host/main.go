// Command panel-host runs the status panel on a Linux host, simulates it
// in the terminal, or talks to a panel running the firmware over USB
// serial.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tuffrabit/tinygo-status-panel/internal/hostcfg"
	"github.com/tuffrabit/tinygo-status-panel/pkg/clock"
	"github.com/tuffrabit/tinygo-status-panel/pkg/config"
	"github.com/tuffrabit/tinygo-status-panel/pkg/hal"
	"github.com/tuffrabit/tinygo-status-panel/pkg/keypad"
	"github.com/tuffrabit/tinygo-status-panel/pkg/lcd"
	"github.com/tuffrabit/tinygo-status-panel/pkg/led"
	"github.com/tuffrabit/tinygo-status-panel/pkg/panel"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalOpts are the persistent flags shared by every subcommand.
type globalOpts struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}
	root := &cobra.Command{
		Use:          "panel-host",
		Short:        "Keypad, LCD and LED status panel tools",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML host config (defaults when empty)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newRunCmd(opts),
		newSimCmd(opts),
		newRemoteCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// load reads the host config and builds the logger it asks for.
func (o *globalOpts) load(logOut io.Writer) (hostcfg.Config, *slog.Logger, error) {
	hc, err := hostcfg.Load(o.configPath)
	if err != nil {
		return hc, nil, err
	}
	if o.logLevel != "" {
		hc.LogLevel = o.logLevel
	}
	level, err := hc.Level()
	if err != nil {
		return hc, nil, err
	}
	log := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))
	return hc, log, nil
}

func newConfigCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective host config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hc, _, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			data, err := hc.Marshal()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

// buildPanel wires the three managers and the dispatcher from a layout.
func buildPanel(pc config.PanelConfig, bank hal.Bank, open lcd.Opener, clk clock.Clock, log *slog.Logger) *panel.Panel {
	kp := keypad.New(pc.Keypad(), bank, clk, keypad.WithLogger(log))
	display := lcd.New(pc.LCD(), open, clk, lcd.WithLogger(log), lcd.WithMaxPin(bank.MaxPin()))
	light := led.New(pc.LED(), bank, clk, led.WithLogger(log))
	return panel.New(kp, display, light, clk,
		panel.WithLogger(log),
		panel.WithRefreshInterval(pc.RefreshInterval()),
		panel.WithIdleDelay(pc.IdleDelay()),
	)
}
