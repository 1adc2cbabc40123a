//go:build linux && !tinygo

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/tuffrabit/tinygo-status-panel/internal/hostcfg"
	"github.com/tuffrabit/tinygo-status-panel/pkg/clock"
	"github.com/tuffrabit/tinygo-status-panel/pkg/hal"
	"github.com/tuffrabit/tinygo-status-panel/pkg/lcd"
)

var errParallelLCD = errors.New("parallel LCD wiring is only supported by the firmware; use i2c on a host")

func newRunCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Drive a real keypad, LCD and LED from this host's GPIO",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hc, log, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			pc, err := hc.PanelConfig()
			if err != nil {
				return err
			}
			if pc.LCDWiring != lcd.WiringI2C {
				return errParallelLCD
			}

			bank, closeBank, err := openBank(hc.GPIO)
			if err != nil {
				return err
			}
			defer closeBank()

			if _, err := host.Init(); err != nil {
				return fmt.Errorf("periph host init: %w", err)
			}
			bus, err := i2creg.Open(hc.GPIO.I2CBus)
			if err != nil {
				return fmt.Errorf("open i2c bus %q: %w", hc.GPIO.I2CBus, err)
			}
			defer bus.Close()

			p := buildPanel(pc, bank, lcd.OpenI2C(bus), clock.NewSystem(), log)
			defer p.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p.Setup()
			if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("shutting down")
			return nil
		},
	}
}

func openBank(g hostcfg.GPIO) (hal.Bank, func() error, error) {
	switch g.Backend {
	case hostcfg.BackendCdev:
		b, err := hal.NewCdevBank(g.Chip, g.MaxPin)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	default:
		b, err := hal.NewPeriphBank(g.MaxPin)
		if err != nil {
			return nil, nil, err
		}
		return b, func() error { return nil }, nil
	}
}
