package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/tuffrabit/tinygo-status-panel/pkg/clock"
	"github.com/tuffrabit/tinygo-status-panel/pkg/led"
	"github.com/tuffrabit/tinygo-status-panel/pkg/panel"
	"github.com/tuffrabit/tinygo-status-panel/pkg/protocol"
)

const readTimeout = 2 * time.Second

var errNoPanel = errors.New("no status panel found on any USB serial port")

// dialer opens a connection to the named port. Tests replace it.
var dialer = openSerial

func openSerial(name string, baud int) (io.ReadWriteCloser, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// findPanel probes every USB serial port with Discover.
func findPanel(baud int) (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %w", err)
	}
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		conn, err := dialer(port.Name, baud)
		if err != nil {
			continue
		}
		ok, err := protocol.NewClient(conn).Discover()
		conn.Close()
		if err == nil && ok {
			return port.Name, nil
		}
	}
	return "", errNoPanel
}

type remoteOpts struct {
	*globalOpts
	port string
	baud int
}

// withClient opens the port, runs fn and closes the port again.
func (o *remoteOpts) withClient(cmd *cobra.Command, fn func(*protocol.Client) error) error {
	hc, _, err := o.load(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	name, baud := o.port, o.baud
	if name == "" {
		name = hc.Serial.Port
	}
	if baud == 0 {
		baud = hc.Serial.Baud
	}
	if name == "" {
		if name, err = findPanel(baud); err != nil {
			return err
		}
	}
	conn, err := dialer(name, baud)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(protocol.NewClient(conn))
}

func newRemoteCmd(g *globalOpts) *cobra.Command {
	o := &remoteOpts{globalOpts: g}
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Talk to a panel running the firmware over USB serial",
	}
	cmd.PersistentFlags().StringVarP(&o.port, "port", "p", "", "serial port (probes USB ports when empty)")
	cmd.PersistentFlags().IntVar(&o.baud, "baud", 0, "baud rate (config value when 0)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "ping",
			Short: "Check the panel answers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.withClient(cmd, func(c *protocol.Client) error {
					start := time.Now()
					if err := c.Ping([]byte("ping")); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "pong in %s\n", time.Since(start).Round(time.Millisecond))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show firmware and config versions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.withClient(cmd, func(c *protocol.Client) error {
					v, err := c.Version()
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), v)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show manager health, LED mode, input and uptime",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.withClient(cmd, func(c *protocol.Client) error {
					st, err := c.Status()
					if err != nil {
						return err
					}
					printState(cmd.OutOrStdout(), st)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:       "recover <keypad|lcd|led|all>",
			Short:     "Re-initialise a manager",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"keypad", "lcd", "led", "all"},
			RunE: func(cmd *cobra.Command, args []string) error {
				target, ok := panel.ParseTarget(args[0])
				if !ok {
					return fmt.Errorf("unknown target %q", args[0])
				}
				return o.withClient(cmd, func(c *protocol.Client) error {
					return c.Recover(target)
				})
			},
		},
		&cobra.Command{
			Use:   "led <mode> | led limited-blink <count> <ms>",
			Short: "Set the LED mode",
			Args:  cobra.RangeArgs(1, 3),
			RunE: func(cmd *cobra.Command, args []string) error {
				mode, err := led.ParseMode(args[0])
				if err != nil {
					return err
				}
				if mode != led.LimitedBlink {
					if len(args) != 1 {
						return fmt.Errorf("%s takes no arguments", mode)
					}
					return o.withClient(cmd, func(c *protocol.Client) error {
						return c.SetLED(mode)
					})
				}
				if len(args) != 3 {
					return fmt.Errorf("%s needs <count> <ms>", mode)
				}
				count, err := strconv.Atoi(args[1])
				if err != nil {
					return err
				}
				ms, err := strconv.ParseUint(args[2], 10, 16)
				if err != nil {
					return err
				}
				return o.withClient(cmd, func(c *protocol.Client) error {
					return c.LimitedBlink(count, clock.Millis(ms))
				})
			},
		},
		&cobra.Command{
			Use:   "press <keys>",
			Short: "Inject key presses",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.withClient(cmd, func(c *protocol.Client) error {
					for _, k := range []byte(args[0]) {
						if err := c.PressKey(k); err != nil {
							return fmt.Errorf("key %q: %w", k, err)
						}
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "push-config",
			Short: "Store the configured panel layout on the device (applies on reboot)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				hc, _, err := o.load(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				pc, err := hc.PanelConfig()
				if err != nil {
					return err
				}
				return o.withClient(cmd, func(c *protocol.Client) error {
					return c.SetConfig(pc)
				})
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show flash usage",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.withClient(cmd, func(c *protocol.Client) error {
					s, err := c.StorageStats()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "total=%d used=%d free=%d config=%t\n", s.Total, s.Used, s.Free, s.HasConfig)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "factory-reset",
			Short: "Erase the stored layout",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.withClient(cmd, func(c *protocol.Client) error {
					return c.FactoryReset()
				})
			},
		},
	)
	return cmd
}

func printState(w io.Writer, st protocol.PanelState) {
	health := func(init, ok uint8) string {
		switch {
		case !st.Has(init):
			return "not started"
		case !st.Has(ok):
			return "fault"
		default:
			return "ok"
		}
	}
	fmt.Fprintf(w, "keypad: %s\n", health(protocol.FlagKeypadInit, protocol.FlagKeypadHealthy))
	fmt.Fprintf(w, "lcd:    %s\n", health(protocol.FlagLCDInit, protocol.FlagLCDHealthy))
	fmt.Fprintf(w, "led:    %s (%s)\n", health(protocol.FlagLEDInit, protocol.FlagLEDHealthy), st.LEDMode)
	fmt.Fprintf(w, "active: %t\n", st.Has(protocol.FlagActive))
	fmt.Fprintf(w, "input:  %q\n", st.Input)
	fmt.Fprintf(w, "uptime: %s\n", clock.FormatUptime(uint64(st.UptimeSeconds)*1000))
}
