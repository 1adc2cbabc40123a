package main

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/tuffrabit/tinygo-status-panel/pkg/clock"
	"github.com/tuffrabit/tinygo-status-panel/pkg/config"
	"github.com/tuffrabit/tinygo-status-panel/pkg/hal"
	"github.com/tuffrabit/tinygo-status-panel/pkg/lcd"
	"github.com/tuffrabit/tinygo-status-panel/pkg/led"
	"github.com/tuffrabit/tinygo-status-panel/pkg/panel"
)

// tapHold is how long a simulated key stays down, past the debounce.
const tapHold = clock.Millis(60)

func newSimCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "sim",
		Short: "Simulate the panel in the terminal",
		Long: `Simulate the panel in the terminal. Time only moves when a command
runs, so every session is reproducible.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "panel> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close()

			hc, log, err := opts.load(rl.Stderr())
			if err != nil {
				return err
			}
			pc, err := hc.PanelConfig()
			if err != nil {
				return err
			}

			sim := newSimulator(pc, hc.GPIO.MaxPin, rl.Stdout(), log)
			defer sim.panel.Close()
			sim.panel.Setup()
			sim.printHelp()
			sim.showScreen()

			for {
				line, err := rl.Readline()
				if err != nil {
					// EOF or interrupt
					if err == readline.ErrInterrupt {
						continue
					}
					fmt.Fprintln(rl.Stdout(), "Exiting...")
					return nil
				}
				if sim.exec(line) {
					return nil
				}
			}
		},
	}
}

// simulator drives a panel over in-memory pins and display with a manual
// clock.
type simulator struct {
	cfg   config.PanelConfig
	bank  *hal.MemBank
	drv   *lcd.MemDriver
	clk   *clock.Manual
	panel *panel.Panel
	out   io.Writer
}

func newSimulator(pc config.PanelConfig, maxPin uint8, out io.Writer, log *slog.Logger) *simulator {
	s := &simulator{
		cfg:  pc,
		bank: hal.NewMemBank(maxPin),
		drv:  lcd.NewMemDriver(),
		clk:  clock.NewManual(0),
		out:  out,
	}
	s.panel = buildPanel(pc, s.bank, s.drv.Opener(), s.clk, log)
	return s
}

// exec runs one command line and reports whether the session should end.
func (s *simulator) exec(line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "press", "p":
		s.cmdPress(args)
	case "hold":
		s.cmdHold(args)
	case "wait", "w":
		s.cmdWait(args)
	case "screen", "s":
		s.showScreen()
	case "status":
		s.cmdStatus()
	case "led":
		s.cmdLED(args)
	case "blink":
		s.cmdBlink(args)
	case "fail":
		s.cmdFail(args)
	case "heal":
		s.cmdHeal()
	case "recover":
		s.cmdRecover(args)
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (s *simulator) printHelp() {
	fmt.Fprintln(s.out, `
Panel Simulator Commands:
  Keypad:
    press <keys>          - Tap each key in turn (e.g. press 1A#)
    hold <key> <ms>       - Hold a key down for ms milliseconds

  Time:
    wait <ms>             - Run the loop for ms milliseconds

  Display and LED:
    screen                - Show the LCD contents
    status                - Show manager health, LED and input
    led <mode>            - off, on, warning-blink, emergency, alert
    blink <count> <ms>    - Limited blink

  Faults:
    fail <keypad|lcd|led> - Break a peripheral
    heal                  - Repair every peripheral
    recover <target>      - keypad, lcd, led or all

    quit                  - Exit`)
}

// keyPins returns the row and column pin joined by key.
func (s *simulator) keyPins(key byte) (row, col uint8, ok bool) {
	idx := strings.IndexByte(s.cfg.GetKeymap(), key)
	if idx < 0 {
		return 0, 0, false
	}
	cols := int(s.cfg.KeypadCols)
	return s.cfg.RowPins[idx/cols], s.cfg.ColPins[idx%cols], true
}

// run steps the loop until ms have passed.
func (s *simulator) run(ms clock.Millis) {
	step := s.cfg.IdleDelay()
	for done := clock.Millis(0); done < ms; done += step {
		s.clk.Advance(step)
		s.panel.Step()
	}
}

func (s *simulator) cmdPress(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: press <keys>")
		return
	}
	for _, key := range []byte(args[0]) {
		row, col, ok := s.keyPins(key)
		if !ok {
			fmt.Fprintf(s.out, "Key %q is not on the keypad\n", key)
			return
		}
		s.bank.Connect(row, col)
		s.run(tapHold)
		s.bank.Disconnect(row, col)
		s.run(tapHold)
	}
	s.showScreen()
}

func (s *simulator) cmdHold(args []string) {
	if len(args) != 2 || len(args[0]) != 1 {
		fmt.Fprintln(s.out, "Usage: hold <key> <ms>")
		return
	}
	ms, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		fmt.Fprintf(s.out, "Bad duration: %v\n", err)
		return
	}
	row, col, ok := s.keyPins(args[0][0])
	if !ok {
		fmt.Fprintf(s.out, "Key %q is not on the keypad\n", args[0][0])
		return
	}
	s.bank.Connect(row, col)
	s.run(clock.Millis(ms))
	fmt.Fprintf(s.out, "Key state while held: %s\n", s.panel.Keypad().KeyState())
	s.bank.Disconnect(row, col)
	s.run(tapHold)
	s.showScreen()
}

func (s *simulator) cmdWait(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: wait <ms>")
		return
	}
	ms, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(s.out, "Bad duration: %v\n", err)
		return
	}
	s.run(clock.Millis(ms))
	s.showScreen()
}

func (s *simulator) showScreen() {
	cols := int(s.cfg.LCDCols)
	border := "+" + strings.Repeat("-", cols) + "+"
	fmt.Fprintln(s.out, border)
	for _, row := range s.drv.Screen() {
		fmt.Fprintf(s.out, "|%-*s|\n", cols, row)
	}
	fmt.Fprintln(s.out, border)
	level, _ := s.bank.Level(s.cfg.LEDPin)
	lamp := "o"
	if level {
		lamp = "*"
	}
	fmt.Fprintf(s.out, "LED %s (%s)  t=%s\n", lamp, s.panel.LED().Mode(), clock.FormatUptime(s.panel.Status().Uptime))
}

func (s *simulator) cmdStatus() {
	st := s.panel.Status()
	row := func(name string, m panel.ManagerStatus) {
		fmt.Fprintf(s.out, "  %-7s initialized=%-5t healthy=%-5t", name, m.Initialized, m.Healthy)
		if m.Err != nil {
			fmt.Fprintf(s.out, " err=%v", m.Err)
		}
		fmt.Fprintln(s.out)
	}
	fmt.Fprintln(s.out, "Managers:")
	row("keypad", st.Keypad)
	row("lcd", st.LCD)
	row("led", st.LED)
	fmt.Fprintf(s.out, "Active: %t  LED: %s  Input: %q  Uptime: %s\n",
		st.Active, st.LEDMode, st.Input, clock.FormatUptime(st.Uptime))
}

func (s *simulator) cmdLED(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: led <mode>")
		return
	}
	mode, err := led.ParseMode(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	if !s.panel.SetLEDMode(mode) {
		fmt.Fprintf(s.out, "LED refused %s: %v\n", mode, s.panel.LED().Err())
		return
	}
	fmt.Fprintf(s.out, "LED mode %s\n", mode)
}

func (s *simulator) cmdBlink(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.out, "Usage: blink <count> <ms>")
		return
	}
	count, err1 := strconv.Atoi(args[0])
	interval, err2 := strconv.ParseUint(args[1], 10, 32)
	if err1 != nil || err2 != nil {
		fmt.Fprintln(s.out, "Usage: blink <count> <ms>")
		return
	}
	if !s.panel.StartLimitedBlink(count, clock.Millis(interval)) {
		fmt.Fprintf(s.out, "LED refused blink: %v\n", s.panel.LED().Err())
		return
	}
	fmt.Fprintf(s.out, "Blinking %d times every %dms\n", count, interval)
}

func (s *simulator) cmdFail(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: fail <keypad|lcd|led>")
		return
	}
	switch args[0] {
	case "keypad":
		for _, p := range s.cfg.RowPins[:s.cfg.KeypadRows] {
			s.bank.Fail(p, nil)
		}
	case "lcd":
		s.drv.Fail(nil)
	case "led":
		s.bank.Fail(s.cfg.LEDPin, nil)
	default:
		fmt.Fprintf(s.out, "Unknown peripheral: %s\n", args[0])
		return
	}
	fmt.Fprintf(s.out, "%s broken\n", args[0])
}

func (s *simulator) cmdHeal() {
	for _, p := range s.cfg.RowPins[:s.cfg.KeypadRows] {
		s.bank.Heal(p)
	}
	s.bank.Heal(s.cfg.LEDPin)
	s.drv.Heal()
	fmt.Fprintln(s.out, "All peripherals repaired")
}

func (s *simulator) cmdRecover(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: recover <keypad|lcd|led|all>")
		return
	}
	target, ok := panel.ParseTarget(args[0])
	if !ok {
		fmt.Fprintf(s.out, "Unknown target: %s\n", args[0])
		return
	}
	if s.panel.Recover(target) {
		fmt.Fprintf(s.out, "Recovered %s\n", target)
	} else {
		fmt.Fprintf(s.out, "Recover %s failed\n", target)
	}
}
