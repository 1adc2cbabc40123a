// Package panel is the cooperative loop that ties the keypad, display and
// indicator LED together. One Panel owns one manager of each kind and is
// driven from a single goroutine.
package panel

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tuffrabit/tinygo-status-panel/pkg/clock"
	"github.com/tuffrabit/tinygo-status-panel/pkg/keypad"
	"github.com/tuffrabit/tinygo-status-panel/pkg/lcd"
	"github.com/tuffrabit/tinygo-status-panel/pkg/led"
)

const (
	DefaultRefreshInterval = clock.Millis(2000)
	DefaultIdleDelay       = clock.Millis(50)
	DefaultWelcomeDelay    = clock.Millis(2000)

	// MaxInput bounds the echoed input buffer; older keys drop off the front.
	MaxInput = 32
)

// Keys with a fixed action. Every other keymap entry is input.
const (
	KeyToggleActive = '1'
	KeyMenu         = '2'
	KeySystemInfo   = '3'
	KeyClear        = '*'
	KeyHome         = '#'
)

// Target selects which manager Recover acts on.
type Target uint8

const (
	TargetKeypad Target = 1
	TargetLCD    Target = 2
	TargetLED    Target = 3
	TargetAll    Target = 0xFF
)

func (t Target) String() string {
	switch t {
	case TargetKeypad:
		return "keypad"
	case TargetLCD:
		return "lcd"
	case TargetLED:
		return "led"
	case TargetAll:
		return "all"
	default:
		return "unknown"
	}
}

// Valid reports whether t names a manager or all of them.
func (t Target) Valid() bool {
	return t.String() != "unknown"
}

// ParseTarget is the inverse of Target.String.
func ParseTarget(s string) (Target, bool) {
	for _, t := range []Target{TargetKeypad, TargetLCD, TargetLED, TargetAll} {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// Poller is serviced once per loop iteration, after the managers.
type Poller interface {
	Poll() error
}

// Option customises a Panel.
type Option func(*Panel)

func WithLogger(l *slog.Logger) Option {
	return func(p *Panel) { p.log = l }
}

func WithRefreshInterval(d clock.Millis) Option {
	return func(p *Panel) { p.refreshInterval = d }
}

func WithIdleDelay(d clock.Millis) Option {
	return func(p *Panel) { p.idleDelay = d }
}

func WithWelcomeDelay(d clock.Millis) Option {
	return func(p *Panel) { p.welcomeDelay = d }
}

// Panel dispatches key presses to display and LED actions.
type Panel struct {
	keypad *keypad.Manager
	lcd    *lcd.Manager
	led    *led.Manager
	clk    clock.Clock
	log    *slog.Logger

	refreshInterval clock.Millis
	idleDelay       clock.Millis
	welcomeDelay    clock.Millis
	pollers         []Poller

	active      bool
	input       []byte
	lastRefresh clock.Millis
	lastTick    clock.Millis
	uptime      uint64
}

// New takes ownership of the three managers.
func New(kp *keypad.Manager, display *lcd.Manager, light *led.Manager, clk clock.Clock, opts ...Option) *Panel {
	p := &Panel{
		keypad:          kp,
		lcd:             display,
		led:             light,
		clk:             clk,
		log:             slog.Default(),
		refreshInterval: DefaultRefreshInterval,
		idleDelay:       DefaultIdleDelay,
		welcomeDelay:    DefaultWelcomeDelay,
		input:           make([]byte, 0, MaxInput),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.lastTick = clk.Millis()
	return p
}

// AddPoller registers a Poller to run on every Step.
func (p *Panel) AddPoller(pl Poller) {
	p.pollers = append(p.pollers, pl)
}

// Setup initialises every manager, shows the welcome screen and holds it
// for the welcome delay. A manager that fails to start is logged and left
// for Recover; the panel runs with whatever works.
func (p *Panel) Setup() {
	if !p.keypad.Init() {
		p.log.Warn("keypad unavailable", "err", p.keypad.Err())
	}
	if !p.lcd.Init() {
		p.log.Warn("lcd unavailable", "err", p.lcd.Err())
	}
	if !p.led.Init() {
		p.log.Warn("led unavailable", "err", p.led.Err())
	}

	p.lcd.ShowWelcome()
	p.clk.Sleep(p.welcomeDelay)

	p.tick()
	p.lastRefresh = p.clk.Millis()
	p.log.Info("System ready")
}

// Step runs one loop iteration: at most one key, a periodic display
// refresh, the LED update and every registered poller.
func (p *Panel) Step() {
	now := p.tick()

	if key := p.keypad.GetKey(); key != keypad.NoKey {
		p.HandleKey(key)
	}

	if clock.HasElapsed(p.lastRefresh, now, p.refreshInterval) {
		p.refresh()
		p.lastRefresh = now
	}

	p.led.Update()

	for _, pl := range p.pollers {
		if err := pl.Poll(); err != nil {
			p.log.Warn("poller failed", "err", err)
		}
	}
}

// Run calls Step followed by the idle delay until ctx is done.
func (p *Panel) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.Step()
		p.clk.Sleep(p.idleDelay)
	}
}

// HandleKey performs the action bound to key.
func (p *Panel) HandleKey(key byte) {
	p.log.Info("Key pressed", "key", string(key))

	switch key {
	case KeyToggleActive:
		p.active = !p.active
		p.led.SetWarningState(p.active)
		p.lcd.ShowStatus(p.activeText())
	case KeyMenu:
		p.lcd.ShowMenu()
	case KeySystemInfo:
		p.lcd.ShowSystemInfo()
	case KeyClear:
		p.lcd.Clear()
		p.input = p.input[:0]
	case KeyHome:
		p.lcd.ShowWelcome()
	default:
		if len(p.input) == MaxInput {
			copy(p.input, p.input[1:])
			p.input = p.input[:MaxInput-1]
		}
		p.input = append(p.input, key)
		p.lcd.ShowInput(string(p.input))
	}
}

// PressKey injects a key as if it came from the keypad. Keys outside the
// keymap are refused.
func (p *Panel) PressKey(key byte) bool {
	if !p.keypad.IsValidKey(key) {
		return false
	}
	p.HandleKey(key)
	return true
}

func (p *Panel) refresh() {
	if !p.active {
		return
	}
	p.lcd.ShowSystemData(
		"Time: "+clock.FormatUptime(p.uptime),
		"Status: Running",
	)
}

// tick folds the time since the last call into the 64-bit uptime so that
// uptime keeps counting past a counter wrap.
func (p *Panel) tick() clock.Millis {
	now := p.clk.Millis()
	p.uptime += uint64(clock.Elapsed(p.lastTick, now))
	p.lastTick = now
	return now
}

func (p *Panel) activeText() string {
	if p.active {
		return "Active"
	}
	return "Inactive"
}

// SetLEDMode forwards to the LED manager. A mode change while the panel
// is active is overridden by the next '1' key.
func (p *Panel) SetLEDMode(mode led.Mode) bool {
	return p.led.SetMode(mode)
}

func (p *Panel) StartLimitedBlink(count int, interval clock.Millis) bool {
	return p.led.StartLimitedBlink(count, interval)
}

// Recover re-initialises the selected manager, or all of them. A recovered
// LED picks up the current warning state again.
func (p *Panel) Recover(target Target) bool {
	p.log.Info("recover requested", "target", target.String())
	switch target {
	case TargetKeypad:
		return p.keypad.Recover()
	case TargetLCD:
		return p.lcd.Recover()
	case TargetLED:
		return p.recoverLED()
	case TargetAll:
		kp := p.keypad.Recover()
		display := p.lcd.Recover()
		light := p.recoverLED()
		return kp && display && light
	default:
		return false
	}
}

func (p *Panel) recoverLED() bool {
	if !p.led.Recover() {
		return false
	}
	if p.active {
		p.led.SetWarningState(true)
	}
	return true
}

// Close releases every manager.
func (p *Panel) Close() error {
	return errors.Join(p.keypad.Close(), p.lcd.Close(), p.led.Close())
}

// ManagerStatus is a snapshot of one manager's lifecycle flags.
type ManagerStatus struct {
	Initialized bool
	Healthy     bool
	Err         error
}

// Status is a snapshot of the whole panel.
type Status struct {
	Keypad  ManagerStatus
	LCD     ManagerStatus
	LED     ManagerStatus
	LEDMode led.Mode
	Active  bool
	Input   string
	Uptime  uint64 // milliseconds
	Lines   []string
}

func (p *Panel) Status() Status {
	p.tick()
	return Status{
		Keypad:  ManagerStatus{p.keypad.Initialized(), p.keypad.Healthy(), p.keypad.Err()},
		LCD:     ManagerStatus{p.lcd.Initialized(), p.lcd.Healthy(), p.lcd.Err()},
		LED:     ManagerStatus{p.led.Initialized(), p.led.Healthy(), p.led.Err()},
		LEDMode: p.led.Mode(),
		Active:  p.active,
		Input:   string(p.input),
		Uptime:  p.uptime,
		Lines:   p.lcd.Lines(),
	}
}

func (p *Panel) Active() bool { return p.active }

func (p *Panel) Keypad() *keypad.Manager { return p.keypad }
func (p *Panel) LCD() *lcd.Manager       { return p.lcd }
func (p *Panel) LED() *led.Manager       { return p.led }
