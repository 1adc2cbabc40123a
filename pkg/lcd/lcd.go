// Package lcd manages a character LCD: wiring validation, a self-test on
// init, row-truncated text rendering and recovery after a driver fault.
package lcd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/tuffrabit/tinygo-status-panel/pkg/clock"
	"github.com/tuffrabit/tinygo-status-panel/pkg/hal"
)

// Wiring selects how the controller is attached.
type Wiring uint8

const (
	WiringParallel Wiring = iota // RS, EN, D4-D7 on GPIO
	WiringI2C                    // PCF8574 backpack
)

func (w Wiring) String() string {
	switch w {
	case WiringParallel:
		return "parallel"
	case WiringI2C:
		return "i2c"
	default:
		return "wiring(" + strconv.Itoa(int(w)) + ")"
	}
}

// Indices into Config.Pins for parallel wiring.
const (
	PinRS = iota
	PinEN
	PinD4
	PinD5
	PinD6
	PinD7
	NumPins
)

const (
	MinCols = 8
	MaxCols = 40
	MinRows = 1
	MaxRows = 4

	MinAddress = 0x08
	MaxAddress = 0x77

	// settle time between configuring the controller and the first clear
	settleDelay = clock.Millis(50)
)

var (
	ErrWiring       = errors.New("unknown lcd wiring")
	ErrPinRange     = errors.New("pin out of range")
	ErrDuplicatePin = errors.New("duplicate pin")
	ErrAddress      = errors.New("i2c address out of range")
	ErrSize         = errors.New("lcd size out of range")
	ErrNoDevice     = errors.New("lcd not responding")
)

// Config describes the display geometry and how it is attached. Pins is
// only used for parallel wiring, Address only for I2C.
type Config struct {
	Wiring  Wiring
	Pins    [NumPins]uint8
	Address uint8
	Cols    uint8
	Rows    uint8
}

// Validate checks geometry and wiring against the highest addressable pin.
func (c Config) Validate(maxPin uint8) error {
	if c.Cols < MinCols || c.Cols > MaxCols || c.Rows < MinRows || c.Rows > MaxRows {
		return fmt.Errorf("%w: %dx%d", ErrSize, c.Cols, c.Rows)
	}
	switch c.Wiring {
	case WiringParallel:
		for i, p := range c.Pins {
			if p > maxPin {
				return fmt.Errorf("pin %d: %w", p, ErrPinRange)
			}
			for _, q := range c.Pins[i+1:] {
				if p == q {
					return fmt.Errorf("pin %d: %w", p, ErrDuplicatePin)
				}
			}
		}
	case WiringI2C:
		if c.Address < MinAddress || c.Address > MaxAddress {
			return fmt.Errorf("0x%02X: %w", c.Address, ErrAddress)
		}
	default:
		return ErrWiring
	}
	return nil
}

// Driver is the minimal controller surface the manager needs.
type Driver interface {
	Configure(cols, rows uint8) error
	Clear() error
	SetCursor(col, row uint8) error
	Print(b []byte) error
}

// Opener attaches a Driver for the given configuration.
type Opener func(cfg Config) (Driver, error)

// Option customises a Manager.
type Option func(*Manager)

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMaxPin sets the highest pin number accepted for parallel wiring.
func WithMaxPin(n uint8) Option {
	return func(m *Manager) { m.maxPin = n }
}

// WithMemoryProbe replaces the free-memory probe used by ShowSystemInfo.
func WithMemoryProbe(probe func() (uint32, bool)) Option {
	return func(m *Manager) { m.memProbe = probe }
}

// Manager owns one character display.
type Manager struct {
	cfg      Config
	open     Opener
	clk      clock.Clock
	log      *slog.Logger
	maxPin   uint8
	memProbe func() (uint32, bool)

	drv           Driver
	initialized   bool
	healthy       bool
	err           error
	lastOperation clock.Millis
	lines         []string
}

// New returns an uninitialised Manager.
func New(cfg Config, open Opener, clk clock.Clock, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		open:     open,
		clk:      clk,
		log:      slog.Default(),
		maxPin:   hal.DefaultMaxPin,
		memProbe: hal.FreeMemory,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init validates the wiring, attaches the driver and runs the self-test:
// configure, clear, print "Test", clear. The manager is healthy only if
// the whole sequence succeeds.
func (m *Manager) Init() bool {
	if m.initialized && m.healthy {
		return true
	}
	m.teardown()

	if err := m.cfg.Validate(m.maxPin); err != nil {
		return m.initFailed(err)
	}
	drv, err := m.open(m.cfg)
	if err != nil {
		return m.initFailed(fmt.Errorf("open %s: %w", m.cfg.Wiring, err))
	}
	if err := m.selfTest(drv); err != nil {
		closeDriver(drv)
		return m.initFailed(fmt.Errorf("self-test: %w", err))
	}

	m.drv = drv
	m.initialized = true
	m.healthy = true
	m.err = nil
	m.lastOperation = m.clk.Millis()
	m.log.Info("LCD initialized successfully", "wiring", m.cfg.Wiring.String(), "cols", m.cfg.Cols, "rows", m.cfg.Rows)
	return true
}

func (m *Manager) selfTest(drv Driver) error {
	if err := drv.Configure(m.cfg.Cols, m.cfg.Rows); err != nil {
		return err
	}
	m.clk.Sleep(settleDelay)
	if err := drv.Clear(); err != nil {
		return err
	}
	if err := drv.SetCursor(0, 0); err != nil {
		return err
	}
	if err := drv.Print([]byte("Test")); err != nil {
		return err
	}
	return drv.Clear()
}

func (m *Manager) initFailed(err error) bool {
	m.err = err
	m.initialized = false
	m.healthy = false
	m.log.Warn("lcd init failed", "err", err)
	return false
}

// ShowSystemData clears the display and writes one line per row, stopping
// at the last row. Each line is cut to the display width and anything that
// is not printable ASCII is shown as '?'. At least one line is required.
func (m *Manager) ShowSystemData(lines ...string) bool {
	if !m.ready() || len(lines) == 0 {
		return false
	}
	if len(lines) > int(m.cfg.Rows) {
		lines = lines[:m.cfg.Rows]
	}

	rendered := make([]string, 0, len(lines))
	if err := m.drv.Clear(); err != nil {
		return m.fault(err)
	}
	for row, line := range lines {
		text := fit(line, int(m.cfg.Cols))
		if err := m.drv.SetCursor(0, uint8(row)); err != nil {
			return m.fault(err)
		}
		if err := m.drv.Print(text); err != nil {
			return m.fault(err)
		}
		rendered = append(rendered, string(text))
	}
	m.lines = rendered
	m.lastOperation = m.clk.Millis()
	return true
}

// ShowWelcome shows the boot banner.
func (m *Manager) ShowWelcome() bool {
	return m.ShowSystemData("Status Panel", "Press Key...")
}

// ShowMenu shows the key legend.
func (m *Manager) ShowMenu() bool {
	return m.ShowSystemData("1:Active 2:Menu", "3:Info *Clr #Top")
}

func (m *Manager) ShowStatus(text string) bool {
	return m.ShowSystemData("Status:", text)
}

// ShowInput echoes the input buffer, keeping its most recent characters
// when it is wider than the display.
func (m *Manager) ShowInput(text string) bool {
	if n := int(m.cfg.Cols); len(text) > n {
		text = text[len(text)-n:]
	}
	return m.ShowSystemData("Input:", text)
}

// ShowSystemInfo shows the free heap, or "Mem: error" when the probe
// cannot produce a trustworthy figure.
func (m *Manager) ShowSystemInfo() bool {
	mem := "Mem: error"
	if free, ok := m.memProbe(); ok {
		mem = "Mem: " + strconv.FormatUint(uint64(free), 10) + " bytes"
	}
	return m.ShowSystemData("System v1.0", mem)
}

func (m *Manager) ShowError(text string) bool {
	return m.ShowSystemData("Error:", text)
}

// Clear blanks the display.
func (m *Manager) Clear() bool {
	if !m.ready() {
		return false
	}
	if err := m.drv.Clear(); err != nil {
		return m.fault(err)
	}
	m.lines = nil
	m.lastOperation = m.clk.Millis()
	return true
}

// Recover detaches the driver and runs Init again.
func (m *Manager) Recover() bool {
	m.log.Info("lcd recovering")
	m.teardown()
	return m.Init()
}

// Close detaches the driver.
func (m *Manager) Close() error {
	return m.teardown()
}

func (m *Manager) teardown() error {
	var err error
	if m.drv != nil {
		err = closeDriver(m.drv)
		m.drv = nil
	}
	m.initialized = false
	m.healthy = false
	m.lines = nil
	return err
}

func closeDriver(d Driver) error {
	if c, ok := d.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (m *Manager) Initialized() bool { return m.initialized }
func (m *Manager) Healthy() bool     { return m.healthy }
func (m *Manager) Err() error        { return m.err }
func (m *Manager) Config() Config    { return m.cfg }

// Lines returns the text last rendered by ShowSystemData, one entry per
// row written.
func (m *Manager) Lines() []string {
	out := make([]string, len(m.lines))
	copy(out, m.lines)
	return out
}

func (m *Manager) ready() bool {
	return m.initialized && m.healthy && m.drv != nil
}

func (m *Manager) fault(err error) bool {
	m.healthy = false
	m.err = err
	m.log.Error("lcd hardware fault", "err", err)
	return false
}

// fit truncates s to width characters, replacing anything outside
// printable ASCII with '?'.
func fit(s string, width int) []byte {
	out := make([]byte, 0, width)
	for _, r := range s {
		if len(out) == width {
			break
		}
		if r < 0x20 || r > 0x7E {
			r = '?'
		}
		out = append(out, byte(r))
	}
	return out
}
