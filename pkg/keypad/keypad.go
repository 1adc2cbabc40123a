// Package keypad manages a scanned key matrix: pin validation, debounced
// key events, press/hold state and recovery after a hardware fault.
package keypad

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tuffrabit/tinygo-status-panel/pkg/clock"
	"github.com/tuffrabit/tinygo-status-panel/pkg/hal"
)

// NoKey is returned whenever no key event is available.
const NoKey byte = 0

const (
	MaxDimension    = 8
	DefaultDebounce = clock.Millis(50)
	DefaultHoldTime = clock.Millis(500)
	MaxTimeout      = clock.Millis(300000) // 5 minutes
	PollInterval    = clock.Millis(10)
)

// DefaultKeymap is the usual 4x4 membrane layout, row-major.
const DefaultKeymap = "123A456B789C*0#D"

var (
	ErrDimensions   = errors.New("keypad rows and cols must be between 1 and 8")
	ErrPinCount     = errors.New("pin count does not match dimensions")
	ErrPinRange     = errors.New("pin out of range")
	ErrPinConflict  = errors.New("row pin equals column pin")
	ErrDuplicatePin = errors.New("duplicate pin")
	ErrKeymap       = errors.New("invalid keymap")
	ErrScan         = errors.New("scan out of matrix bounds")
)

// KeyState is the state of the most recently seen key.
type KeyState uint8

const (
	Idle KeyState = iota
	Pressed
	Hold
	Released
)

func (s KeyState) String() string {
	switch s {
	case Pressed:
		return "pressed"
	case Hold:
		return "hold"
	case Released:
		return "released"
	default:
		return "idle"
	}
}

// Config describes the matrix wiring and timing. Keymap is row-major and
// holds Rows*Cols keys.
type Config struct {
	Rows     int
	Cols     int
	RowPins  []uint8
	ColPins  []uint8
	Keymap   []byte
	Debounce clock.Millis
	HoldTime clock.Millis
}

// Validate checks the configuration against the highest addressable pin.
func (c Config) Validate(maxPin uint8) error {
	if c.Rows < 1 || c.Rows > MaxDimension || c.Cols < 1 || c.Cols > MaxDimension {
		return ErrDimensions
	}
	if len(c.RowPins) != c.Rows || len(c.ColPins) != c.Cols {
		return ErrPinCount
	}
	seen := make(map[uint8]bool, c.Rows+c.Cols)
	for _, p := range c.RowPins {
		if p > maxPin {
			return fmt.Errorf("row pin %d: %w", p, ErrPinRange)
		}
		if seen[p] {
			return fmt.Errorf("row pin %d: %w", p, ErrDuplicatePin)
		}
		seen[p] = true
	}
	for _, p := range c.ColPins {
		if p > maxPin {
			return fmt.Errorf("column pin %d: %w", p, ErrPinRange)
		}
		for _, r := range c.RowPins {
			if r == p {
				return fmt.Errorf("pin %d: %w", p, ErrPinConflict)
			}
		}
		if seen[p] {
			return fmt.Errorf("column pin %d: %w", p, ErrDuplicatePin)
		}
		seen[p] = true
	}
	if len(c.Keymap) != c.Rows*c.Cols {
		return fmt.Errorf("%w: want %d keys, have %d", ErrKeymap, c.Rows*c.Cols, len(c.Keymap))
	}
	for _, k := range c.Keymap {
		if k == NoKey {
			return fmt.Errorf("%w: zero key", ErrKeymap)
		}
	}
	return nil
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager owns a key matrix. It is not safe for concurrent use; the panel
// drives it from a single loop.
type Manager struct {
	cfg  Config
	bank hal.Bank
	clk  clock.Clock
	log  *slog.Logger

	matrix      *matrix
	initialized bool
	healthy     bool
	err         error

	lastOperation clock.Millis
	lastKeyTime   clock.Millis
	lastValidKey  byte

	// scan tracking
	pending   byte
	held      byte
	heldSince clock.Millis
	state     KeyState
}

// New returns an uninitialised Manager. Debounce and HoldTime default when
// zero.
func New(cfg Config, bank hal.Bank, clk clock.Clock, opts ...Option) *Manager {
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.HoldTime == 0 {
		cfg.HoldTime = DefaultHoldTime
	}
	m := &Manager{
		cfg:  cfg,
		bank: bank,
		clk:  clk,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init validates the wiring, acquires the pins and probes the matrix once.
// Any failure leaves the manager uninitialised with its pins released.
func (m *Manager) Init() bool {
	if m.initialized && m.healthy {
		return true
	}
	m.teardown()

	if err := m.cfg.Validate(m.bank.MaxPin()); err != nil {
		return m.initFailed(err)
	}
	mx, err := openMatrix(m.bank, m.cfg.RowPins, m.cfg.ColPins)
	if err != nil {
		return m.initFailed(err)
	}
	if _, _, err := mx.scan(); err != nil {
		mx.close()
		return m.initFailed(fmt.Errorf("probe: %w", err))
	}

	now := m.clk.Millis()
	m.matrix = mx
	m.initialized = true
	m.healthy = true
	m.err = nil
	m.lastOperation = now
	m.lastKeyTime = now
	m.log.Info("Keypad initialized successfully", "rows", m.cfg.Rows, "cols", m.cfg.Cols)
	return true
}

func (m *Manager) initFailed(err error) bool {
	m.err = err
	m.initialized = false
	m.healthy = false
	m.log.Warn("keypad init failed", "err", err)
	return false
}

// GetKey returns a newly pressed key if at least the debounce window has
// passed since the last accepted key, otherwise NoKey.
func (m *Manager) GetKey() byte {
	if !m.ready() {
		return NoKey
	}
	if err := m.poll(); err != nil {
		m.fault(err)
		return NoKey
	}
	key := m.pending
	if key == NoKey {
		return NoKey
	}
	m.pending = NoKey

	now := m.clk.Millis()
	if clock.Elapsed(m.lastKeyTime, now) < m.cfg.Debounce {
		return NoKey
	}
	m.lastKeyTime = now
	m.lastValidKey = key
	m.lastOperation = now
	return key
}

// IsValidKey reports whether key appears in the configured keymap.
func (m *Manager) IsValidKey(key byte) bool {
	if key == NoKey {
		return false
	}
	for _, k := range m.cfg.Keymap {
		if k == key {
			return true
		}
	}
	return false
}

// IsPressed reports whether key belongs to the matrix and is physically
// held right now. The state and the held key come from two separate scans.
func (m *Manager) IsPressed(key byte) bool {
	if !m.ready() || !m.IsValidKey(key) {
		return false
	}
	state := m.KeyState()
	if !m.ready() {
		return false
	}
	if err := m.poll(); err != nil {
		m.fault(err)
		return false
	}
	return (state == Pressed || state == Hold) && m.held == key
}

// KeyState scans once and returns the tracked key state.
func (m *Manager) KeyState() KeyState {
	if !m.ready() {
		return Idle
	}
	if err := m.poll(); err != nil {
		m.fault(err)
		return Idle
	}
	return m.state
}

// IsAnyKeyPressed scans once and reports whether any key is held.
func (m *Manager) IsAnyKeyPressed() bool {
	if !m.ready() {
		return false
	}
	if err := m.poll(); err != nil {
		m.fault(err)
		return false
	}
	return m.held != NoKey
}

// WaitForKeyTimeout polls GetKey until a key arrives or timeout elapses.
// A zero timeout or one above MaxTimeout returns NoKey without touching
// the hardware.
func (m *Manager) WaitForKeyTimeout(timeout clock.Millis) byte {
	if !m.ready() || timeout == 0 || timeout > MaxTimeout {
		return NoKey
	}
	start := m.clk.Millis()
	for {
		if clock.Elapsed(start, m.clk.Millis()) >= timeout {
			return NoKey
		}
		if key := m.GetKey(); key != NoKey {
			return key
		}
		if !m.ready() {
			return NoKey
		}
		m.clk.Sleep(PollInterval)
	}
}

// Reset drops any pending key event and forgets the debounce history.
func (m *Manager) Reset() bool {
	if !m.ready() {
		return false
	}
	now := m.clk.Millis()
	m.pending = NoKey
	m.lastValidKey = NoKey
	m.lastKeyTime = now - m.cfg.Debounce
	m.lastOperation = now
	return true
}

// Recover releases the matrix and runs Init again.
func (m *Manager) Recover() bool {
	m.log.Info("keypad recovering")
	m.teardown()
	return m.Init()
}

// Close releases the matrix pins.
func (m *Manager) Close() error {
	return m.teardown()
}

func (m *Manager) teardown() error {
	var err error
	if m.matrix != nil {
		err = m.matrix.close()
		m.matrix = nil
	}
	m.initialized = false
	m.healthy = false
	m.pending = NoKey
	m.held = NoKey
	m.state = Idle
	m.lastValidKey = NoKey
	m.lastKeyTime = 0
	return err
}

// Initialized reports whether Init has succeeded since the last teardown.
func (m *Manager) Initialized() bool { return m.initialized }

// Healthy reports whether no fault has been seen since Init.
func (m *Manager) Healthy() bool { return m.healthy }

// Err returns the last recorded fault, if any.
func (m *Manager) Err() error { return m.err }

// LastKey returns the last key accepted by GetKey.
func (m *Manager) LastKey() byte { return m.lastValidKey }

// Config returns the configuration the manager was built with.
func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) ready() bool {
	return m.initialized && m.healthy && m.matrix != nil
}

func (m *Manager) fault(err error) {
	m.healthy = false
	m.err = err
	m.log.Error("keypad hardware fault", "err", err)
}

// poll scans the matrix once and advances the press/hold/release tracking.
// A new press is latched in pending until GetKey consumes it.
func (m *Manager) poll() error {
	r, c, err := m.matrix.scan()
	if err != nil {
		return err
	}
	now := m.clk.Millis()

	key := NoKey
	if r >= 0 && c >= 0 {
		if r >= m.cfg.Rows || c >= m.cfg.Cols {
			return fmt.Errorf("%w: row %d col %d", ErrScan, r, c)
		}
		key = m.cfg.Keymap[r*m.cfg.Cols+c]
	}

	switch {
	case key == NoKey:
		if m.held != NoKey {
			m.state = Released
			m.held = NoKey
		} else {
			m.state = Idle
		}
	case key != m.held:
		m.held = key
		m.heldSince = now
		m.state = Pressed
		m.pending = key
	default:
		if m.state == Pressed && clock.HasElapsed(m.heldSince, now, m.cfg.HoldTime) {
			m.state = Hold
		}
	}
	return nil
}
