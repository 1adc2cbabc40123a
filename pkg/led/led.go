// Package led drives a single indicator output: steady on/off, an endless
// warning blink, a bounded blink sequence and two fixed signal patterns.
package led

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/tuffrabit/tinygo-status-panel/pkg/clock"
	"github.com/tuffrabit/tinygo-status-panel/pkg/hal"
)

// Mode is the active output behaviour. Exactly one mode is active.
type Mode uint8

const (
	Off Mode = iota
	On
	WarningBlink
	LimitedBlink
	PatternEmergency
	PatternAlert
)

func (m Mode) String() string {
	switch m {
	case Off:
		return "off"
	case On:
		return "on"
	case WarningBlink:
		return "warning-blink"
	case LimitedBlink:
		return "limited-blink"
	case PatternEmergency:
		return "emergency"
	case PatternAlert:
		return "alert"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	for m := Off; m <= PatternAlert; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return Off, fmt.Errorf("%w: %q", ErrMode, s)
}

const (
	MinInterval     = clock.Millis(50)
	MaxInterval     = clock.Millis(10000)
	DefaultInterval = clock.Millis(500)
	MaxBlinks       = 1000
)

// Step durations; even steps are lit, odd steps are dark.
var (
	emergencyPattern = []clock.Millis{100, 100, 100, 100, 100, 500}
	alertPattern     = []clock.Millis{500, 500, 500, 1500}
)

var (
	ErrPinRange   = errors.New("led pin out of range")
	ErrInterval   = errors.New("blink interval out of range")
	ErrBlinkCount = errors.New("blink count out of range")
	ErrMode       = errors.New("unknown led mode")
	ErrReadback   = errors.New("led pin read back wrong level")
)

type Config struct {
	Pin      uint8
	Interval clock.Millis
}

func (c Config) Validate(maxPin uint8) error {
	if c.Pin > maxPin {
		return fmt.Errorf("pin %d: %w", c.Pin, ErrPinRange)
	}
	if c.Interval < MinInterval || c.Interval > MaxInterval {
		return fmt.Errorf("%dms: %w", c.Interval, ErrInterval)
	}
	return nil
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager owns one LED output. Update must be called every loop
// iteration for the timed modes to advance.
type Manager struct {
	cfg  Config
	bank hal.Bank
	clk  clock.Clock
	log  *slog.Logger

	pin           hal.Pin
	initialized   bool
	healthy       bool
	err           error
	lastOperation clock.Millis

	mode       Mode
	level      bool
	lastBlink  clock.Millis
	interval   clock.Millis
	blinkCount int
	maxBlinks  int
	step       int
}

// New returns an uninitialised Manager. A zero Interval defaults to
// DefaultInterval.
func New(cfg Config, bank hal.Bank, clk clock.Clock, opts ...Option) *Manager {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	m := &Manager{
		cfg:      cfg,
		bank:     bank,
		clk:      clk,
		log:      slog.Default(),
		interval: cfg.Interval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init validates the pin, configures it as an output, checks that a low
// write reads back low and leaves the LED off.
func (m *Manager) Init() bool {
	if m.initialized && m.healthy {
		return true
	}
	m.teardown()

	if err := m.cfg.Validate(m.bank.MaxPin()); err != nil {
		return m.initFailed(err)
	}
	pin, err := m.bank.Pin(m.cfg.Pin)
	if err != nil {
		return m.initFailed(err)
	}
	if err := probe(pin); err != nil {
		closePin(pin)
		return m.initFailed(fmt.Errorf("pin %d: %w", m.cfg.Pin, err))
	}

	now := m.clk.Millis()
	m.pin = pin
	m.initialized = true
	m.healthy = true
	m.err = nil
	m.mode = Off
	m.level = false
	m.interval = m.cfg.Interval
	m.lastBlink = now
	m.lastOperation = now
	m.log.Info("LED initialized successfully", "pin", m.cfg.Pin)
	return true
}

func probe(pin hal.Pin) error {
	if err := pin.ConfigureOutput(false); err != nil {
		return err
	}
	if err := pin.Set(false); err != nil {
		return err
	}
	level, err := pin.Get()
	if err != nil {
		return err
	}
	if level {
		return ErrReadback
	}
	return nil
}

func (m *Manager) initFailed(err error) bool {
	m.err = err
	m.initialized = false
	m.healthy = false
	m.log.Warn("led init failed", "err", err)
	return false
}

// Update advances the timed modes. Off and On hold the output constant.
func (m *Manager) Update() {
	if !m.ready() {
		return
	}
	now := m.clk.Millis()

	switch m.mode {
	case WarningBlink:
		if clock.HasElapsed(m.lastBlink, now, m.interval) {
			m.lastBlink = now
			m.write(!m.level)
		}
	case LimitedBlink:
		if !clock.HasElapsed(m.lastBlink, now, m.interval) {
			return
		}
		m.lastBlink = now
		m.blinkCount++
		if m.blinkCount >= m.maxBlinks {
			// Last permitted step: finish dark.
			if m.write(false) {
				m.mode = Off
			}
			return
		}
		m.write(!m.level)
	case PatternEmergency:
		m.advancePattern(emergencyPattern, now)
	case PatternAlert:
		m.advancePattern(alertPattern, now)
	}
}

func (m *Manager) advancePattern(steps []clock.Millis, now clock.Millis) {
	if !clock.HasElapsed(m.lastBlink, now, steps[m.step]) {
		return
	}
	m.lastBlink = now
	m.step = (m.step + 1) % len(steps)
	m.write(m.step%2 == 0)
}

// SetMode switches to m. Blink and pattern modes start lit. LimitedBlink
// needs a count and is entered through StartLimitedBlink instead.
func (m *Manager) SetMode(mode Mode) bool {
	if !m.ready() {
		return false
	}
	switch mode {
	case Off, On, WarningBlink, PatternEmergency, PatternAlert:
	case LimitedBlink:
		m.err = fmt.Errorf("%s needs StartLimitedBlink: %w", mode, ErrMode)
		return false
	default:
		m.err = fmt.Errorf("%d: %w", mode, ErrMode)
		return false
	}

	now := m.clk.Millis()
	m.step = 0
	m.blinkCount = 0
	m.maxBlinks = 0
	m.lastBlink = now
	m.lastOperation = now
	if !m.write(mode != Off) {
		return false
	}
	m.mode = mode
	return true
}

// SetWarningState switches between WarningBlink and Off.
func (m *Manager) SetWarningState(active bool) bool {
	if active {
		return m.SetMode(WarningBlink)
	}
	return m.SetMode(Off)
}

// SetInterval changes the blink interval. Values outside
// [MinInterval, MaxInterval] are rejected.
func (m *Manager) SetInterval(interval clock.Millis) bool {
	if !m.ready() {
		return false
	}
	if interval < MinInterval || interval > MaxInterval {
		m.err = fmt.Errorf("%dms: %w", interval, ErrInterval)
		return false
	}
	m.interval = interval
	m.lastOperation = m.clk.Millis()
	return true
}

// StartLimitedBlink toggles the LED every interval for at most count
// toggles, then leaves it off. The LED starts dark and count counts steps,
// the last of which is always forced off: a count of 1 never lights the
// LED, and n full on/off blinks take count 2n. Out of range arguments are
// rejected.
func (m *Manager) StartLimitedBlink(count int, interval clock.Millis) bool {
	if !m.ready() {
		return false
	}
	if count < 1 || count > MaxBlinks {
		m.err = fmt.Errorf("%d: %w", count, ErrBlinkCount)
		return false
	}
	if interval < MinInterval || interval > MaxInterval {
		m.err = fmt.Errorf("%dms: %w", interval, ErrInterval)
		return false
	}
	if !m.write(false) {
		return false
	}
	now := m.clk.Millis()
	m.interval = interval
	m.maxBlinks = count
	m.blinkCount = 0
	m.step = 0
	m.lastBlink = now
	m.lastOperation = now
	m.mode = LimitedBlink
	return true
}

// Recover releases the pin and runs Init again.
func (m *Manager) Recover() bool {
	m.log.Info("led recovering")
	m.teardown()
	return m.Init()
}

// Close turns the LED off when possible and releases the pin.
func (m *Manager) Close() error {
	if m.ready() {
		m.pin.Set(false)
	}
	return m.teardown()
}

func (m *Manager) teardown() error {
	var err error
	if m.pin != nil {
		err = closePin(m.pin)
		m.pin = nil
	}
	m.initialized = false
	m.healthy = false
	m.mode = Off
	m.level = false
	m.blinkCount = 0
	m.maxBlinks = 0
	return err
}

func closePin(p hal.Pin) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (m *Manager) Mode() Mode                  { return m.mode }
func (m *Manager) Level() bool                 { return m.level }
func (m *Manager) Interval() clock.Millis      { return m.interval }
func (m *Manager) BlinkCount() int             { return m.blinkCount }
func (m *Manager) Initialized() bool           { return m.initialized }
func (m *Manager) Healthy() bool               { return m.healthy }
func (m *Manager) Err() error                  { return m.err }
func (m *Manager) Config() Config              { return m.cfg }
func (m *Manager) LastOperation() clock.Millis { return m.lastOperation }

func (m *Manager) ready() bool {
	return m.initialized && m.healthy && m.pin != nil
}

func (m *Manager) write(level bool) bool {
	if err := m.pin.Set(level); err != nil {
		m.healthy = false
		m.err = err
		m.log.Error("led hardware fault", "err", err)
		return false
	}
	m.level = level
	return true
}
