// Package hostcfg loads the YAML configuration of panel-host: the panel
// layout in human-friendly form plus the settings only a Linux host has
// (GPIO backend, I2C bus, serial port).
package hostcfg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tuffrabit/tinygo-status-panel/pkg/config"
	"github.com/tuffrabit/tinygo-status-panel/pkg/lcd"

	"gopkg.in/yaml.v3"
)

// GPIO backends.
const (
	BackendPeriph = "periph"
	BackendCdev   = "cdev"
)

var ErrInvalid = errors.New("invalid host config")

type Config struct {
	LogLevel string `yaml:"log_level"`
	GPIO     GPIO   `yaml:"gpio"`
	Serial   Serial `yaml:"serial"`
	Panel    Panel  `yaml:"panel"`
}

type GPIO struct {
	Backend string `yaml:"backend"` // periph or cdev
	Chip    string `yaml:"chip"`    // cdev only
	MaxPin  uint8  `yaml:"max_pin"`
	I2CBus  string `yaml:"i2c_bus"` // periph i2creg name, "" for the first bus
}

// Serial is the port panel-host remote talks to.
type Serial struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type Panel struct {
	Keypad    Keypad `yaml:"keypad"`
	LCD       LCD    `yaml:"lcd"`
	LED       LED    `yaml:"led"`
	RefreshMs uint16 `yaml:"refresh_ms"`
	IdleMs    uint8  `yaml:"idle_ms"`
}

type Keypad struct {
	RowPins    []uint8 `yaml:"row_pins"`
	ColPins    []uint8 `yaml:"col_pins"`
	Keymap     string  `yaml:"keymap"`
	DebounceMs uint8   `yaml:"debounce_ms"`
	HoldMs     uint16  `yaml:"hold_ms"`
}

type LCD struct {
	Wiring  string  `yaml:"wiring"` // parallel or i2c
	Address uint8   `yaml:"address"`
	Pins    []uint8 `yaml:"pins,omitempty"` // RS, EN, D4-D7
	Cols    uint8   `yaml:"cols"`
	Rows    uint8   `yaml:"rows"`
}

type LED struct {
	Pin        uint8  `yaml:"pin"`
	IntervalMs uint16 `yaml:"interval_ms"`
}

// Default is a Raspberry Pi layout using BCM numbering with an I2C
// backpack display.
func Default() Config {
	d := config.Default()
	return Config{
		LogLevel: "info",
		GPIO: GPIO{
			Backend: BackendPeriph,
			Chip:    "gpiochip0",
			MaxPin:  27,
		},
		Serial: Serial{Baud: 115200},
		Panel: Panel{
			Keypad: Keypad{
				RowPins:    []uint8{5, 6, 13, 19},
				ColPins:    []uint8{12, 16, 20, 21},
				Keymap:     d.GetKeymap(),
				DebounceMs: d.DebounceMs,
				HoldMs:     d.HoldTimeMs,
			},
			LCD: LCD{
				Wiring:  lcd.WiringI2C.String(),
				Address: 0x27,
				Cols:    d.LCDCols,
				Rows:    d.LCDRows,
			},
			LED: LED{
				Pin:        26,
				IntervalMs: d.BlinkIntervalMs,
			},
			RefreshMs: d.RefreshIntervalMs,
			IdleMs:    d.IdleDelayMs,
		},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		c := Default()
		return c, c.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return c, c.Validate()
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c Config) Validate() error {
	switch c.GPIO.Backend {
	case BackendPeriph, BackendCdev:
	default:
		return fmt.Errorf("%w: gpio backend %q", ErrInvalid, c.GPIO.Backend)
	}
	if c.GPIO.Backend == BackendCdev && c.GPIO.Chip == "" {
		return fmt.Errorf("%w: cdev backend needs a chip", ErrInvalid)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	pc, err := c.PanelConfig()
	if err != nil {
		return err
	}
	if err := pc.Validate(c.GPIO.MaxPin); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	return l, nil
}

// PanelConfig converts the YAML layout into the binary layout the panel
// and the firmware share. Only shape errors are reported here; pin and
// timing rules are left to config.Validate.
func (c Config) PanelConfig() (config.PanelConfig, error) {
	p := c.Panel
	pc := config.Default()

	if len(p.Keypad.RowPins) > len(pc.RowPins) || len(p.Keypad.ColPins) > len(pc.ColPins) {
		return pc, fmt.Errorf("%w: keypad larger than %dx%d", ErrInvalid, len(pc.RowPins), len(pc.ColPins))
	}
	pc.KeypadRows = uint8(len(p.Keypad.RowPins))
	pc.KeypadCols = uint8(len(p.Keypad.ColPins))
	clear(pc.RowPins[:])
	clear(pc.ColPins[:])
	copy(pc.RowPins[:], p.Keypad.RowPins)
	copy(pc.ColPins[:], p.Keypad.ColPins)
	pc.SetKeymap(p.Keypad.Keymap)
	pc.DebounceMs = p.Keypad.DebounceMs
	pc.HoldTimeMs = p.Keypad.HoldMs

	switch p.LCD.Wiring {
	case lcd.WiringI2C.String():
		pc.LCDWiring = lcd.WiringI2C
		pc.LCDPins = [lcd.NumPins]uint8{}
	case lcd.WiringParallel.String():
		pc.LCDWiring = lcd.WiringParallel
		if len(p.LCD.Pins) != lcd.NumPins {
			return pc, fmt.Errorf("%w: parallel lcd needs %d pins, got %d", ErrInvalid, lcd.NumPins, len(p.LCD.Pins))
		}
		copy(pc.LCDPins[:], p.LCD.Pins)
	default:
		return pc, fmt.Errorf("%w: lcd wiring %q", ErrInvalid, p.LCD.Wiring)
	}
	pc.LCDAddress = p.LCD.Address
	pc.LCDCols = p.LCD.Cols
	pc.LCDRows = p.LCD.Rows

	pc.LEDPin = p.LED.Pin
	pc.BlinkIntervalMs = p.LED.IntervalMs
	pc.RefreshIntervalMs = p.RefreshMs
	pc.IdleDelayMs = p.IdleMs
	return pc, nil
}
