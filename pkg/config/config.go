// Package config defines the persisted panel layout: which pins the keypad,
// display and LED use and the loop timings. The struct has a fixed binary
// layout so it can be stored in flash and sent over the serial protocol
// without allocation-heavy encoders.
package config

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tuffrabit/tinygo-status-panel/pkg/clock"
	"github.com/tuffrabit/tinygo-status-panel/pkg/keypad"
	"github.com/tuffrabit/tinygo-status-panel/pkg/lcd"
	"github.com/tuffrabit/tinygo-status-panel/pkg/led"
)

// CurrentVersion is the config format version.
// Bump this when making breaking changes to the layout below.
// When firmware boots and finds a different version in flash, the config is wiped.
const CurrentVersion uint16 = 1

// Size is the encoded length of a PanelConfig.
const Size = 104

const (
	MaxKeymap = keypad.MaxDimension * keypad.MaxDimension

	MinRefreshMs = 100
	MaxRefreshMs = 60000
	MaxHoldMs    = 10000
)

// PanelConfig is the whole panel layout.
// Total size: 104 bytes
// Layout:
//
//	[0-1]:    Version (uint16)
//	[2]:      KeypadRows (uint8)
//	[3]:      KeypadCols (uint8)
//	[4-11]:   RowPins ([8]uint8, KeypadRows used)
//	[12-19]:  ColPins ([8]uint8, KeypadCols used)
//	[20-83]:  Keymap ([64]byte, row-major, Rows*Cols used)
//	[84]:     LCDWiring (uint8)
//	[85]:     LCDAddress (uint8)
//	[86-91]:  LCDPins ([6]uint8: RS, EN, D4-D7)
//	[92]:     LCDCols (uint8)
//	[93]:     LCDRows (uint8)
//	[94]:     LEDPin (uint8)
//	[95]:     Reserved (uint8)
//	[96-97]:  BlinkIntervalMs (uint16)
//	[98-99]:  RefreshIntervalMs (uint16)
//	[100-101]: HoldTimeMs (uint16)
//	[102]:    DebounceMs (uint8)
//	[103]:    IdleDelayMs (uint8)
type PanelConfig struct {
	Version           uint16
	KeypadRows        uint8
	KeypadCols        uint8
	RowPins           [keypad.MaxDimension]uint8
	ColPins           [keypad.MaxDimension]uint8
	Keymap            [MaxKeymap]byte
	LCDWiring         lcd.Wiring
	LCDAddress        uint8
	LCDPins           [lcd.NumPins]uint8
	LCDCols           uint8
	LCDRows           uint8
	LEDPin            uint8
	Reserved          uint8
	BlinkIntervalMs   uint16
	RefreshIntervalMs uint16
	HoldTimeMs        uint16
	DebounceMs        uint8 // 0 = keypad default
	IdleDelayMs       uint8
}

// Errors
var (
	ErrInvalidSize = errors.New("invalid config size")
	ErrInvalid     = errors.New("invalid panel config")
	ErrPinShared   = errors.New("pin used by more than one peripheral")
)

// Default returns the stock wiring: a 4x4 keypad on GP2-GP9, a 16x2
// parallel LCD on GP10-GP15 and the on-board LED on GP25.
func Default() PanelConfig {
	c := PanelConfig{
		Version:           CurrentVersion,
		KeypadRows:        4,
		KeypadCols:        4,
		LCDWiring:         lcd.WiringParallel,
		LCDAddress:        0x27,
		LCDPins:           [lcd.NumPins]uint8{10, 11, 12, 13, 14, 15},
		LCDCols:           16,
		LCDRows:           2,
		LEDPin:            25,
		BlinkIntervalMs:   uint16(led.DefaultInterval),
		RefreshIntervalMs: 2000,
		HoldTimeMs:        uint16(keypad.DefaultHoldTime),
		DebounceMs:        uint8(keypad.DefaultDebounce),
		IdleDelayMs:       50,
	}
	copy(c.RowPins[:], []uint8{2, 3, 4, 5})
	copy(c.ColPins[:], []uint8{6, 7, 8, 9})
	c.SetKeymap(keypad.DefaultKeymap)
	return c
}

// MarshalBinary implements encoding.BinaryMarshaler for PanelConfig.
func (c *PanelConfig) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint16(buf[0:], c.Version)
	buf[2] = c.KeypadRows
	buf[3] = c.KeypadCols
	copy(buf[4:12], c.RowPins[:])
	copy(buf[12:20], c.ColPins[:])
	copy(buf[20:84], c.Keymap[:])
	buf[84] = uint8(c.LCDWiring)
	buf[85] = c.LCDAddress
	copy(buf[86:92], c.LCDPins[:])
	buf[92] = c.LCDCols
	buf[93] = c.LCDRows
	buf[94] = c.LEDPin
	buf[95] = c.Reserved
	binary.LittleEndian.PutUint16(buf[96:], c.BlinkIntervalMs)
	binary.LittleEndian.PutUint16(buf[98:], c.RefreshIntervalMs)
	binary.LittleEndian.PutUint16(buf[100:], c.HoldTimeMs)
	buf[102] = c.DebounceMs
	buf[103] = c.IdleDelayMs
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for PanelConfig.
func (c *PanelConfig) UnmarshalBinary(data []byte) error {
	if len(data) < Size {
		return ErrInvalidSize
	}

	c.Version = binary.LittleEndian.Uint16(data[0:])
	c.KeypadRows = data[2]
	c.KeypadCols = data[3]
	copy(c.RowPins[:], data[4:12])
	copy(c.ColPins[:], data[12:20])
	copy(c.Keymap[:], data[20:84])
	c.LCDWiring = lcd.Wiring(data[84])
	c.LCDAddress = data[85]
	copy(c.LCDPins[:], data[86:92])
	c.LCDCols = data[92]
	c.LCDRows = data[93]
	c.LEDPin = data[94]
	c.Reserved = data[95]
	c.BlinkIntervalMs = binary.LittleEndian.Uint16(data[96:])
	c.RefreshIntervalMs = binary.LittleEndian.Uint16(data[98:])
	c.HoldTimeMs = binary.LittleEndian.Uint16(data[100:])
	c.DebounceMs = data[102]
	c.IdleDelayMs = data[103]
	return nil
}

// GetKeymap returns the used part of the keymap as a string.
func (c *PanelConfig) GetKeymap() string {
	n := int(c.KeypadRows) * int(c.KeypadCols)
	if n > MaxKeymap {
		n = MaxKeymap
	}
	return string(c.Keymap[:n])
}

// SetKeymap stores keys row-major. Keys past MaxKeymap are dropped and
// the rest of the array is zeroed.
func (c *PanelConfig) SetKeymap(keys string) {
	c.Keymap = [MaxKeymap]byte{}
	copy(c.Keymap[:], keys)
}

// Keypad returns the keypad manager configuration.
func (c *PanelConfig) Keypad() keypad.Config {
	rows, cols := int(c.KeypadRows), int(c.KeypadCols)
	if rows > keypad.MaxDimension {
		rows = keypad.MaxDimension
	}
	if cols > keypad.MaxDimension {
		cols = keypad.MaxDimension
	}
	return keypad.Config{
		Rows:     int(c.KeypadRows),
		Cols:     int(c.KeypadCols),
		RowPins:  append([]uint8(nil), c.RowPins[:rows]...),
		ColPins:  append([]uint8(nil), c.ColPins[:cols]...),
		Keymap:   []byte(c.GetKeymap()),
		Debounce: clock.Millis(c.DebounceMs),
		HoldTime: clock.Millis(c.HoldTimeMs),
	}
}

// LCD returns the display manager configuration.
func (c *PanelConfig) LCD() lcd.Config {
	return lcd.Config{
		Wiring:  c.LCDWiring,
		Pins:    c.LCDPins,
		Address: c.LCDAddress,
		Cols:    c.LCDCols,
		Rows:    c.LCDRows,
	}
}

// LED returns the LED manager configuration.
func (c *PanelConfig) LED() led.Config {
	return led.Config{
		Pin:      c.LEDPin,
		Interval: clock.Millis(c.BlinkIntervalMs),
	}
}

func (c *PanelConfig) RefreshInterval() clock.Millis { return clock.Millis(c.RefreshIntervalMs) }
func (c *PanelConfig) IdleDelay() clock.Millis       { return clock.Millis(c.IdleDelayMs) }

// Validate applies each manager's own checks, the loop timing limits and
// requires that no pin is claimed by two peripherals.
func (c *PanelConfig) Validate(maxPin uint8) error {
	if err := c.Keypad().Validate(maxPin); err != nil {
		return fmt.Errorf("%w: keypad: %w", ErrInvalid, err)
	}
	if err := c.LCD().Validate(maxPin); err != nil {
		return fmt.Errorf("%w: lcd: %w", ErrInvalid, err)
	}
	if err := c.LED().Validate(maxPin); err != nil {
		return fmt.Errorf("%w: led: %w", ErrInvalid, err)
	}
	if c.RefreshIntervalMs < MinRefreshMs || c.RefreshIntervalMs > MaxRefreshMs {
		return fmt.Errorf("%w: refresh interval %dms", ErrInvalid, c.RefreshIntervalMs)
	}
	if c.HoldTimeMs > MaxHoldMs {
		return fmt.Errorf("%w: hold time %dms", ErrInvalid, c.HoldTimeMs)
	}
	if c.IdleDelayMs == 0 {
		return fmt.Errorf("%w: idle delay 0", ErrInvalid)
	}

	owner := make(map[uint8]string)
	claim := func(who string, pins ...uint8) error {
		for _, p := range pins {
			if prev, ok := owner[p]; ok && prev != who {
				return fmt.Errorf("%w: pin %d (%s, %s)", ErrPinShared, p, prev, who)
			}
			owner[p] = who
		}
		return nil
	}
	if err := claim("keypad", c.RowPins[:c.KeypadRows]...); err != nil {
		return err
	}
	if err := claim("keypad", c.ColPins[:c.KeypadCols]...); err != nil {
		return err
	}
	if c.LCDWiring == lcd.WiringParallel {
		if err := claim("lcd", c.LCDPins[:]...); err != nil {
			return err
		}
	}
	return claim("led", c.LEDPin)
}
