package config

import (
	"bytes"
	"errors"
	"testing"

	"github.com/tuffrabit/tinygo-status-panel/pkg/keypad"
	"github.com/tuffrabit/tinygo-status-panel/pkg/lcd"
)

const testMaxPin = 29 // RP2040

func TestPanelConfigMarshalUnmarshal(t *testing.T) {
	original := Default()
	original.LCDWiring = lcd.WiringI2C
	original.LCDAddress = 0x3F
	original.BlinkIntervalMs = 0xABCD
	original.RefreshIntervalMs = 0x1234
	original.HoldTimeMs = 777
	original.DebounceMs = 30
	original.IdleDelayMs = 20
	original.Reserved = 0x5A

	// Marshal
	data, err := original.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	if len(data) != Size {
		t.Errorf("Expected %d bytes, got %d", Size, len(data))
	}

	// Unmarshal
	var decoded PanelConfig
	if err := decoded.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}

	if decoded != original {
		t.Errorf("Round trip mismatch:\n got  %+v\n want %+v", decoded, original)
	}
}

func TestPanelConfigLayout(t *testing.T) {
	c := Default()
	data, _ := c.MarshalBinary()

	// Spot-check offsets other tools rely on.
	if data[0] != byte(CurrentVersion) || data[1] != 0 {
		t.Errorf("Version bytes: got %x %x", data[0], data[1])
	}
	if data[2] != 4 || data[3] != 4 {
		t.Errorf("Keypad dims: got %d x %d", data[2], data[3])
	}
	if !bytes.Equal(data[20:36], []byte(keypad.DefaultKeymap)) {
		t.Errorf("Keymap: got %q", data[20:36])
	}
	if data[94] != 25 {
		t.Errorf("LED pin: expected 25, got %d", data[94])
	}
	if data[98] != 0xD0 || data[99] != 0x07 {
		t.Errorf("Refresh interval: expected 2000 LE, got %x %x", data[98], data[99])
	}
}

func TestUnmarshalShortBuffer(t *testing.T) {
	var c PanelConfig
	if err := c.UnmarshalBinary(make([]byte, Size-1)); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("Expected ErrInvalidSize, got %v", err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(testMaxPin); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PanelConfig)
		want   error
	}{
		{"keypad row equals col", func(c *PanelConfig) { c.ColPins[0] = c.RowPins[1] }, keypad.ErrPinConflict},
		{"keypad too big", func(c *PanelConfig) { c.KeypadRows = 9 }, keypad.ErrDimensions},
		{"short keymap", func(c *PanelConfig) { c.SetKeymap("123") }, keypad.ErrKeymap},
		{"lcd duplicate pin", func(c *PanelConfig) { c.LCDPins[lcd.PinD5] = c.LCDPins[lcd.PinD4] }, lcd.ErrDuplicatePin},
		{"lcd out of range", func(c *PanelConfig) { c.LCDPins[lcd.PinRS] = 30 }, lcd.ErrPinRange},
		{"lcd too wide", func(c *PanelConfig) { c.LCDCols = 80 }, lcd.ErrSize},
		{"led out of range", func(c *PanelConfig) { c.LEDPin = 40 }, ErrInvalid},
		{"blink too fast", func(c *PanelConfig) { c.BlinkIntervalMs = 10 }, ErrInvalid},
		{"refresh too fast", func(c *PanelConfig) { c.RefreshIntervalMs = 50 }, ErrInvalid},
		{"hold too long", func(c *PanelConfig) { c.HoldTimeMs = 20000 }, ErrInvalid},
		{"no idle delay", func(c *PanelConfig) { c.IdleDelayMs = 0 }, ErrInvalid},
		{"led on keypad pin", func(c *PanelConfig) { c.LEDPin = c.RowPins[0] }, ErrPinShared},
		{"lcd on keypad pin", func(c *PanelConfig) { c.LCDPins[lcd.PinEN] = c.ColPins[3] }, ErrPinShared},
		{"led on lcd pin", func(c *PanelConfig) { c.LEDPin = c.LCDPins[lcd.PinD7] }, ErrPinShared},
	}
	for _, tt := range tests {
		c := Default()
		tt.mutate(&c)
		err := c.Validate(testMaxPin)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestValidateI2CFreesLCDPins(t *testing.T) {
	c := Default()
	c.LCDWiring = lcd.WiringI2C
	c.LCDAddress = 0x27
	c.LEDPin = c.LCDPins[lcd.PinRS]
	if err := c.Validate(testMaxPin); err != nil {
		t.Errorf("LCD pins are unused with I2C wiring: %v", err)
	}
}

func TestManagerConfigs(t *testing.T) {
	c := Default()
	c.KeypadRows, c.KeypadCols = 3, 2
	c.SetKeymap("ABCDEF")

	kp := c.Keypad()
	if kp.Rows != 3 || kp.Cols != 2 || len(kp.RowPins) != 3 || len(kp.ColPins) != 2 {
		t.Errorf("Unexpected keypad config %+v", kp)
	}
	if string(kp.Keymap) != "ABCDEF" {
		t.Errorf("Expected keymap ABCDEF, got %q", kp.Keymap)
	}
	// The returned slices are copies.
	kp.RowPins[0] = 99
	if c.RowPins[0] == 99 {
		t.Error("Keypad() must not alias the config arrays")
	}

	if l := c.LCD(); l.Cols != 16 || l.Rows != 2 || l.Pins != c.LCDPins {
		t.Errorf("Unexpected lcd config %+v", l)
	}
	if l := c.LED(); l.Pin != 25 || l.Interval != 500 {
		t.Errorf("Unexpected led config %+v", l)
	}
	if c.RefreshInterval() != 2000 || c.IdleDelay() != 50 {
		t.Error("Unexpected loop timings")
	}
}

func TestSetKeymapClearsTail(t *testing.T) {
	c := Default()
	c.SetKeymap("12")
	if c.Keymap[2] != 0 || c.Keymap[15] != 0 {
		t.Error("SetKeymap should zero the unused tail")
	}
}
