//go:build tinygo

package lcd

import (
	"fmt"
	"machine"

	"tinygo.org/x/drivers/hd44780"
)

type gpioDriver struct {
	dev hd44780.Device
}

// OpenParallel returns an Opener for a display wired in 4-bit mode with
// RW tied to ground.
func OpenParallel() Opener {
	return func(cfg Config) (Driver, error) {
		if cfg.Wiring != WiringParallel {
			return nil, fmt.Errorf("%s: %w", cfg.Wiring, ErrWiring)
		}
		pin := func(i int) machine.Pin { return machine.Pin(cfg.Pins[i]) }
		dev, err := hd44780.NewGPIO4Bit(
			[]machine.Pin{pin(PinD4), pin(PinD5), pin(PinD6), pin(PinD7)},
			pin(PinEN), pin(PinRS), machine.NoPin,
		)
		if err != nil {
			return nil, err
		}
		return &gpioDriver{dev: dev}, nil
	}
}

func (d *gpioDriver) Configure(cols, rows uint8) error {
	return d.dev.Configure(hd44780.Config{
		Width:  int16(cols),
		Height: int16(rows),
	})
}

func (d *gpioDriver) Clear() error {
	d.dev.ClearDisplay()
	return nil
}

func (d *gpioDriver) SetCursor(col, row uint8) error {
	d.dev.SetCursor(col, row)
	return nil
}

func (d *gpioDriver) Print(b []byte) error {
	if _, err := d.dev.Write(b); err != nil {
		return err
	}
	return d.dev.Display()
}
