package lcd

import (
	"fmt"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/hd44780i2c"
)

// i2cDriver drives an HD44780 behind a PCF8574 backpack. The hd44780i2c
// calls do not report bus errors, so every state-changing call is followed
// by a one-byte read of the expander to confirm the device is still there.
type i2cDriver struct {
	bus  drivers.I2C
	addr uint8
	dev  hd44780i2c.Device
}

// OpenI2C returns an Opener that attaches to a backpack on bus. The bus
// may be machine.I2C0 on the board or a periph.io i2c.Bus on Linux.
func OpenI2C(bus drivers.I2C) Opener {
	return func(cfg Config) (Driver, error) {
		if cfg.Wiring != WiringI2C {
			return nil, fmt.Errorf("%s: %w", cfg.Wiring, ErrWiring)
		}
		d := &i2cDriver{bus: bus, addr: cfg.Address}
		if err := d.probe(); err != nil {
			return nil, err
		}
		d.dev = hd44780i2c.New(bus, cfg.Address)
		return d, nil
	}
}

func (d *i2cDriver) probe() error {
	var b [1]byte
	if err := d.bus.Tx(uint16(d.addr), nil, b[:]); err != nil {
		return fmt.Errorf("0x%02X: %w: %v", d.addr, ErrNoDevice, err)
	}
	return nil
}

func (d *i2cDriver) Configure(cols, rows uint8) error {
	err := d.dev.Configure(hd44780i2c.Config{
		Width:  cols,
		Height: rows,
	})
	if err != nil {
		return err
	}
	return d.probe()
}

func (d *i2cDriver) Clear() error {
	d.dev.ClearDisplay()
	return d.probe()
}

func (d *i2cDriver) SetCursor(col, row uint8) error {
	d.dev.SetCursor(col, row)
	return nil
}

func (d *i2cDriver) Print(b []byte) error {
	d.dev.Print(b)
	return d.probe()
}
