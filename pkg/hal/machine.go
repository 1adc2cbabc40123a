//go:build tinygo

package hal

import (
	"fmt"
	"machine"
)

// MachineBank exposes TinyGo machine pins.
type MachineBank struct {
	max  uint8
	held map[uint8]bool
}

// NewMachineBank returns a bank for pins 0..maxPin (29 on the RP2040).
func NewMachineBank(maxPin uint8) *MachineBank {
	return &MachineBank{max: maxPin, held: make(map[uint8]bool)}
}

func (b *MachineBank) MaxPin() uint8 { return b.max }

func (b *MachineBank) Pin(n uint8) (Pin, error) {
	if n > b.max {
		return nil, fmt.Errorf("pin %d: %w", n, ErrUnknownPin)
	}
	if b.held[n] {
		return nil, fmt.Errorf("pin %d: %w", n, ErrPinInUse)
	}
	b.held[n] = true
	return &machinePin{bank: b, n: n, pin: machine.Pin(n)}, nil
}

type machinePin struct {
	bank *MachineBank
	n    uint8
	pin  machine.Pin
}

func (p *machinePin) ConfigureOutput(initial bool) error {
	p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.pin.Set(initial)
	return nil
}

func (p *machinePin) ConfigureInput(pull Pull) error {
	mode := machine.PinInput
	switch pull {
	case PullUp:
		mode = machine.PinInputPullup
	case PullDown:
		mode = machine.PinInputPulldown
	}
	p.pin.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (p *machinePin) Set(high bool) error {
	p.pin.Set(high)
	return nil
}

func (p *machinePin) Get() (bool, error) {
	return p.pin.Get(), nil
}

// Close returns the pin to a floating input and frees its number.
func (p *machinePin) Close() error {
	p.pin.Configure(machine.PinConfig{Mode: machine.PinInput})
	delete(p.bank.held, p.n)
	return nil
}
