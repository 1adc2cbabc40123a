//go:build linux && !tinygo

package hal

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphBank addresses Raspberry Pi style BCM pins through periph.io.
type PeriphBank struct {
	max uint8

	mu   sync.Mutex
	held map[uint8]bool
}

// NewPeriphBank initialises the periph host drivers. host.Init is safe to
// call more than once.
func NewPeriphBank(maxPin uint8) (*PeriphBank, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return newPeriphBank(maxPin), nil
}

func newPeriphBank(maxPin uint8) *PeriphBank {
	return &PeriphBank{max: maxPin, held: make(map[uint8]bool)}
}

func (b *PeriphBank) MaxPin() uint8 { return b.max }

func (b *PeriphBank) Pin(n uint8) (Pin, error) {
	if n > b.max {
		return nil, fmt.Errorf("pin %d: %w", n, ErrUnknownPin)
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if p == nil {
		return nil, fmt.Errorf("GPIO%d: %w", n, ErrUnknownPin)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.held[n] {
		return nil, fmt.Errorf("pin %d: %w", n, ErrPinInUse)
	}
	b.held[n] = true
	return &periphPin{bank: b, n: n, p: p}, nil
}

func (b *PeriphBank) release(n uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.held, n)
}

type periphPin struct {
	bank *PeriphBank
	n    uint8
	p    gpio.PinIO
}

func (p *periphPin) ConfigureOutput(initial bool) error {
	return p.p.Out(gpio.Level(initial))
}

func (p *periphPin) ConfigureInput(pull Pull) error {
	gp := gpio.Float
	switch pull {
	case PullUp:
		gp = gpio.PullUp
	case PullDown:
		gp = gpio.PullDown
	}
	return p.p.In(gp, gpio.NoEdge)
}

func (p *periphPin) Set(high bool) error {
	return p.p.Out(gpio.Level(high))
}

func (p *periphPin) Get() (bool, error) {
	return p.p.Read() == gpio.High, nil
}

// Close parks the line as a floating input and frees its number.
func (p *periphPin) Close() error {
	p.bank.release(p.n)
	return p.p.In(gpio.Float, gpio.NoEdge)
}
