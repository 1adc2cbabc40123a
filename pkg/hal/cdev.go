//go:build linux && !tinygo

package hal

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// CdevBank requests lines from a GPIO character device such as gpiochip0.
type CdevBank struct {
	chip *gpiocdev.Chip
	max  uint8
}

// NewCdevBank opens the named chip.
func NewCdevBank(chipName string, maxPin uint8) (*CdevBank, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", chipName, err)
	}
	if lines := chip.Lines(); lines > 0 && lines-1 < int(maxPin) {
		maxPin = uint8(lines - 1)
	}
	return &CdevBank{chip: chip, max: maxPin}, nil
}

func (b *CdevBank) MaxPin() uint8 { return b.max }

// Pin requests line n as an input. The direction is changed later by
// ConfigureOutput/ConfigureInput.
func (b *CdevBank) Pin(n uint8) (Pin, error) {
	if n > b.max {
		return nil, fmt.Errorf("pin %d: %w", n, ErrUnknownPin)
	}
	line, err := b.chip.RequestLine(int(n), gpiocdev.AsInput)
	if err != nil {
		return nil, fmt.Errorf("request line %d: %w", n, err)
	}
	return &cdevPin{line: line}, nil
}

// Close releases the chip. Lines must be closed by their owners first.
func (b *CdevBank) Close() error {
	return b.chip.Close()
}

type cdevPin struct {
	line *gpiocdev.Line
}

func (p *cdevPin) ConfigureOutput(initial bool) error {
	return p.line.Reconfigure(gpiocdev.AsOutput(boolToInt(initial)))
}

func (p *cdevPin) ConfigureInput(pull Pull) error {
	bias := gpiocdev.WithBiasDisabled
	switch pull {
	case PullUp:
		bias = gpiocdev.WithPullUp
	case PullDown:
		bias = gpiocdev.WithPullDown
	}
	return p.line.Reconfigure(gpiocdev.AsInput, bias)
}

func (p *cdevPin) Set(high bool) error {
	return p.line.SetValue(boolToInt(high))
}

func (p *cdevPin) Get() (bool, error) {
	v, err := p.line.Value()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (p *cdevPin) Close() error {
	return p.line.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
