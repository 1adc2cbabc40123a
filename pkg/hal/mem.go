package hal

import (
	"fmt"
	"sync"
)

// MemBank is a memory-backed Bank. Output pins hold a level; input pins
// read their pull level unless a connected output pin drives them low, or
// a level is forced. This is enough to model a scanned key matrix: a
// pressed key connects one row output to one column input.
type MemBank struct {
	mu     sync.Mutex
	max    uint8
	pins   map[uint8]*MemPin
	links  map[uint8]map[uint8]bool // input -> set of outputs
	faults map[uint8]error
}

// NewMemBank returns a bank addressing pins 0..maxPin.
func NewMemBank(maxPin uint8) *MemBank {
	return &MemBank{
		max:    maxPin,
		pins:   make(map[uint8]*MemPin),
		links:  make(map[uint8]map[uint8]bool),
		faults: make(map[uint8]error),
	}
}

func (b *MemBank) MaxPin() uint8 { return b.max }

// Pin returns the pin numbered n, creating it on first use. A pin that is
// already held must be closed before it can be handed out again.
func (b *MemBank) Pin(n uint8) (Pin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.max {
		return nil, fmt.Errorf("pin %d: %w", n, ErrUnknownPin)
	}
	p, ok := b.pins[n]
	if !ok {
		p = &MemPin{bank: b, n: n}
		b.pins[n] = p
	}
	if p.held {
		return nil, fmt.Errorf("pin %d: %w", n, ErrPinInUse)
	}
	p.held = true
	return p, nil
}

// Connect joins an output pin to an input pin, like a closed switch.
func (b *MemBank) Connect(out, in uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.links[in]
	if !ok {
		set = make(map[uint8]bool)
		b.links[in] = set
	}
	set[out] = true
}

// Disconnect opens a switch made with Connect.
func (b *MemBank) Disconnect(out, in uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.links[in], out)
}

// DisconnectAll opens every switch.
func (b *MemBank) DisconnectAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.links = make(map[uint8]map[uint8]bool)
}

// Fail makes every access to pin n return err until Heal is called.
func (b *MemBank) Fail(n uint8, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		err = ErrPinFault
	}
	b.faults[n] = err
}

// Heal clears a fault injected with Fail.
func (b *MemBank) Heal(n uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.faults, n)
}

// Level returns the current level of pin n and whether the pin exists.
func (b *MemBank) Level(n uint8) (bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pins[n]
	if !ok {
		return false, false
	}
	return b.levelLocked(p), true
}

// Writes returns how many times pin n was driven to a new level.
func (b *MemBank) Writes(n uint8) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pins[n]; ok {
		return p.transitions
	}
	return 0
}

// Held reports whether pin n is currently handed out.
func (b *MemBank) Held(n uint8) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pins[n]
	return ok && p.held
}

func (b *MemBank) levelLocked(p *MemPin) bool {
	if p.output {
		return p.level
	}
	for out := range b.links[p.n] {
		if o, ok := b.pins[out]; ok && o.output && !o.level {
			return false
		}
	}
	return p.pull != PullDown
}

// MemPin is a pin handed out by MemBank.
type MemPin struct {
	bank        *MemBank
	n           uint8
	held        bool
	output      bool
	level       bool
	pull        Pull
	transitions int
}

func (p *MemPin) fault() error {
	if !p.held {
		return fmt.Errorf("pin %d: closed: %w", p.n, ErrPinFault)
	}
	return p.bank.faults[p.n]
}

func (p *MemPin) ConfigureOutput(initial bool) error {
	p.bank.mu.Lock()
	defer p.bank.mu.Unlock()
	if err := p.fault(); err != nil {
		return err
	}
	p.output = true
	p.level = initial
	return nil
}

func (p *MemPin) ConfigureInput(pull Pull) error {
	p.bank.mu.Lock()
	defer p.bank.mu.Unlock()
	if err := p.fault(); err != nil {
		return err
	}
	p.output = false
	p.pull = pull
	return nil
}

func (p *MemPin) Set(high bool) error {
	p.bank.mu.Lock()
	defer p.bank.mu.Unlock()
	if err := p.fault(); err != nil {
		return err
	}
	if p.level != high {
		p.transitions++
	}
	p.level = high
	return nil
}

func (p *MemPin) Get() (bool, error) {
	p.bank.mu.Lock()
	defer p.bank.mu.Unlock()
	if err := p.fault(); err != nil {
		return false, err
	}
	return p.bank.levelLocked(p), nil
}

// Close releases the pin back to the bank.
func (p *MemPin) Close() error {
	p.bank.mu.Lock()
	defer p.bank.mu.Unlock()
	p.held = false
	return nil
}
