// Package hal is the pin-level hardware abstraction used by the panel
// managers. The managers only see Pin and Bank; each build target supplies
// its own Bank (TinyGo machine pins, periph.io or gpiocdev on Linux, or the
// memory-backed MemBank for tests and the simulator).
package hal

import (
	"errors"
	"runtime"
)

// DefaultMaxPin is the highest pin number accepted when a backend has no
// tighter limit. It matches the largest common Arduino-class header (0-53).
const DefaultMaxPin uint8 = 53

var (
	ErrUnknownPin = errors.New("unknown pin")
	ErrPinInUse   = errors.New("pin in use")
	ErrPinFault   = errors.New("pin fault")
)

// Pull selects the input bias.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return "none"
	}
}

// Pin is a single digital line.
type Pin interface {
	ConfigureOutput(initial bool) error
	ConfigureInput(pull Pull) error
	Set(high bool) error
	Get() (bool, error)
}

// Bank hands out pins by number. Pins that also implement io.Closer are
// released by their owner on teardown.
type Bank interface {
	Pin(n uint8) (Pin, error)
	MaxPin() uint8
}

// FreeMemory estimates heap headroom in bytes. ok is false when the runtime
// statistics cannot give a meaningful answer.
func FreeMemory() (free uint32, ok bool) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys == 0 || ms.HeapInuse > ms.HeapSys {
		return 0, false
	}
	avail := ms.HeapSys - ms.HeapInuse
	if avail > uint64(^uint32(0)) {
		avail = uint64(^uint32(0))
	}
	return uint32(avail), true
}
