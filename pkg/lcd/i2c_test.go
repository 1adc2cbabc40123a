package lcd

import (
	"errors"
	"testing"

	"github.com/tuffrabit/tinygo-status-panel/pkg/clock"
)

// fakeBackpack decodes the PCF8574 nibble stream back into the characters
// sent to the controller's data register.
type fakeBackpack struct {
	addr    uint16
	absent  bool
	nibbles []byte
	text    []byte
}

func (f *fakeBackpack) Tx(addr uint16, w, r []byte) error {
	if f.absent || addr != f.addr {
		return errors.New("nack")
	}
	for i := range r {
		r[i] = 0xFF
	}
	// A data nibble is latched on the enable pulse with RS high.
	if len(w) == 1 && w[0]&0x04 != 0 && w[0]&0x01 != 0 {
		f.nibbles = append(f.nibbles, w[0]>>4)
		if len(f.nibbles) == 2 {
			f.text = append(f.text, f.nibbles[0]<<4|f.nibbles[1])
			f.nibbles = f.nibbles[:0]
		}
	}
	return nil
}

func i2cConfig() Config {
	return Config{Wiring: WiringI2C, Address: 0x27, Cols: 16, Rows: 2}
}

func TestI2CDriver(t *testing.T) {
	if testing.Short() {
		t.Skip("controller power-up delay")
	}
	bus := &fakeBackpack{addr: 0x27}
	m := New(i2cConfig(), OpenI2C(bus), clock.NewManual(0))
	if !m.Init() {
		t.Fatalf("Init failed: %v", m.Err())
	}
	if !m.ShowSystemData("Hi", "there") {
		t.Fatal("ShowSystemData failed")
	}
	if got := string(bus.text); got != "TestHithere" {
		t.Errorf("Expected 'TestHithere' on the bus, got %q", got)
	}

	bus.absent = true
	if m.ShowWelcome() {
		t.Error("ShowWelcome should fail once the backpack stops answering")
	}
	if !errors.Is(m.Err(), ErrNoDevice) {
		t.Errorf("Expected ErrNoDevice, got %v", m.Err())
	}
}

func TestI2CDriverAbsent(t *testing.T) {
	bus := &fakeBackpack{addr: 0x3F}
	m := New(i2cConfig(), OpenI2C(bus), clock.NewManual(0))
	if m.Init() {
		t.Fatal("Init should fail with nothing at 0x27")
	}
	if !errors.Is(m.Err(), ErrNoDevice) {
		t.Errorf("Expected ErrNoDevice, got %v", m.Err())
	}
}

func TestI2COpenerRejectsParallel(t *testing.T) {
	_, err := OpenI2C(&fakeBackpack{})(testConfig())
	if !errors.Is(err, ErrWiring) {
		t.Errorf("Expected ErrWiring, got %v", err)
	}
}
