package panel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tuffrabit/tinygo-status-panel/pkg/clock"
	"github.com/tuffrabit/tinygo-status-panel/pkg/hal"
	"github.com/tuffrabit/tinygo-status-panel/pkg/keypad"
	"github.com/tuffrabit/tinygo-status-panel/pkg/lcd"
	"github.com/tuffrabit/tinygo-status-panel/pkg/led"
)

type rig struct {
	panel *Panel
	bank  *hal.MemBank
	drv   *lcd.MemDriver
	clk   *clock.Manual
	kcfg  keypad.Config
}

func newRig(t *testing.T) *rig {
	t.Helper()
	bank := hal.NewMemBank(hal.DefaultMaxPin)
	drv := lcd.NewMemDriver()
	clk := clock.NewManual(0)
	kcfg := keypad.Config{
		Rows:    4,
		Cols:    4,
		RowPins: []uint8{2, 3, 4, 5},
		ColPins: []uint8{6, 7, 8, 9},
		Keymap:  []byte(keypad.DefaultKeymap),
	}
	lcfg := lcd.Config{
		Wiring: lcd.WiringParallel,
		Pins:   [lcd.NumPins]uint8{10, 11, 12, 13, 14, 15},
		Cols:   16,
		Rows:   2,
	}
	p := New(
		keypad.New(kcfg, bank, clk),
		lcd.New(lcfg, drv.Opener(), clk, lcd.WithMemoryProbe(func() (uint32, bool) { return 2048, true })),
		led.New(led.Config{Pin: 25}, bank, clk),
		clk,
	)
	return &rig{panel: p, bank: bank, drv: drv, clk: clk, kcfg: kcfg}
}

// tap presses and releases key across two loop iterations.
func (r *rig) tap(t *testing.T, key byte) {
	t.Helper()
	idx := strings.IndexByte(string(r.kcfg.Keymap), key)
	if idx < 0 {
		t.Fatalf("key %q not in keymap", key)
	}
	r.clk.Advance(60)
	r.bank.Connect(r.kcfg.RowPins[idx/r.kcfg.Cols], r.kcfg.ColPins[idx%r.kcfg.Cols])
	r.panel.Step()
	r.bank.DisconnectAll()
	r.clk.Advance(60)
	r.panel.Step()
}

func TestSetupShowsWelcome(t *testing.T) {
	r := newRig(t)
	r.panel.Setup()

	if got := r.drv.Screen(); got[0] != "Status Panel" || got[1] != "Press Key..." {
		t.Errorf("Expected welcome screen, got %q", got)
	}
	if r.clk.Millis() < DefaultWelcomeDelay {
		t.Errorf("Expected welcome held for %d ms, clock at %d", DefaultWelcomeDelay, r.clk.Millis())
	}
	st := r.panel.Status()
	if !st.Keypad.Healthy || !st.LCD.Healthy || !st.LED.Healthy {
		t.Errorf("Expected all managers healthy, got %+v", st)
	}
}

func TestToggleActiveTwice(t *testing.T) {
	r := newRig(t)
	r.panel.Setup()

	r.tap(t, '1')
	if !r.panel.Active() {
		t.Error("Expected active after first '1'")
	}
	if m := r.panel.LED().Mode(); m != led.WarningBlink {
		t.Errorf("Expected LED warning blink, got %v", m)
	}
	if row := r.drv.Row(1); row != "Active" {
		t.Errorf("Expected status 'Active', got %q", row)
	}

	r.tap(t, '1')
	if r.panel.Active() {
		t.Error("Expected inactive after second '1'")
	}
	if m := r.panel.LED().Mode(); m != led.Off {
		t.Errorf("Expected LED off, got %v", m)
	}
	if row := r.drv.Row(1); row != "Inactive" {
		t.Errorf("Expected status 'Inactive', got %q", row)
	}
}

func TestKeyTable(t *testing.T) {
	r := newRig(t)
	r.panel.Setup()

	r.tap(t, '2')
	if row := r.drv.Row(0); row != "1:Active 2:Menu" {
		t.Errorf("Expected menu, got %q", row)
	}
	r.tap(t, '3')
	if row := r.drv.Row(1); row != "Mem: 2048 bytes" {
		t.Errorf("Expected system info, got %q", row)
	}
	r.tap(t, '#')
	if row := r.drv.Row(0); row != "Status Panel" {
		t.Errorf("Expected welcome, got %q", row)
	}
}

func TestInputEchoAndClear(t *testing.T) {
	r := newRig(t)
	r.panel.Setup()

	for _, k := range []byte("4A0") {
		r.tap(t, k)
	}
	if got := r.drv.Screen(); got[0] != "Input:" || got[1] != "4A0" {
		t.Errorf("Expected input echo, got %q", got)
	}

	r.tap(t, '*')
	if got := r.drv.Screen(); got[0] != "" || got[1] != "" {
		t.Errorf("Expected blank display, got %q", got)
	}
	if in := r.panel.Status().Input; in != "" {
		t.Errorf("Expected input cleared, got %q", in)
	}
}

func TestInputBounded(t *testing.T) {
	r := newRig(t)
	// No action keys, so every press lands in the buffer.
	const keys = "0456789ABCD"
	total := MaxInput + 8
	for i := 0; i < total; i++ {
		r.panel.HandleKey(keys[i%len(keys)])
	}
	in := r.panel.Status().Input
	if len(in) != MaxInput {
		t.Fatalf("Expected %d bytes of input, got %d", MaxInput, len(in))
	}
	if want := keys[(total-1)%len(keys)]; in[len(in)-1] != want {
		t.Errorf("Expected newest key %q last, got %q", want, in)
	}
	if want := keys[(total-MaxInput)%len(keys)]; in[0] != want {
		t.Errorf("Expected oldest kept key %q first, got %q", want, in)
	}
	if in != "BCD0456789ABCD0456789ABCD0456789" {
		t.Errorf("Unexpected input after overflow: %q", in)
	}
}

func TestPeriodicRefresh(t *testing.T) {
	r := newRig(t)
	r.panel.Setup()

	r.clk.Advance(DefaultRefreshInterval)
	r.panel.Step()
	if row := r.drv.Row(0); row != "Status Panel" {
		t.Errorf("Inactive panel should not refresh, got %q", row)
	}

	r.panel.HandleKey('1')
	r.clk.Advance(DefaultRefreshInterval)
	r.panel.Step()
	got := r.drv.Screen()
	if !strings.HasPrefix(got[0], "Time: ") {
		t.Errorf("Expected uptime line, got %q", got[0])
	}
	if got[1] != "Status: Running" {
		t.Errorf("Expected running status, got %q", got[1])
	}

	// Not due yet.
	r.panel.HandleKey('2')
	r.clk.Advance(DefaultRefreshInterval - 1)
	r.panel.Step()
	if row := r.drv.Row(0); row != "1:Active 2:Menu" {
		t.Errorf("Refresh came early, got %q", row)
	}
}

func TestUptimeSurvivesWrap(t *testing.T) {
	r := newRig(t)
	r.clk.Set(4294967000)
	r.panel = New(r.panel.Keypad(), r.panel.LCD(), r.panel.LED(), r.clk)
	r.clk.Advance(1500) // wraps
	if up := r.panel.Status().Uptime; up != 1500 {
		t.Errorf("Expected uptime 1500, got %d", up)
	}
}

func TestLEDUpdatedEveryStep(t *testing.T) {
	r := newRig(t)
	r.panel.Setup()
	r.panel.HandleKey('1')

	level, _ := r.bank.Level(25)
	if !level {
		t.Fatal("Expected LED lit on entering warning blink")
	}
	r.clk.Advance(led.DefaultInterval)
	r.panel.Step()
	if level, _ := r.bank.Level(25); level {
		t.Error("Expected LED toggled by Step")
	}
}

func TestSetupToleratesFailedManager(t *testing.T) {
	r := newRig(t)
	r.drv.Fail(nil)
	r.panel.Setup()

	st := r.panel.Status()
	if st.LCD.Initialized {
		t.Error("LCD should have failed to start")
	}
	if !st.Keypad.Healthy || !st.LED.Healthy {
		t.Error("Other managers should start regardless")
	}

	// The loop keeps running and the LED still follows key '1'.
	r.tap(t, '1')
	if r.panel.LED().Mode() != led.WarningBlink {
		t.Error("Expected LED to react without a display")
	}

	r.drv.Heal()
	if !r.panel.Recover(TargetLCD) {
		t.Fatalf("Recover(lcd) failed: %v", r.panel.LCD().Err())
	}
	if !r.panel.Status().LCD.Healthy {
		t.Error("Expected LCD healthy after recover")
	}
}

func TestRecoverLEDRestoresWarning(t *testing.T) {
	r := newRig(t)
	r.panel.Setup()
	r.panel.HandleKey('1')

	r.bank.Fail(25, nil)
	r.clk.Advance(led.DefaultInterval)
	r.panel.Step()
	if r.panel.Status().LED.Healthy {
		t.Fatal("Expected LED fault")
	}
	if !errors.Is(r.panel.Status().LED.Err, hal.ErrPinFault) {
		t.Errorf("Expected pin fault, got %v", r.panel.Status().LED.Err)
	}

	r.bank.Heal(25)
	if !r.panel.Recover(TargetLED) {
		t.Fatal("Recover(led) failed")
	}
	if r.panel.LED().Mode() != led.WarningBlink {
		t.Error("Recovered LED should resume the warning blink")
	}
}

func TestRecoverUnknownTarget(t *testing.T) {
	r := newRig(t)
	r.panel.Setup()
	if r.panel.Recover(Target(9)) {
		t.Error("Unknown target should be refused")
	}
	if !r.panel.Recover(TargetAll) {
		t.Error("Recover(all) should succeed on healthy hardware")
	}
}

func TestPressKey(t *testing.T) {
	r := newRig(t)
	r.panel.Setup()
	if r.panel.PressKey('Z') {
		t.Error("Key outside the keymap should be refused")
	}
	if !r.panel.PressKey('1') || !r.panel.Active() {
		t.Error("Injected '1' should toggle active")
	}
}

type countPoller struct {
	n      int
	stopAt int
	cancel context.CancelFunc
}

func (c *countPoller) Poll() error {
	c.n++
	if c.n == c.stopAt {
		c.cancel()
	}
	return nil
}

func TestRunStopsOnCancel(t *testing.T) {
	r := newRig(t)
	r.panel.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	cp := &countPoller{stopAt: 5, cancel: cancel}
	r.panel.AddPoller(cp)

	start := r.clk.Millis()
	err := r.panel.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if cp.n != 5 {
		t.Errorf("Expected 5 iterations, got %d", cp.n)
	}
	if waited := clock.Elapsed(start, r.clk.Millis()); waited != 5*DefaultIdleDelay {
		t.Errorf("Expected %d ms of idle delay, got %d", 5*DefaultIdleDelay, waited)
	}
}

func TestParseTarget(t *testing.T) {
	for _, tt := range []Target{TargetKeypad, TargetLCD, TargetLED, TargetAll} {
		got, ok := ParseTarget(tt.String())
		if !ok || got != tt {
			t.Errorf("ParseTarget(%q) = %v, %v", tt.String(), got, ok)
		}
	}
	if _, ok := ParseTarget("buzzer"); ok {
		t.Error("Expected unknown target to be rejected")
	}
}

func TestClose(t *testing.T) {
	r := newRig(t)
	r.panel.Setup()
	if err := r.panel.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if r.bank.Held(2) || r.bank.Held(25) || !r.drv.Closed() {
		t.Error("Close should release every peripheral")
	}
}
