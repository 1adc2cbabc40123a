//go:build tinygo

package main

import (
	"context"
	"log/slog"
	"machine"

	"github.com/tuffrabit/tinygo-status-panel/pkg/clock"
	"github.com/tuffrabit/tinygo-status-panel/pkg/config"
	"github.com/tuffrabit/tinygo-status-panel/pkg/hal"
	"github.com/tuffrabit/tinygo-status-panel/pkg/keypad"
	"github.com/tuffrabit/tinygo-status-panel/pkg/lcd"
	"github.com/tuffrabit/tinygo-status-panel/pkg/led"
	"github.com/tuffrabit/tinygo-status-panel/pkg/panel"
	"github.com/tuffrabit/tinygo-status-panel/pkg/protocol"
	"github.com/tuffrabit/tinygo-status-panel/pkg/storage"
	"github.com/tuffrabit/tinygo-status-panel/serial"
)

// RP2040 exposes GP0-GP29.
const maxPin = 29

// MAIN THREAD DUTIES
// Everything runs on this goroutine: the panel loop scans the keypad,
// refreshes the LCD, steps the LED and then polls the serial port.

func main() {
	port := serial.NewSerial(machine.Serial) // USB CDC Serial
	log := slog.New(slog.NewTextHandler(port.LogWriter(), &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	store, err := storage.New(machine.Flash, true, storage.WithLogger(log), storage.WithMaxPin(maxPin))
	if err != nil {
		log.Error("storage unavailable, using defaults", "err", err)
	}
	cfg := config.Default()
	if store != nil {
		cfg = store.LoadOrDefault()
	}

	clk := clock.NewSystem()
	bank := hal.NewMachineBank(maxPin)

	kp := keypad.New(cfg.Keypad(), bank, clk, keypad.WithLogger(log))
	display := lcd.New(cfg.LCD(), openLCD(cfg), clk, lcd.WithLogger(log), lcd.WithMaxPin(maxPin))
	light := led.New(cfg.LED(), bank, clk, led.WithLogger(log))

	p := panel.New(kp, display, light, clk,
		panel.WithLogger(log),
		panel.WithRefreshInterval(cfg.RefreshInterval()),
		panel.WithIdleDelay(cfg.IdleDelay()),
	)

	port.SetHandler(protocol.NewHandler(p, store, log), log)
	p.AddPoller(port)

	p.Setup()
	p.Run(context.Background())
}

func openLCD(cfg config.PanelConfig) lcd.Opener {
	if cfg.LCDWiring == lcd.WiringI2C {
		machine.I2C0.Configure(machine.I2CConfig{
			Frequency: 100 * machine.KHz,
		})
		return lcd.OpenI2C(machine.I2C0)
	}
	return lcd.OpenParallel()
}
