package protocol

import (
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/tuffrabit/tinygo-status-panel/pkg/clock"
	"github.com/tuffrabit/tinygo-status-panel/pkg/config"
	"github.com/tuffrabit/tinygo-status-panel/pkg/led"
	"github.com/tuffrabit/tinygo-status-panel/pkg/panel"
	"github.com/tuffrabit/tinygo-status-panel/pkg/storage"
)

// Firmware version reported by GetVersion.
const (
	FirmwareMajor = 1
	FirmwareMinor = 0
)

// Panel is the part of the dispatcher the handler drives.
type Panel interface {
	Status() panel.Status
	Recover(target panel.Target) bool
	SetLEDMode(mode led.Mode) bool
	StartLimitedBlink(count int, interval clock.Millis) bool
	PressKey(key byte) bool
}

// Handler processes protocol commands.
type Handler struct {
	panel   Panel
	storage *storage.Manager
	log     *slog.Logger
}

// NewHandler creates a new protocol handler. sm may be nil, in which case
// the config and storage commands answer StatusError.
func NewHandler(p Panel, sm *storage.Manager, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		panel:   p,
		storage: sm,
		log:     log,
	}
}

// Handle processes a command frame and returns a response.
func (h *Handler) Handle(frame *Frame) *Response {
	switch frame.Cmd {
	case CmdPing:
		return h.handlePing(frame.Payload)
	case CmdDiscover:
		return &Response{Status: StatusOK, Payload: []byte(DiscoverReply)}
	case CmdGetVersion:
		return h.handleGetVersion()
	case CmdGetStatus:
		return h.handleGetStatus()
	case CmdRecover:
		return h.handleRecover(frame.Payload)
	case CmdSetLED:
		return h.handleSetLED(frame.Payload)
	case CmdPressKey:
		return h.handlePressKey(frame.Payload)
	}

	if h.storage == nil {
		switch frame.Cmd {
		case CmdGetConfig, CmdSetConfig, CmdGetStorageStats, CmdFactoryReset:
			return &Response{Status: StatusError}
		}
		return &Response{Status: StatusInvalidCmd}
	}

	switch frame.Cmd {
	case CmdGetConfig:
		return h.handleGetConfig()
	case CmdSetConfig:
		return h.handleSetConfig(frame.Payload)
	case CmdGetStorageStats:
		return h.handleGetStorageStats()
	case CmdFactoryReset:
		return h.handleFactoryReset()
	default:
		return &Response{Status: StatusInvalidCmd}
	}
}

// handlePing responds with the same payload (echo).
func (h *Handler) handlePing(payload []byte) *Response {
	return &Response{
		Status:  StatusOK,
		Payload: payload,
	}
}

// handleGetStatus reports the panel state.
// Response: PanelState
func (h *Handler) handleGetStatus() *Response {
	st := StateOf(h.panel.Status())
	data, err := st.MarshalBinary()
	if err != nil {
		return &Response{Status: StatusError}
	}
	return &Response{Status: StatusOK, Payload: data}
}

// handleRecover re-initialises one manager.
// Payload: [Target:1]
func (h *Handler) handleRecover(payload []byte) *Response {
	if len(payload) != 1 {
		return &Response{Status: StatusInvalidData}
	}
	target := panel.Target(payload[0])
	if !target.Valid() {
		return &Response{Status: StatusInvalidData}
	}
	if !h.panel.Recover(target) {
		return &Response{Status: StatusError}
	}
	return &Response{Status: StatusOK}
}

// handleSetLED changes the LED mode.
// Payload: [Mode:1] or [Mode:1][Count:2][IntervalMs:2] for a limited blink.
func (h *Handler) handleSetLED(payload []byte) *Response {
	var ok bool
	switch len(payload) {
	case 1:
		ok = h.panel.SetLEDMode(led.Mode(payload[0]))
	case 5:
		if led.Mode(payload[0]) != led.LimitedBlink {
			return &Response{Status: StatusInvalidData}
		}
		count := int(binary.LittleEndian.Uint16(payload[1:]))
		interval := clock.Millis(binary.LittleEndian.Uint16(payload[3:]))
		ok = h.panel.StartLimitedBlink(count, interval)
	default:
		return &Response{Status: StatusInvalidData}
	}
	if !ok {
		return &Response{Status: StatusInvalidData}
	}
	return &Response{Status: StatusOK}
}

// handlePressKey injects a key as if it had been pressed.
// Payload: [Key:1]
func (h *Handler) handlePressKey(payload []byte) *Response {
	if len(payload) != 1 {
		return &Response{Status: StatusInvalidData}
	}
	if !h.panel.PressKey(payload[0]) {
		return &Response{Status: StatusInvalidData}
	}
	return &Response{Status: StatusOK}
}

// handleGetConfig returns the stored panel configuration.
func (h *Handler) handleGetConfig() *Response {
	var cfg config.PanelConfig
	if err := h.storage.LoadPanel(&cfg); err != nil {
		switch {
		case errors.Is(err, storage.ErrConfigNotFound):
			return &Response{Status: StatusNotFound}
		case errors.Is(err, storage.ErrVersionMismatch):
			return &Response{Status: StatusVersionMismatch}
		}
		h.log.Warn("load config failed", "err", err)
		return &Response{Status: StatusError}
	}

	data, err := cfg.MarshalBinary()
	if err != nil {
		return &Response{Status: StatusError}
	}

	return &Response{
		Status:  StatusOK,
		Payload: data,
	}
}

// handleSetConfig validates and stores a panel configuration. It takes
// effect on the next boot.
// Payload: [PanelConfig:104 bytes]
func (h *Handler) handleSetConfig(payload []byte) *Response {
	if len(payload) != config.Size {
		return &Response{Status: StatusInvalidData}
	}

	var cfg config.PanelConfig
	if err := cfg.UnmarshalBinary(payload); err != nil {
		return &Response{Status: StatusInvalidData}
	}

	// Check version
	if cfg.Version != config.CurrentVersion {
		return &Response{Status: StatusVersionMismatch}
	}

	if err := h.storage.SavePanel(&cfg); err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidConfig):
			h.log.Info("rejected config", "err", err)
			return &Response{Status: StatusInvalidData}
		case errors.Is(err, storage.ErrFlashFull):
			return &Response{Status: StatusNoSpace}
		}
		h.log.Warn("save config failed", "err", err)
		return &Response{Status: StatusError}
	}

	return &Response{Status: StatusOK}
}

// handleGetStorageStats returns storage statistics.
// Response: [Total:4][Used:4][Free:4][HasConfig:1]
func (h *Handler) handleGetStorageStats() *Response {
	stats, err := h.storage.GetStats()
	if err != nil {
		return &Response{Status: StatusError}
	}

	payload := make([]byte, 13)
	binary.LittleEndian.PutUint32(payload[0:], uint32(stats.TotalSpace))
	binary.LittleEndian.PutUint32(payload[4:], uint32(stats.UsedSpace))
	binary.LittleEndian.PutUint32(payload[8:], uint32(stats.FreeSpace))
	if stats.HasConfig {
		payload[12] = 1
	}

	return &Response{
		Status:  StatusOK,
		Payload: payload,
	}
}

// handleFactoryReset wipes the stored configuration.
func (h *Handler) handleFactoryReset() *Response {
	if err := h.storage.ForceWipe(); err != nil {
		return &Response{Status: StatusError}
	}
	return &Response{Status: StatusOK}
}

// handleGetVersion returns firmware and config version info.
// Response: [FirmwareVersionMajor:1][FirmwareVersionMinor:1][ConfigVersion:2]
func (h *Handler) handleGetVersion() *Response {
	payload := make([]byte, 4)
	payload[0] = FirmwareMajor
	payload[1] = FirmwareMinor
	binary.LittleEndian.PutUint16(payload[2:], config.CurrentVersion)

	return &Response{
		Status:  StatusOK,
		Payload: payload,
	}
}
