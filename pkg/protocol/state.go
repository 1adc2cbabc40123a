package protocol

import (
	"encoding/binary"
	"errors"

	"github.com/tuffrabit/tinygo-status-panel/pkg/led"
	"github.com/tuffrabit/tinygo-status-panel/pkg/panel"
)

// Flag bits of PanelState.
const (
	FlagActive uint8 = 1 << iota
	FlagKeypadHealthy
	FlagLCDHealthy
	FlagLEDHealthy
	FlagKeypadInit
	FlagLCDInit
	FlagLEDInit
)

const stateHeaderSize = 7

var ErrShortState = errors.New("short status payload")

// PanelState is the GetStatus payload.
// Layout:
//
//	[0]:    Flags (uint8, Flag* bits)
//	[1]:    LEDMode (uint8)
//	[2]:    InputLen (uint8)
//	[3-6]:  UptimeSeconds (uint32)
//	[7-]:   Input (InputLen bytes)
type PanelState struct {
	Flags         uint8
	LEDMode       led.Mode
	UptimeSeconds uint32
	Input         string
}

// StateOf captures the parts of a panel status that go over the wire.
func StateOf(st panel.Status) PanelState {
	var f uint8
	set := func(bit uint8, on bool) {
		if on {
			f |= bit
		}
	}
	set(FlagActive, st.Active)
	set(FlagKeypadHealthy, st.Keypad.Healthy)
	set(FlagLCDHealthy, st.LCD.Healthy)
	set(FlagLEDHealthy, st.LED.Healthy)
	set(FlagKeypadInit, st.Keypad.Initialized)
	set(FlagLCDInit, st.LCD.Initialized)
	set(FlagLEDInit, st.LED.Initialized)

	up := st.Uptime / 1000
	if up > 0xFFFFFFFF {
		up = 0xFFFFFFFF
	}
	in := st.Input
	if len(in) > 0xFF {
		in = in[len(in)-0xFF:]
	}
	return PanelState{
		Flags:         f,
		LEDMode:       st.LEDMode,
		UptimeSeconds: uint32(up),
		Input:         in,
	}
}

func (s PanelState) Has(flag uint8) bool { return s.Flags&flag != 0 }

// MarshalBinary implements encoding.BinaryMarshaler for PanelState.
func (s *PanelState) MarshalBinary() ([]byte, error) {
	buf := make([]byte, stateHeaderSize, stateHeaderSize+len(s.Input))
	buf[0] = s.Flags
	buf[1] = uint8(s.LEDMode)
	buf[2] = uint8(len(s.Input))
	binary.LittleEndian.PutUint32(buf[3:], s.UptimeSeconds)
	return append(buf, s.Input...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for PanelState.
func (s *PanelState) UnmarshalBinary(data []byte) error {
	if len(data) < stateHeaderSize {
		return ErrShortState
	}
	n := int(data[2])
	if len(data) < stateHeaderSize+n {
		return ErrShortState
	}
	s.Flags = data[0]
	s.LEDMode = led.Mode(data[1])
	s.UptimeSeconds = binary.LittleEndian.Uint32(data[3:])
	s.Input = string(data[stateHeaderSize : stateHeaderSize+n])
	return nil
}
