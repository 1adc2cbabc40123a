package serial

import (
	"bytes"
	"errors"
	"testing"

	"github.com/tuffrabit/tinygo-status-panel/pkg/clock"
	"github.com/tuffrabit/tinygo-status-panel/pkg/config"
	"github.com/tuffrabit/tinygo-status-panel/pkg/hal"
	"github.com/tuffrabit/tinygo-status-panel/pkg/keypad"
	"github.com/tuffrabit/tinygo-status-panel/pkg/lcd"
	"github.com/tuffrabit/tinygo-status-panel/pkg/led"
	"github.com/tuffrabit/tinygo-status-panel/pkg/panel"
	"github.com/tuffrabit/tinygo-status-panel/pkg/protocol"
)

type fakePort struct {
	in      bytes.Buffer
	out     bytes.Buffer
	readErr error
}

func (p *fakePort) Buffered() int { return p.in.Len() }

func (p *fakePort) ReadByte() (byte, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	return p.in.ReadByte()
}

func (p *fakePort) Write(b []byte) (int, error) { return p.out.Write(b) }

func newTestSerial(t *testing.T) (*Serial, *fakePort, *panel.Panel) {
	t.Helper()
	bank := hal.NewMemBank(hal.DefaultMaxPin)
	clk := clock.NewManual(0)
	cfg := config.Default()
	p := panel.New(
		keypad.New(cfg.Keypad(), bank, clk),
		lcd.New(cfg.LCD(), lcd.NewMemDriver().Opener(), clk),
		led.New(cfg.LED(), bank, clk),
		clk,
	)
	p.Setup()
	port := &fakePort{}
	s := NewSerial(port)
	s.SetHandler(protocol.NewHandler(p, nil, nil), nil)
	return s, port, p
}

func TestPollAnswersFrame(t *testing.T) {
	s, port, _ := newTestSerial(t)
	protocol.WriteFrame(&port.in, &protocol.Frame{Cmd: protocol.CmdDiscover})

	if err := s.Poll(); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	resp, err := protocol.ReadResponse(&port.out)
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if resp.Status != protocol.StatusOK || string(resp.Payload) != protocol.DiscoverReply {
		t.Errorf("Unexpected response %+v", resp)
	}
}

func TestPollAcrossCalls(t *testing.T) {
	s, port, p := newTestSerial(t)
	var frame bytes.Buffer
	protocol.WriteFrame(&frame, &protocol.Frame{Cmd: protocol.CmdPressKey, Payload: []byte{'1'}})
	raw := frame.Bytes()

	// Half a frame per loop pass.
	port.in.Write(raw[:3])
	s.Poll()
	if port.out.Len() != 0 {
		t.Fatal("No response expected for a partial frame")
	}
	port.in.Write(raw[3:])
	s.Poll()

	resp, err := protocol.ReadResponse(&port.out)
	if err != nil || resp.Status != protocol.StatusOK {
		t.Fatalf("Expected OK, got %+v, %v", resp, err)
	}
	if !p.Active() {
		t.Error("Injected '1' should toggle active")
	}
}

func TestPollReportsCRCError(t *testing.T) {
	s, port, _ := newTestSerial(t)
	var frame bytes.Buffer
	protocol.WriteFrame(&frame, &protocol.Frame{Cmd: protocol.CmdPing, Payload: []byte{7}})
	raw := frame.Bytes()
	raw[4] ^= 0x01
	port.in.Write(raw)

	s.Poll()
	resp, err := protocol.ReadResponse(&port.out)
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if resp.Status != protocol.StatusCRCError {
		t.Errorf("Expected StatusCRCError, got 0x%x", resp.Status)
	}
}

func TestPollReadError(t *testing.T) {
	s, port, _ := newTestSerial(t)
	port.in.WriteByte(protocol.SyncByte)
	boom := errors.New("usb gone")
	port.readErr = boom
	if err := s.Poll(); !errors.Is(err, boom) {
		t.Errorf("Expected read error, got %v", err)
	}
}

func TestPollWithoutHandler(t *testing.T) {
	port := &fakePort{}
	s := NewSerial(port)
	protocol.WriteFrame(&port.in, &protocol.Frame{Cmd: protocol.CmdPing})
	if err := s.Poll(); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if port.out.Len() != 0 || port.in.Len() != 0 {
		t.Error("Frames should be consumed and dropped without a handler")
	}
}

func TestLogWriterWaitsForHost(t *testing.T) {
	s, port, _ := newTestSerial(t)
	w := s.LogWriter()

	w.Write([]byte("boot\n"))
	if port.out.Len() != 0 {
		t.Error("Log output should be dropped before the host speaks")
	}

	protocol.WriteFrame(&port.in, &protocol.Frame{Cmd: protocol.CmdPing})
	s.Poll()
	port.out.Reset()

	w.Write([]byte("hello\n"))
	if port.out.String() != "hello\n" {
		t.Errorf("Expected log line forwarded, got %q", port.out.String())
	}
}
