// Package serial services the protocol over the USB CDC port from the
// panel loop. Nothing here blocks: each Poll drains what the port has
// buffered and answers complete frames.
package serial

import (
	"errors"
	"io"
	"log/slog"

	"github.com/tuffrabit/tinygo-status-panel/pkg/protocol"
)

// maxPerPoll bounds the bytes handled per loop pass so a flood of input
// cannot starve the keypad scan.
const maxPerPoll = 256

// Port is the subset of machine.Serialer the poller needs.
type Port interface {
	Buffered() int
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
}

type Serial struct {
	port    Port
	handler *protocol.Handler
	parser  protocol.Parser
	log     *slog.Logger
	heard   bool
}

// NewSerial wraps port. Frames are answered once SetHandler is called;
// until then they are dropped.
func NewSerial(port Port) *Serial {
	return &Serial{
		port: port,
		log:  slog.Default(),
	}
}

// SetHandler attaches the command handler and the logger for frame
// errors. The logger usually writes to LogWriter, which is why the two
// are not passed to NewSerial.
func (s *Serial) SetHandler(h *protocol.Handler, log *slog.Logger) {
	s.handler = h
	if log != nil {
		s.log = log
	}
}

// Poll implements panel.Poller.
func (s *Serial) Poll() error {
	for i := 0; i < maxPerPoll && s.port.Buffered() > 0; i++ {
		b, err := s.port.ReadByte()
		if err != nil {
			s.parser.Reset()
			return err
		}
		s.heard = true

		frame, err := s.parser.Feed(b)
		switch {
		case errors.Is(err, protocol.ErrCRCMismatch):
			s.log.Debug("dropped frame", "err", err)
			if err := s.write(&protocol.Response{Status: protocol.StatusCRCError}); err != nil {
				return err
			}
		case err != nil:
			s.log.Debug("dropped frame", "err", err)
			if err := s.write(&protocol.Response{Status: protocol.StatusInvalidData}); err != nil {
				return err
			}
		case frame != nil && s.handler != nil:
			if err := s.write(s.handler.Handle(frame)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Serial) write(resp *protocol.Response) error {
	return protocol.WriteResponse(s.port, resp)
}

// LogWriter returns a writer for diagnostic text on the same port. Output
// is dropped until the host has sent something, so nothing queues up
// while no one is listening.
func (s *Serial) LogWriter() io.Writer {
	return logWriter{s}
}

type logWriter struct{ s *Serial }

func (w logWriter) Write(p []byte) (int, error) {
	if !w.s.heard {
		return len(p), nil
	}
	// Write errors are dropped with the line.
	w.s.port.Write(p)
	return len(p), nil
}
