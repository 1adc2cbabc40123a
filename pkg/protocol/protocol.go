// Package protocol implements the binary serial protocol spoken between the
// panel firmware and the host tool.
// The protocol is designed to be simple, efficient, and suitable for TinyGo.
//
// Frame format:
//
//	[SYNC:1][CMD:1][LEN:2][PAYLOAD:LEN][CRC:2]
//	- SYNC: 0xAA (frame start marker)
//	- CMD: Command byte
//	- LEN: Payload length (uint16, little-endian)
//	- PAYLOAD: Variable length data
//	- CRC: CRC16-CCITT of [CMD][LEN][PAYLOAD]
//
// Response format is identical, with the status code in the CMD slot.
// Log text shares the channel, so bytes before a sync byte are skipped.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	SyncByte = 0xAA

	// MaxPayload bounds the receive buffer. A PanelConfig is the largest
	// payload either side sends.
	MaxPayload = 256

	// Command codes (PC → Device)
	CmdGetConfig       = 0x01
	CmdSetConfig       = 0x02
	CmdGetStatus       = 0x03
	CmdRecover         = 0x04
	CmdSetLED          = 0x05
	CmdPressKey        = 0x06
	CmdGetStorageStats = 0x07
	CmdPing            = 0x08
	CmdFactoryReset    = 0x09
	CmdGetVersion      = 0x10
	CmdDiscover        = 0x11

	// Response status codes (Device → PC)
	StatusOK              = 0x00
	StatusError           = 0x01
	StatusInvalidCmd      = 0x02
	StatusInvalidData     = 0x03
	StatusNotFound        = 0x04
	StatusNoSpace         = 0x05
	StatusVersionMismatch = 0x06
	StatusCRCError        = 0x07
)

// DiscoverReply identifies a status panel on a shared bus of serial ports.
const DiscoverReply = "statuspanel"

var (
	ErrInvalidFrame = errors.New("invalid frame")
	ErrCRCMismatch  = errors.New("CRC mismatch")
	ErrTimeout      = errors.New("timeout")
)

// StatusCode is a non-OK response status returned as an error by Client.
type StatusCode uint8

func (s StatusCode) Error() string {
	switch s {
	case StatusError:
		return "device error"
	case StatusInvalidCmd:
		return "invalid command"
	case StatusInvalidData:
		return "invalid data"
	case StatusNotFound:
		return "not found"
	case StatusNoSpace:
		return "no space"
	case StatusVersionMismatch:
		return "version mismatch"
	case StatusCRCError:
		return "CRC error"
	default:
		return fmt.Sprintf("status 0x%02x", uint8(s))
	}
}

// Frame represents a protocol frame.
type Frame struct {
	Cmd     uint8
	Payload []byte
}

// Response represents a protocol response.
type Response struct {
	Status  uint8
	Payload []byte
}

type parseState uint8

const (
	stateSync parseState = iota
	stateHeader
	statePayload
	stateCRC
)

// Parser assembles frames one byte at a time. It never blocks, so the
// firmware can feed it whatever the UART has buffered on each loop pass.
type Parser struct {
	state   parseState
	header  [3]byte
	n       int
	length  int
	payload []byte
	crc     [2]byte
}

// Reset drops any partially received frame.
func (p *Parser) Reset() {
	p.state = stateSync
	p.n = 0
	p.length = 0
	p.payload = nil
}

// Feed consumes one byte. It returns a frame once the CRC byte of a valid
// frame arrives, ErrInvalidFrame or ErrCRCMismatch for a bad frame, and
// nil, nil otherwise. After an error the parser is hunting for the next
// sync byte again.
func (p *Parser) Feed(b byte) (*Frame, error) {
	switch p.state {
	case stateSync:
		if b == SyncByte {
			p.state = stateHeader
			p.n = 0
		}
	case stateHeader:
		p.header[p.n] = b
		p.n++
		if p.n < len(p.header) {
			return nil, nil
		}
		p.length = int(binary.LittleEndian.Uint16(p.header[1:]))
		if p.length > MaxPayload {
			p.Reset()
			return nil, ErrInvalidFrame
		}
		p.n = 0
		p.payload = make([]byte, 0, p.length)
		if p.length == 0 {
			p.state = stateCRC
		} else {
			p.state = statePayload
		}
	case statePayload:
		p.payload = append(p.payload, b)
		if len(p.payload) == p.length {
			p.state = stateCRC
		}
	case stateCRC:
		p.crc[p.n] = b
		p.n++
		if p.n < len(p.crc) {
			return nil, nil
		}
		received := binary.LittleEndian.Uint16(p.crc[:])
		frame := &Frame{Cmd: p.header[0]}
		if p.length > 0 {
			frame.Payload = p.payload
		}
		calculated := calcCRC(p.header[:], frame.Payload)
		p.Reset()
		if received != calculated {
			return nil, ErrCRCMismatch
		}
		return frame, nil
	}
	return nil, nil
}

// ReadFrame reads and validates a frame from the reader, skipping any
// bytes before the sync byte.
func ReadFrame(r io.Reader) (*Frame, error) {
	var p Parser
	var b [1]byte
	for {
		n, err := r.Read(b[:])
		if n == 0 {
			if err == nil {
				// Serial ports report a read timeout as 0, nil.
				return nil, ErrTimeout
			}
			return nil, err
		}
		frame, err := p.Feed(b[0])
		if err != nil || frame != nil {
			return frame, err
		}
	}
}

// ReadResponse reads a response frame from the reader.
func ReadResponse(r io.Reader) (*Response, error) {
	frame, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return &Response{Status: frame.Cmd, Payload: frame.Payload}, nil
}

// WriteResponse writes a response frame to the writer.
func WriteResponse(w io.Writer, resp *Response) error {
	_, err := w.Write(encode(resp.Status, resp.Payload))
	return err
}

// WriteFrame writes a request frame (PC side and tests).
func WriteFrame(w io.Writer, frame *Frame) error {
	_, err := w.Write(encode(frame.Cmd, frame.Payload))
	return err
}

func encode(kind uint8, payload []byte) []byte {
	payloadLen := uint16(len(payload))
	frameLen := 1 + 1 + 2 + int(payloadLen) + 2 // sync + kind + len + payload + crc

	buf := make([]byte, 0, frameLen)
	buf = append(buf, SyncByte, kind)
	buf = binary.LittleEndian.AppendUint16(buf, payloadLen)
	buf = append(buf, payload...)

	// CRC of kind + len + payload
	crc := calcCRC(buf[1:])
	return binary.LittleEndian.AppendUint16(buf, crc)
}

// calcCRC calculates CRC16-CCITT over the concatenated chunks.
// Polynomial: 0x1021, Initial: 0xFFFF
func calcCRC(chunks ...[]byte) uint16 {
	var crc uint16 = 0xFFFF

	for _, data := range chunks {
		for _, b := range data {
			crc ^= uint16(b) << 8
			for i := 0; i < 8; i++ {
				if crc&0x8000 != 0 {
					crc = (crc << 1) ^ 0x1021
				} else {
					crc <<= 1
				}
			}
		}
	}

	return crc
}
