package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tuffrabit/tinygo-status-panel/pkg/clock"
	"github.com/tuffrabit/tinygo-status-panel/pkg/config"
	"github.com/tuffrabit/tinygo-status-panel/pkg/led"
	"github.com/tuffrabit/tinygo-status-panel/pkg/panel"
)

// Client is the host side of the protocol. It is not safe for concurrent
// use; one request is in flight at a time.
type Client struct {
	rw io.ReadWriter
}

func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw}
}

// Do sends one command and waits for its response. A non-OK status is
// returned as a StatusCode error along with the response.
func (c *Client) Do(cmd uint8, payload []byte) (*Response, error) {
	if err := WriteFrame(c.rw, &Frame{Cmd: cmd, Payload: payload}); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	resp, err := ReadResponse(c.rw)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if resp.Status != StatusOK {
		return resp, StatusCode(resp.Status)
	}
	return resp, nil
}

func (c *Client) Ping(data []byte) error {
	resp, err := c.Do(CmdPing, data)
	if err != nil {
		return err
	}
	if string(resp.Payload) != string(data) {
		return fmt.Errorf("%w: ping echo mismatch", ErrInvalidFrame)
	}
	return nil
}

// Discover reports whether the device on the other end is a status panel.
func (c *Client) Discover() (bool, error) {
	resp, err := c.Do(CmdDiscover, nil)
	if err != nil {
		return false, err
	}
	return string(resp.Payload) == DiscoverReply, nil
}

// Version is the GetVersion reply.
type Version struct {
	Major, Minor  uint8
	ConfigVersion uint16
}

func (v Version) String() string {
	return fmt.Sprintf("firmware %d.%d, config v%d", v.Major, v.Minor, v.ConfigVersion)
}

func (c *Client) Version() (Version, error) {
	resp, err := c.Do(CmdGetVersion, nil)
	if err != nil {
		return Version{}, err
	}
	if len(resp.Payload) != 4 {
		return Version{}, ErrInvalidFrame
	}
	return Version{
		Major:         resp.Payload[0],
		Minor:         resp.Payload[1],
		ConfigVersion: binary.LittleEndian.Uint16(resp.Payload[2:]),
	}, nil
}

func (c *Client) Status() (PanelState, error) {
	var st PanelState
	resp, err := c.Do(CmdGetStatus, nil)
	if err != nil {
		return st, err
	}
	err = st.UnmarshalBinary(resp.Payload)
	return st, err
}

func (c *Client) Recover(target panel.Target) error {
	_, err := c.Do(CmdRecover, []byte{uint8(target)})
	return err
}

func (c *Client) SetLED(mode led.Mode) error {
	_, err := c.Do(CmdSetLED, []byte{uint8(mode)})
	return err
}

// LimitedBlink starts a blink of count toggles at the given interval.
func (c *Client) LimitedBlink(count int, interval clock.Millis) error {
	payload := make([]byte, 5)
	payload[0] = uint8(led.LimitedBlink)
	binary.LittleEndian.PutUint16(payload[1:], uint16(count))
	binary.LittleEndian.PutUint16(payload[3:], uint16(interval))
	_, err := c.Do(CmdSetLED, payload)
	return err
}

func (c *Client) PressKey(key byte) error {
	_, err := c.Do(CmdPressKey, []byte{key})
	return err
}

func (c *Client) GetConfig() (config.PanelConfig, error) {
	var cfg config.PanelConfig
	resp, err := c.Do(CmdGetConfig, nil)
	if err != nil {
		return cfg, err
	}
	err = cfg.UnmarshalBinary(resp.Payload)
	return cfg, err
}

func (c *Client) SetConfig(cfg config.PanelConfig) error {
	data, err := cfg.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.Do(CmdSetConfig, data)
	return err
}

// StorageStats is the GetStorageStats reply.
type StorageStats struct {
	Total, Used, Free uint32
	HasConfig         bool
}

func (c *Client) StorageStats() (StorageStats, error) {
	resp, err := c.Do(CmdGetStorageStats, nil)
	if err != nil {
		return StorageStats{}, err
	}
	if len(resp.Payload) != 13 {
		return StorageStats{}, ErrInvalidFrame
	}
	p := resp.Payload
	return StorageStats{
		Total:     binary.LittleEndian.Uint32(p[0:]),
		Used:      binary.LittleEndian.Uint32(p[4:]),
		Free:      binary.LittleEndian.Uint32(p[8:]),
		HasConfig: p[12] != 0,
	}, nil
}

func (c *Client) FactoryReset() error {
	_, err := c.Do(CmdFactoryReset, nil)
	return err
}
