package lcd

import (
	"errors"
	"strings"
	"sync"
)

var errNotConfigured = errors.New("lcd not configured")

// MemDriver is an in-memory character display. It keeps a cell grid like
// the controller's DDRAM and can be made to fail on demand.
type MemDriver struct {
	mu       sync.Mutex
	cols     uint8
	rows     uint8
	cells    [][]byte
	col, row uint8
	fail     error
	clears   int
	closed   bool
}

func NewMemDriver() *MemDriver {
	return &MemDriver{}
}

// Opener returns an Opener that always hands out d.
func (d *MemDriver) Opener() Opener {
	return func(Config) (Driver, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.fail != nil {
			return nil, d.fail
		}
		d.closed = false
		return d, nil
	}
}

// Fail makes every subsequent call return err until Heal.
func (d *MemDriver) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		err = ErrNoDevice
	}
	d.fail = err
}

func (d *MemDriver) Heal() {
	d.mu.Lock()
	d.fail = nil
	d.mu.Unlock()
}

func (d *MemDriver) Configure(cols, rows uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.cols, d.rows = cols, rows
	d.cells = make([][]byte, rows)
	d.clearLocked()
	return nil
}

func (d *MemDriver) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return err
	}
	d.clearLocked()
	d.clears++
	return nil
}

func (d *MemDriver) clearLocked() {
	for r := range d.cells {
		d.cells[r] = []byte(strings.Repeat(" ", int(d.cols)))
	}
	d.col, d.row = 0, 0
}

func (d *MemDriver) SetCursor(col, row uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return err
	}
	if col >= d.cols || row >= d.rows {
		return errors.New("cursor out of range")
	}
	d.col, d.row = col, row
	return nil
}

// Print writes at the cursor. Characters past the end of the row are lost.
func (d *MemDriver) Print(b []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return err
	}
	for _, c := range b {
		if d.col >= d.cols {
			break
		}
		d.cells[d.row][d.col] = c
		d.col++
	}
	return nil
}

func (d *MemDriver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *MemDriver) checkLocked() error {
	if d.fail != nil {
		return d.fail
	}
	if d.cells == nil {
		return errNotConfigured
	}
	return nil
}

// Row returns row r with trailing blanks removed.
func (d *MemDriver) Row(r int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r < 0 || r >= len(d.cells) {
		return ""
	}
	return strings.TrimRight(string(d.cells[r]), " ")
}

// Screen returns every row as Row does.
func (d *MemDriver) Screen() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.cells))
	for r, cells := range d.cells {
		out[r] = strings.TrimRight(string(cells), " ")
	}
	return out
}

// Clears counts successful Clear calls.
func (d *MemDriver) Clears() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clears
}

func (d *MemDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
