package keypad

import (
	"errors"
	"fmt"

	"github.com/tuffrabit/tinygo-status-panel/pkg/hal"
)

// matrix scans a row/column key matrix. Rows are outputs idling high,
// columns are pulled-up inputs; a pressed key pulls its column low while
// its row is driven low.
type matrix struct {
	rows []hal.Pin
	cols []hal.Pin
}

// openMatrix acquires and configures every row and column pin. On failure
// all pins acquired so far are released.
func openMatrix(bank hal.Bank, rowPins, colPins []uint8) (*matrix, error) {
	m := &matrix{}
	for _, n := range rowPins {
		p, err := bank.Pin(n)
		if err != nil {
			m.close()
			return nil, fmt.Errorf("row pin %d: %w", n, err)
		}
		m.rows = append(m.rows, p)
		if err := p.ConfigureOutput(true); err != nil {
			m.close()
			return nil, fmt.Errorf("row pin %d: %w", n, err)
		}
	}
	for _, n := range colPins {
		p, err := bank.Pin(n)
		if err != nil {
			m.close()
			return nil, fmt.Errorf("column pin %d: %w", n, err)
		}
		m.cols = append(m.cols, p)
		if err := p.ConfigureInput(hal.PullUp); err != nil {
			m.close()
			return nil, fmt.Errorf("column pin %d: %w", n, err)
		}
	}
	return m, nil
}

// scan returns the first pressed key position, or -1, -1 when no key is
// down. Every row is returned to high before scan returns.
func (m *matrix) scan() (int, int, error) {
	for r, row := range m.rows {
		if err := row.Set(false); err != nil {
			return -1, -1, err
		}
		for c, col := range m.cols {
			level, err := col.Get()
			if err != nil {
				return -1, -1, errors.Join(err, row.Set(true))
			}
			if !level {
				if err := row.Set(true); err != nil {
					return -1, -1, err
				}
				return r, c, nil
			}
		}
		if err := row.Set(true); err != nil {
			return -1, -1, err
		}
	}
	return -1, -1, nil
}

func (m *matrix) close() error {
	var errs []error
	for _, p := range append(m.rows, m.cols...) {
		if c, ok := p.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	m.rows, m.cols = nil, nil
	return errors.Join(errs...)
}
