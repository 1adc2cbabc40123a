// Package clock provides the wrapping millisecond counter shared by the
// panel managers. All interval math goes through Elapsed so that a counter
// rollover (every ~49.7 days) never produces a spurious huge duration.
package clock

import (
	"sync"
	"time"
)

// Millis is a monotonic millisecond timestamp that wraps at 2^32.
type Millis uint32

// Clock supplies the current time and a bounded idle delay.
type Clock interface {
	Millis() Millis
	Sleep(d Millis)
}

// Elapsed returns the time from start to now as a modular difference.
// It stays correct when the counter has wrapped since start.
func Elapsed(start, now Millis) Millis {
	return now - start
}

// HasElapsed reports whether at least interval has passed since start.
// A zero interval has always elapsed.
func HasElapsed(start, now, interval Millis) bool {
	if interval == 0 {
		return true
	}
	return Elapsed(start, now) >= interval
}

// System is a Clock backed by the runtime's monotonic time.
type System struct {
	start time.Time
}

// NewSystem returns a System clock whose counter starts at zero.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// Millis returns milliseconds since the clock was created, truncated to
// the counter width.
func (s *System) Millis() Millis {
	return Millis(uint64(time.Since(s.start).Milliseconds()))
}

// Sleep blocks the calling goroutine for d milliseconds.
func (s *System) Sleep(d Millis) {
	time.Sleep(time.Duration(d) * time.Millisecond)
}

// Uptime returns the untruncated time since the clock was created.
func (s *System) Uptime() time.Duration {
	return time.Since(s.start)
}

// Manual is a Clock that only moves when told to. Sleep advances it, so
// polling loops terminate deterministically.
type Manual struct {
	mu  sync.Mutex
	now Millis
}

// NewManual returns a Manual clock set to start.
func NewManual(start Millis) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Millis() Millis {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Sleep(d Millis) {
	m.Advance(d)
}

// Set moves the clock to an absolute value.
func (m *Manual) Set(t Millis) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d, wrapping like the hardware counter.
func (m *Manual) Advance(d Millis) {
	m.mu.Lock()
	m.now += d
	m.mu.Unlock()
}
