package clock

import (
	"math"
	"testing"
)

func TestElapsedNoWrap(t *testing.T) {
	if got := Elapsed(1000, 1500); got != 500 {
		t.Errorf("Expected 500, got %d", got)
	}
	if got := Elapsed(42, 42); got != 0 {
		t.Errorf("Expected 0, got %d", got)
	}
}

func TestElapsedAcrossWraparound(t *testing.T) {
	start := Millis(math.MaxUint32 - 9) // 10ms before rollover
	now := Millis(20)                   // 20ms after rollover

	got := Elapsed(start, now)
	if got != 30 {
		t.Errorf("Expected 30ms across wraparound, got %d", got)
	}
}

func TestHasElapsed(t *testing.T) {
	if !HasElapsed(100, 100, 0) {
		t.Error("Zero interval should always have elapsed")
	}
	if HasElapsed(100, 149, 50) {
		t.Error("49ms should not satisfy a 50ms interval")
	}
	if !HasElapsed(100, 150, 50) {
		t.Error("50ms should satisfy a 50ms interval")
	}
	if !HasElapsed(math.MaxUint32-20, 40, 50) {
		t.Error("61ms across wraparound should satisfy a 50ms interval")
	}
	if HasElapsed(math.MaxUint32-20, 10, 50) {
		t.Error("31ms across wraparound should not satisfy a 50ms interval")
	}
}

func TestManualClock(t *testing.T) {
	c := NewManual(math.MaxUint32 - 1)
	c.Sleep(3)
	if got := c.Millis(); got != 1 {
		t.Errorf("Expected manual clock to wrap to 1, got %d", got)
	}
	c.Set(500)
	c.Advance(250)
	if got := c.Millis(); got != 750 {
		t.Errorf("Expected 750, got %d", got)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		ms   uint64
		want string
	}{
		{0, "0s"},
		{999, "0s"},
		{59_000, "59s"},
		{61_000, "1m 1s"},
		{3_600_000, "1h 0s"},
		{3_723_000, "1h 2m 3s"},
		{100 * 3_600_000, "100h 0s"},
	}
	for _, tt := range tests {
		if got := FormatUptime(tt.ms); got != tt.want {
			t.Errorf("FormatUptime(%d): expected %q, got %q", tt.ms, tt.want, got)
		}
	}
}
