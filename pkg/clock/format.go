package clock

import (
	"strconv"
	"strings"
)

// FormatUptime renders a millisecond duration as "1h 2m 3s".
// Leading zero units are omitted; seconds are always present.
func FormatUptime(ms uint64) string {
	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	seconds %= 60
	minutes %= 60

	var b strings.Builder
	if hours > 0 {
		b.WriteString(strconv.FormatUint(hours, 10))
		b.WriteString("h ")
	}
	if minutes > 0 {
		b.WriteString(strconv.FormatUint(minutes, 10))
		b.WriteString("m ")
	}
	b.WriteString(strconv.FormatUint(seconds, 10))
	b.WriteString("s")
	return b.String()
}
