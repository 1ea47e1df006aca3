package util

import (
	"strconv"
	"time"
)

// unix values above this are taken as milliseconds
const millisThreshold = 1e11

// ParseTime tries RFC3339, RFC3339Nano, unix seconds and unix milliseconds.
// Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		if ts > millisThreshold {
			return time.UnixMilli(ts), true
		}
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseMillis is ParseTime reported as a millisecond epoch; empty or invalid
// input yields (0, false).
func ParseMillis(s string) (int64, bool) {
	t, ok := ParseTime(s)
	if !ok {
		return 0, false
	}
	return t.UnixMilli(), true
}
