package resample

import (
	"regexp"
	"strconv"
	"strings"
)

// Unit is a timeframe unit suffix.
type Unit string

const (
	Minute Unit = "m"
	Hour   Unit = "h"
	Day    Unit = "d"
	Week   Unit = "w"
	Month  Unit = "mo"
)

const (
	minuteMs = int64(60_000)
	hourMs   = 60 * minuteMs
	dayMs    = 24 * hourMs
	weekMs   = 7 * dayMs
	// nominal month used only when a duration is required
	monthMs = 30 * dayMs

	DefaultMillis = minuteMs
)

var tfPattern = regexp.MustCompile(`^(\d+)(mo|m|h|d|w)$`)

// Timeframe is a parsed "<count><unit>" string.
type Timeframe struct {
	Count  int
	Unit   Unit
	Millis int64
}

// IsCalendar reports whether buckets follow calendar months.
func (tf Timeframe) IsCalendar() bool {
	return tf.Unit == Month
}

func (tf Timeframe) String() string {
	return strconv.Itoa(tf.Count) + string(tf.Unit)
}

// Default is one minute.
func Default() Timeframe {
	return Timeframe{Count: 1, Unit: Minute, Millis: DefaultMillis}
}

// Parse reads a timeframe such as "5m", "4h", "1w" or "3mo".
// Anything unrecognized becomes one minute.
func Parse(s string) Timeframe {
	m := tfPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Default()
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return Default()
	}
	u := Unit(m[2])
	var unitMs int64
	switch u {
	case Minute:
		unitMs = minuteMs
	case Hour:
		unitMs = hourMs
	case Day:
		unitMs = dayMs
	case Week:
		unitMs = weekMs
	case Month:
		unitMs = monthMs
	}
	return Timeframe{Count: n, Unit: u, Millis: int64(n) * unitMs}
}

// ParseTimeframe returns the timeframe length in milliseconds.
func ParseTimeframe(s string) int64 {
	return Parse(s).Millis
}

// IsValid reports whether s parses without falling back.
func IsValid(s string) bool {
	m := tfPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return false
	}
	n, err := strconv.Atoi(m[1])
	return err == nil && n > 0
}

// Normalize returns the canonical form of s, or the default timeframe.
func Normalize(s string) string {
	return Parse(s).String()
}
