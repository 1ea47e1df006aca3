// Package resample aggregates candles into coarser OHLCV buckets.
package resample

import (
	"time"

	"ChartFeed/internal/domain/models"
)

// Resample buckets raw (ascending) candles into tf. A new output candle starts
// whenever the bucket key changes.
func Resample(raw []models.Candle, tf string) []models.Candle {
	return ResampleTo(raw, Parse(tf))
}

// ResampleTo is Resample with an already parsed timeframe.
func ResampleTo(raw []models.Candle, tf Timeframe) []models.Candle {
	out := make([]models.Candle, 0, estimate(len(raw), tf))
	keyOf := bucketKeyFunc(tf)

	var cur models.Candle
	var curKey int64
	open := false
	for _, c := range raw {
		k := keyOf(c.T)
		if open && k == curKey {
			if c.High > cur.High {
				cur.High = c.High
			}
			if c.Low < cur.Low {
				cur.Low = c.Low
			}
			cur.Close = c.Close
			cur.Volume += c.Volume
			continue
		}
		if open {
			out = append(out, cur)
		}
		cur = models.Candle{T: k, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
		curKey = k
		open = true
	}
	if open {
		out = append(out, cur)
	}
	return out
}

func bucketKeyFunc(tf Timeframe) func(int64) int64 {
	if tf.IsCalendar() {
		n := int64(tf.Count)
		return func(t int64) int64 {
			return monthStart(floorDiv(monthIndex(t), n) * n)
		}
	}
	d := tf.Millis
	return func(t int64) int64 {
		return floorDiv(t, d) * d
	}
}

// monthIndex counts UTC calendar months since January 1970.
func monthIndex(t int64) int64 {
	tt := time.UnixMilli(t).UTC()
	return int64(tt.Year()-1970)*12 + int64(tt.Month()-1)
}

func monthStart(idx int64) int64 {
	y := 1970 + floorDiv(idx, 12)
	m := idx - floorDiv(idx, 12)*12
	return time.Date(int(y), time.Month(m+1), 1, 0, 0, 0, 0, time.UTC).UnixMilli()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func estimate(n int, tf Timeframe) int {
	if n == 0 {
		return 0
	}
	if tf.Millis <= minuteMs {
		return n
	}
	return n/int(tf.Millis/minuteMs) + 1
}
