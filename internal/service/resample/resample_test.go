package resample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChartFeed/internal/domain/models"
)

func minuteCandles(start time.Time, n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		p := 100 + float64(i%7) - float64(i%3)
		out[i] = models.Candle{
			T:      start.Add(time.Duration(i) * time.Minute).UnixMilli(),
			Open:   p,
			High:   p + 1 + float64(i%5),
			Low:    p - 1 - float64(i%4),
			Close:  p + 0.5,
			Volume: float64(i + 1),
		}
	}
	return out
}

func dailyCandles(start time.Time, end time.Time) []models.Candle {
	var out []models.Candle
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		out = append(out, models.Candle{T: d.UnixMilli(), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1})
	}
	return out
}

func TestParseTimeframe(t *testing.T) {
	cases := map[string]int64{
		"1m":   60_000,
		"5m":   300_000,
		"4h":   4 * 3_600_000,
		"1d":   86_400_000,
		"2w":   2 * 7 * 86_400_000,
		"1mo":  30 * 86_400_000,
		"":     60_000,
		"abc":  60_000,
		"0m":   60_000,
		"10y":  60_000,
		" 15m": 900_000,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseTimeframe(in), "input %q", in)
	}
	assert.True(t, Parse("3mo").IsCalendar())
	assert.False(t, Parse("3m").IsCalendar())
	assert.Equal(t, "1m", Normalize("garbage"))
	assert.False(t, IsValid("garbage"))
	assert.True(t, IsValid("12h"))
}

func TestResampleAggregatesOHLCV(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := minuteCandles(start, 10)

	got := Resample(raw, "5m")
	require.Len(t, got, 2)

	first := raw[:5]
	b := got[0]
	assert.Equal(t, start.UnixMilli(), b.T)
	assert.Equal(t, first[0].Open, b.Open)
	assert.Equal(t, first[4].Close, b.Close)
	var hi, lo, vol float64 = first[0].High, first[0].Low, 0
	for _, c := range first {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
		vol += c.Volume
	}
	assert.Equal(t, hi, b.High)
	assert.Equal(t, lo, b.Low)
	assert.Equal(t, vol, b.Volume)
	assert.Equal(t, start.Add(5*time.Minute).UnixMilli(), got[1].T)
}

func TestResamplePartialBucket(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 3, 0, 0, time.UTC)
	got := Resample(minuteCandles(start, 4), "5m")
	require.Len(t, got, 2)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), got[0].T)
	assert.Equal(t, float64(1+2), got[0].Volume)
	assert.Equal(t, float64(3+4), got[1].Volume)
}

func TestResampleIdempotent(t *testing.T) {
	raw := minuteCandles(time.Date(2024, 3, 10, 13, 7, 0, 0, time.UTC), 500)
	once := Resample(raw, "5m")
	assert.Equal(t, once, Resample(once, "5m"))

	monthly := Resample(dailyCandles(time.Date(2023, 11, 3, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)), "3mo")
	assert.Equal(t, monthly, Resample(monthly, "3mo"))
}

func TestResampleCalendarMonths(t *testing.T) {
	raw := dailyCandles(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	got := Resample(raw, "2mo")
	require.Len(t, got, 3)

	want := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	for i, b := range got {
		assert.Equal(t, want[i].UnixMilli(), b.T)
		assert.Zero(t, monthIndex(b.T)%2, "bucket %d not aligned", i)
	}
	// Jan+Feb 2024 = 31+29 days
	assert.Equal(t, float64(60), got[0].Volume)
	assert.Equal(t, float64(31), got[2].Volume)
}

func TestResampleEmpty(t *testing.T) {
	got := Resample(nil, "1h")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestFloorDivNegative(t *testing.T) {
	assert.Equal(t, int64(-2), floorDiv(-7, 5))
	assert.Equal(t, int64(-1), floorDiv(-5, 5))
	assert.Equal(t, int64(1), floorDiv(7, 5))
}
