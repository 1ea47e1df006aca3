package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChartFeed/internal/domain/models"
)

func sample(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{
			T:      1_704_067_200_000 + int64(i)*60_000,
			Open:   100 + float64(i),
			High:   101 + float64(i),
			Low:    99 + float64(i),
			Close:  100.5 + float64(i),
			Volume: 10 * float64(i+1),
		}
	}
	return out
}

func TestDecodeWholeRecords(t *testing.T) {
	buf := Encode(sample(2))
	require.Len(t, buf, 96)
	assert.Len(t, Decode(buf), 2)
}

func TestDecodeDropsTrailingBytes(t *testing.T) {
	buf := append(Encode(sample(2)), 1, 2, 3, 4)
	require.Len(t, buf, 100)
	got := Decode(buf)
	require.Len(t, got, 2)
	assert.Equal(t, sample(2), got)
}

func TestDecodeShortInput(t *testing.T) {
	assert.Empty(t, Decode(nil))
	assert.Empty(t, Decode(make([]byte, RecordSize-1)))
}

func TestRoundTripKeepsFullTimestamp(t *testing.T) {
	// larger than any 32-bit integer
	in := []models.Candle{{T: 1_893_456_000_123, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 42}}
	got := Decode(Encode(in))
	require.Len(t, got, 1)
	assert.Equal(t, int64(1_893_456_000_123), got[0].T)
	assert.Equal(t, in, got)
}

func TestCount(t *testing.T) {
	assert.Equal(t, 0, Count(make([]byte, 47)))
	assert.Equal(t, 3, Count(make([]byte, 3*RecordSize+10)))
}
