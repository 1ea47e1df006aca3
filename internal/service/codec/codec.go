// Package codec reads and writes the fixed-layout binary tile format.
//
// A tile body is a sequence of 48-byte records, each holding six little-endian
// IEEE-754 float64 values in the order t, o, h, l, c, v.
package codec

import (
	"encoding/binary"
	"math"

	"ChartFeed/internal/domain/models"
)

const (
	fieldSize  = 8
	RecordSize = 6 * fieldSize
)

// Count returns the number of whole records in buf.
func Count(buf []byte) int {
	return len(buf) / RecordSize
}

// Decode parses every whole record in buf. Trailing bytes that do not fill a
// record are ignored.
func Decode(buf []byte) []models.Candle {
	n := Count(buf)
	out := make([]models.Candle, n)
	for i := 0; i < n; i++ {
		rec := buf[i*RecordSize : (i+1)*RecordSize]
		out[i] = models.Candle{
			T:      int64(readFloat(rec, 0)),
			Open:   readFloat(rec, 1),
			High:   readFloat(rec, 2),
			Low:    readFloat(rec, 3),
			Close:  readFloat(rec, 4),
			Volume: readFloat(rec, 5),
		}
	}
	return out
}

// Encode is the inverse of Decode.
func Encode(candles []models.Candle) []byte {
	buf := make([]byte, len(candles)*RecordSize)
	for i, c := range candles {
		rec := buf[i*RecordSize : (i+1)*RecordSize]
		writeFloat(rec, 0, float64(c.T))
		writeFloat(rec, 1, c.Open)
		writeFloat(rec, 2, c.High)
		writeFloat(rec, 3, c.Low)
		writeFloat(rec, 4, c.Close)
		writeFloat(rec, 5, c.Volume)
	}
	return buf
}

func readFloat(rec []byte, field int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(rec[field*fieldSize:]))
}

func writeFloat(rec []byte, field int, v float64) {
	binary.LittleEndian.PutUint64(rec[field*fieldSize:], math.Float64bits(v))
}
