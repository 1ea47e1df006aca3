package models

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bar. T is a millisecond epoch timestamp.
type Candle struct {
	T      int64   `json:"t"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

// Time returns the candle timestamp as UTC time.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.T).UTC()
}

// TileRange is the time span covered by one tile.
type TileRange struct {
	StartTs int64 `json:"start_ts"`
	EndTs   int64 `json:"end_ts"`
}

// TileMeta describes the tile layout of one (file, timeframe) pair.
type TileMeta struct {
	TileSize  uint32      `json:"tile_size"`
	TileCount uint32      `json:"tile_count"`
	Tiles     []TileRange `json:"tiles"`
}

// TileFor returns the index of the tile whose range contains ts, or -1.
func (m *TileMeta) TileFor(ts int64) int {
	if m == nil {
		return -1
	}
	for i, r := range m.Tiles {
		if ts >= r.StartTs && ts <= r.EndTs {
			return i
		}
	}
	return -1
}

// TileKey addresses a single immutable tile.
type TileKey struct {
	FileID    string
	Timeframe string
	Index     int
}

func (k TileKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.FileID, k.Timeframe, k.Index)
}

// MetaKey addresses the tile metadata of one (file, timeframe) pair.
type MetaKey struct {
	FileID    string
	Timeframe string
}

func (k MetaKey) String() string {
	return k.FileID + "/" + k.Timeframe
}
