package repository

import (
	"context"

	"ChartFeed/internal/domain/models"
)

// TileStore is the read side of the remote tile layer.
type TileStore interface {
	TileMeta(ctx context.Context, fileID, tf string) (*models.TileMeta, error)
	Tile(ctx context.Context, fileID, tf string, idx int) ([]byte, error)
}

// CandlePager serves the cursor-paginated live candle stream.
type CandlePager interface {
	Smart(ctx context.Context, req models.SmartRequest) (*models.SmartPage, error)
	Page(ctx context.Context, req models.PageRequest) (*models.CandlePage, error)
}

// EventPublisher forwards window events out of process.
type EventPublisher interface {
	PublishEviction(ctx context.Context, ev models.EvictionEvent) error
	Close() error
}

type Metrics interface {
	RecordCacheHit(layer string)
	RecordCacheMiss(layer string)
	RecordFetch(kind, result string)
	RecordEviction(kind string, n int)
	RecordLoad(direction, result string)
	RecordLatency(op string, seconds float64)
	SetCachedTiles(n int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordCacheHit(string)         {}
func (NopMetrics) RecordCacheMiss(string)        {}
func (NopMetrics) RecordFetch(string, string)    {}
func (NopMetrics) RecordEviction(string, int)    {}
func (NopMetrics) RecordLoad(string, string)     {}
func (NopMetrics) RecordLatency(string, float64) {}
func (NopMetrics) SetCachedTiles(int)            {}
