package usecase

import (
	"context"
	"errors"
	"fmt"

	"ChartFeed/internal/domain/models"
	"ChartFeed/internal/service/resample"
)

var (
	ErrTileMetaUnavailable = errors.New("tile meta unavailable")
	ErrTileOutOfRange      = errors.New("tile index out of range")
)

const maxPrefetchBatch = 64

// TilesUseCase validates tile requests before they reach the shared cache.
type TilesUseCase struct {
	cache *TileCache
}

func NewTilesUseCase(cache *TileCache) *TilesUseCase {
	return &TilesUseCase{cache: cache}
}

type GetTileParams struct {
	FileID    string
	Timeframe string
	Index     int
}

type GetTileResult struct {
	FileID    string
	Timeframe string
	Index     int
	Count     int
	Range     models.TileRange
	Candles   []models.Candle
}

func (uc *TilesUseCase) Meta(ctx context.Context, fileID, tf string) (*models.TileMeta, error) {
	if fileID == "" {
		return nil, fmt.Errorf("file id required")
	}
	meta, ok := uc.cache.GetMeta(ctx, fileID, resample.Normalize(tf))
	if !ok {
		return nil, ErrTileMetaUnavailable
	}
	return meta, nil
}

// GetTile returns one tile. An empty tile is a soft failure, not an error;
// only requests that can never succeed are rejected.
func (uc *TilesUseCase) GetTile(ctx context.Context, p GetTileParams) (*GetTileResult, error) {
	if p.FileID == "" {
		return nil, fmt.Errorf("file id required")
	}
	if p.Index < 0 {
		return nil, fmt.Errorf("%w: %d", ErrTileOutOfRange, p.Index)
	}
	tf := resample.Normalize(p.Timeframe)

	res := &GetTileResult{FileID: p.FileID, Timeframe: tf, Index: p.Index}
	if meta, ok := uc.cache.GetMeta(ctx, p.FileID, tf); ok {
		if p.Index >= int(meta.TileCount) {
			return nil, fmt.Errorf("%w: %d >= %d", ErrTileOutOfRange, p.Index, meta.TileCount)
		}
		if p.Index < len(meta.Tiles) {
			res.Range = meta.Tiles[p.Index]
		}
	}

	res.Candles = uc.cache.GetTile(ctx, p.FileID, tf, p.Index)
	res.Count = len(res.Candles)
	return res, nil
}

// Prefetch drops indices outside the known layout and schedules the rest.
func (uc *TilesUseCase) Prefetch(ctx context.Context, fileID, tf string, indices []int) (int, error) {
	if fileID == "" {
		return 0, fmt.Errorf("file id required")
	}
	if len(indices) > maxPrefetchBatch {
		indices = indices[:maxPrefetchBatch]
	}
	tf = resample.Normalize(tf)

	valid := make([]int, 0, len(indices))
	meta, known := uc.cache.GetMeta(ctx, fileID, tf)
	for _, idx := range indices {
		if idx < 0 || (known && idx >= int(meta.TileCount)) {
			continue
		}
		valid = append(valid, idx)
	}
	return uc.cache.Prefetch(ctx, fileID, tf, valid), nil
}

func (uc *TilesUseCase) Invalidate(ctx context.Context, fileID string) (int, error) {
	if fileID == "" {
		return 0, fmt.Errorf("file id required")
	}
	return uc.cache.Invalidate(ctx, fileID), nil
}

func (uc *TilesUseCase) Stats() TileCacheStats {
	return uc.cache.Stats()
}
