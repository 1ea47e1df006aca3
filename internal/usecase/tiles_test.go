package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTilesUseCase_GetTile(t *testing.T) {
	uc := NewTilesUseCase(NewTileCache(newFakeTileStore()))
	ctx := context.Background()

	res, err := uc.GetTile(ctx, GetTileParams{FileID: "f1", Timeframe: "bogus", Index: 0})
	require.NoError(t, err)
	assert.Equal(t, "1m", res.Timeframe)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, int64(60_000), res.Range.EndTs)

	_, err = uc.GetTile(ctx, GetTileParams{FileID: "f1", Timeframe: "1m", Index: 1})
	assert.ErrorIs(t, err, ErrTileOutOfRange)

	_, err = uc.GetTile(ctx, GetTileParams{FileID: "f1", Index: -1})
	assert.ErrorIs(t, err, ErrTileOutOfRange)

	_, err = uc.GetTile(ctx, GetTileParams{Timeframe: "1m"})
	assert.Error(t, err)
}

func TestTilesUseCase_GetTileWithoutMetaIsSoft(t *testing.T) {
	store := newFakeTileStore()
	store.metaErr = errors.New("meta down")
	uc := NewTilesUseCase(NewTileCache(store))

	res, err := uc.GetTile(context.Background(), GetTileParams{FileID: "f1", Timeframe: "1m", Index: 7})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)

	_, err = uc.Meta(context.Background(), "f1", "1m")
	assert.ErrorIs(t, err, ErrTileMetaUnavailable)
}

func TestTilesUseCase_PrefetchFiltersByMeta(t *testing.T) {
	store := newFakeTileStore()
	uc := NewTilesUseCase(NewTileCache(store))

	n, err := uc.Prefetch(context.Background(), "f1", "1m", []int{-1, 0, 1, 5})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool { return uc.Stats().Tiles == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, store.calls("f1/1m/0"))
}

func TestTilesUseCase_Invalidate(t *testing.T) {
	uc := NewTilesUseCase(NewTileCache(newFakeTileStore()))
	ctx := context.Background()
	_, err := uc.GetTile(ctx, GetTileParams{FileID: "f1", Timeframe: "1m"})
	require.NoError(t, err)

	n, err := uc.Invalidate(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = uc.Invalidate(ctx, "")
	assert.Error(t, err)
}
