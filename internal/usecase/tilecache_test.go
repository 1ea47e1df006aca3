package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChartFeed/internal/domain/models"
	"ChartFeed/internal/service/codec"
	"ChartFeed/pkg/cache"
)

type fakeTileStore struct {
	mu        sync.Mutex
	tileCalls map[string]int
	metaCalls atomic.Int32
	total     atomic.Int32

	gate    chan struct{}
	tileErr error
	metaErr error
	panics  bool
}

func newFakeTileStore() *fakeTileStore {
	return &fakeTileStore{tileCalls: make(map[string]int)}
}

func (s *fakeTileStore) TileMeta(_ context.Context, fileID, tf string) (*models.TileMeta, error) {
	s.metaCalls.Add(1)
	if s.metaErr != nil {
		return nil, s.metaErr
	}
	return &models.TileMeta{
		TileSize:  2,
		TileCount: 1,
		Tiles:     []models.TileRange{{StartTs: 0, EndTs: 60_000}},
	}, nil
}

func (s *fakeTileStore) Tile(ctx context.Context, fileID, tf string, idx int) ([]byte, error) {
	key := fmt.Sprintf("%s/%s/%d", fileID, tf, idx)
	s.mu.Lock()
	s.tileCalls[key]++
	s.mu.Unlock()
	s.total.Add(1)

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.panics {
		panic("boom")
	}
	if s.tileErr != nil {
		return nil, s.tileErr
	}
	base := int64(idx) * 120_000
	return codec.Encode([]models.Candle{
		{T: base, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{T: base + 60_000, Open: 1.5, High: 3, Low: 1, Close: 2, Volume: 20},
	}), nil
}

func (s *fakeTileStore) calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tileCalls[key]
}

func TestTileCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	store := newFakeTileStore()
	store.gate = make(chan struct{})
	c := NewTileCache(store)

	const callers = 16
	results := make([][]models.Candle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.GetTile(context.Background(), "f1", "1m", 0)
		}(i)
	}

	require.Eventually(t, func() bool { return store.total.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	assert.Equal(t, 1, store.calls("f1/1m/0"))
	for _, r := range results {
		require.Len(t, r, 2)
		assert.Equal(t, int64(60_000), r[1].T)
	}
	assert.Equal(t, 0, c.Stats().Inflight)
}

func TestTileCache_HitDoesNotRefetch(t *testing.T) {
	store := newFakeTileStore()
	c := NewTileCache(store)
	ctx := context.Background()

	first := c.GetTile(ctx, "f1", "1m", 3)
	second := c.GetTile(ctx, "f1", "1m", 3)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.calls("f1/1m/3"))
}

func TestTileCache_EvictsLeastRecentlyUsed(t *testing.T) {
	store := newFakeTileStore()
	c := NewTileCache(store, WithMaxTiles(100))
	ctx := context.Background()

	for i := 1; i <= 150; i++ {
		c.GetTile(ctx, "f1", "1m", i)
	}

	assert.Equal(t, 100, c.Stats().Tiles)
	for i := 1; i <= 50; i++ {
		assert.False(t, c.Has("f1", "1m", i), "tile %d should be evicted", i)
	}
	for i := 51; i <= 150; i++ {
		assert.True(t, c.Has("f1", "1m", i), "tile %d should be cached", i)
	}
}

func TestTileCache_HitRefreshesRecency(t *testing.T) {
	store := newFakeTileStore()
	c := NewTileCache(store, WithMaxTiles(2))
	ctx := context.Background()

	c.GetTile(ctx, "f1", "1m", 0)
	c.GetTile(ctx, "f1", "1m", 1)
	c.GetTile(ctx, "f1", "1m", 0)
	c.GetTile(ctx, "f1", "1m", 2)

	assert.True(t, c.Has("f1", "1m", 0))
	assert.False(t, c.Has("f1", "1m", 1))
	assert.True(t, c.Has("f1", "1m", 2))
}

func TestTileCache_InvalidateRemovesOnlyThatFile(t *testing.T) {
	store := newFakeTileStore()
	c := NewTileCache(store)
	ctx := context.Background()

	c.GetTile(ctx, "f1", "1m", 0)
	c.GetTile(ctx, "f1", "5m", 0)
	c.GetTile(ctx, "f2", "1m", 0)
	_, ok := c.GetMeta(ctx, "f1", "1m")
	require.True(t, ok)

	removed := c.Invalidate(ctx, "f1")

	assert.Equal(t, 3, removed)
	assert.False(t, c.Has("f1", "1m", 0))
	assert.False(t, c.Has("f1", "5m", 0))
	assert.True(t, c.Has("f2", "1m", 0))
	assert.Equal(t, 0, c.Stats().Metas)
}

func TestTileCache_FailureIsSoftAndReleasesInflight(t *testing.T) {
	store := newFakeTileStore()
	store.tileErr = errors.New("remote down")
	c := NewTileCache(store)
	ctx := context.Background()

	tile := c.GetTile(ctx, "f1", "1m", 0)
	assert.NotNil(t, tile)
	assert.Empty(t, tile)
	assert.Equal(t, 0, c.Stats().Inflight)
	assert.False(t, c.Has("f1", "1m", 0))

	store.tileErr = nil
	tile = c.GetTile(ctx, "f1", "1m", 0)
	assert.Len(t, tile, 2)
	assert.Equal(t, 2, store.calls("f1/1m/0"))
}

func TestTileCache_PanicInFetchIsSoft(t *testing.T) {
	store := newFakeTileStore()
	store.panics = true
	c := NewTileCache(store)

	tile := c.GetTile(context.Background(), "f1", "1m", 0)

	assert.Empty(t, tile)
	assert.Equal(t, 0, c.Stats().Inflight)
}

func TestTileCache_CancelledCallerDoesNotAbortSharedFetch(t *testing.T) {
	store := newFakeTileStore()
	store.gate = make(chan struct{})
	c := NewTileCache(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []models.Candle, 1)
	go func() { done <- c.GetTile(ctx, "f1", "1m", 0) }()

	require.Eventually(t, func() bool { return store.total.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.Empty(t, <-done)

	close(store.gate)
	require.Eventually(t, func() bool { return c.Has("f1", "1m", 0) }, time.Second, time.Millisecond)
	assert.Equal(t, 1, store.calls("f1/1m/0"))
}

func TestTileCache_PrefetchDeduplicates(t *testing.T) {
	store := newFakeTileStore()
	store.gate = make(chan struct{})
	c := NewTileCache(store)
	ctx := context.Background()

	assert.Equal(t, 3, c.Prefetch(ctx, "f1", "1m", []int{0, 1, 1, 2}))
	assert.Equal(t, 0, c.Prefetch(ctx, "f1", "1m", []int{0, 1, 2}))

	close(store.gate)
	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.Tiles == 3 && s.Prefetching == 0 && s.Inflight == 0
	}, time.Second, time.Millisecond)

	assert.Equal(t, 0, c.Prefetch(ctx, "f1", "1m", []int{0, 1, 2}))
	for i := 0; i < 3; i++ {
		assert.Equal(t, 1, store.calls(fmt.Sprintf("f1/1m/%d", i)))
	}
}

func TestTileCache_MetaCachedOnSuccessOnly(t *testing.T) {
	store := newFakeTileStore()
	store.metaErr = errors.New("bad gateway")
	c := NewTileCache(store)
	ctx := context.Background()

	meta, ok := c.GetMeta(ctx, "f1", "1m")
	assert.Nil(t, meta)
	assert.False(t, ok)

	store.metaErr = nil
	meta, ok = c.GetMeta(ctx, "f1", "1m")
	require.True(t, ok)
	assert.Equal(t, uint32(1), meta.TileCount)

	_, ok = c.GetMeta(ctx, "f1", "1m")
	assert.True(t, ok)
	assert.Equal(t, int32(2), store.metaCalls.Load())
}

func TestTileCache_L2ReadThroughAndWriteBack(t *testing.T) {
	store := newFakeTileStore()
	l2 := cache.NewMemoryStore()
	ctx := context.Background()

	seeded := codec.Encode([]models.Candle{{T: 42, Close: 7}})
	require.NoError(t, l2.SetBytes(ctx, "tile:f1/1m/9", seeded, 0))

	c := NewTileCache(store, WithL2(l2, time.Minute))

	tile := c.GetTile(ctx, "f1", "1m", 9)
	require.Len(t, tile, 1)
	assert.Equal(t, int64(42), tile[0].T)
	assert.Equal(t, 0, store.calls("f1/1m/9"))

	c.GetTile(ctx, "f1", "1m", 1)
	body, err := l2.GetBytes(ctx, "tile:f1/1m/1")
	require.NoError(t, err)
	assert.Equal(t, 2, codec.Count(body))

	c.GetTile(ctx, "f10", "1m", 0)
	c.Invalidate(ctx, "f1")
	_, err = l2.GetBytes(ctx, "tile:f1/1m/1")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
	_, err = l2.GetBytes(ctx, "tile:f10/1m/0")
	assert.NoError(t, err)
}

func TestTileCache_InvalidateDuringFetchDoesNotStoreOldTile(t *testing.T) {
	store := newFakeTileStore()
	store.gate = make(chan struct{})
	l2 := cache.NewMemoryStore()
	c := NewTileCache(store, WithL2(l2, time.Minute))
	ctx := context.Background()

	done := make(chan []models.Candle, 1)
	go func() { done <- c.GetTile(ctx, "f1", "1m", 0) }()
	require.Eventually(t, func() bool { return store.total.Load() == 1 }, time.Second, time.Millisecond)

	c.Invalidate(ctx, "f1")
	close(store.gate)

	assert.Len(t, <-done, 2, "the caller still gets its answer")
	assert.False(t, c.Has("f1", "1m", 0))
	_, err := l2.GetBytes(ctx, "tile:f1/1m/0")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
	assert.Equal(t, 0, c.Stats().Inflight)

	require.Len(t, c.GetTile(ctx, "f1", "1m", 0), 2)
	assert.True(t, c.Has("f1", "1m", 0))
	assert.Equal(t, 2, store.calls("f1/1m/0"))
}

func TestTileCache_InvalidateStartsFreshFlight(t *testing.T) {
	store := newFakeTileStore()
	store.gate = make(chan struct{})
	c := NewTileCache(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.GetTile(ctx, "f1", "1m", 0)
	}()
	require.Eventually(t, func() bool { return store.total.Load() == 1 }, time.Second, time.Millisecond)

	c.Invalidate(ctx, "f1")
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.GetTile(ctx, "f1", "1m", 0)
	}()
	require.Eventually(t, func() bool { return store.total.Load() == 2 }, time.Second, time.Millisecond)

	close(store.gate)
	wg.Wait()

	assert.True(t, c.Has("f1", "1m", 0))
	assert.Equal(t, 0, c.Stats().Inflight)
}

func TestFlightFile(t *testing.T) {
	assert.Equal(t, "f1", flightFile(tileFlight(models.TileKey{FileID: "f1", Timeframe: "1m", Index: 3})))
	assert.Equal(t, "f2", flightFile("meta:"+models.MetaKey{FileID: "f2", Timeframe: "5m"}.String()))
}
