package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ChartFeed/internal/domain/models"
	drepo "ChartFeed/internal/domain/repository"
	"ChartFeed/internal/service/codec"
	"ChartFeed/pkg/cache"
	applogger "ChartFeed/pkg/logger"
)

const (
	defaultMaxTiles     = 200
	defaultFetchTimeout = 30 * time.Second
	l2KeyPrefix         = "tile"
)

var errNilMeta = errors.New("remote returned no tile meta")

// TileCacheOption configures TileCache.
type TileCacheOption func(*TileCache)

// WithMaxTiles bounds the number of decoded tiles held in memory.
func WithMaxTiles(n int) TileCacheOption {
	return func(c *TileCache) {
		if n > 0 {
			c.maxTiles = n
		}
	}
}

// WithFetchTimeout bounds every remote fetch.
func WithFetchTimeout(d time.Duration) TileCacheOption {
	return func(c *TileCache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithL2 adds a shared byte store consulted before the network. ttl 0 keeps
// entries forever.
func WithL2(store cache.BytesStore, ttl time.Duration) TileCacheOption {
	return func(c *TileCache) {
		c.l2 = store
		c.l2TTL = ttl
	}
}

func WithTileCacheLogger(l *applogger.Logger) TileCacheOption {
	return func(c *TileCache) {
		if l != nil {
			c.l = l
		}
	}
}

func WithTileCacheMetrics(m drepo.Metrics) TileCacheOption {
	return func(c *TileCache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// TileCacheStats is a point-in-time view of the cache tables.
type TileCacheStats struct {
	Tiles       int `json:"tiles"`
	Metas       int `json:"metas"`
	Inflight    int `json:"inflight"`
	Prefetching int `json:"prefetching"`
	MaxTiles    int `json:"max_tiles"`
}

// TileCache holds decoded immutable tiles for one remote endpoint. It is meant
// to be shared by every session and handler talking to that endpoint.
//
// mu guards tiles, metas, inflight, prefetching and epochs as one unit.
// Network I/O always happens outside mu. A fetch only stores its result if
// the file's epoch is unchanged since it started.
type TileCache struct {
	store        drepo.TileStore
	l2           cache.BytesStore
	l2TTL        time.Duration
	maxTiles     int
	fetchTimeout time.Duration
	l            *applogger.Logger
	metrics      drepo.Metrics

	mu          sync.Mutex
	tiles       *cache.LRU[models.TileKey, []models.Candle]
	metas       map[models.MetaKey]*models.TileMeta
	inflight    map[string]int
	prefetching map[models.TileKey]struct{}
	epochs      map[string]uint64

	group singleflight.Group
}

func NewTileCache(store drepo.TileStore, opts ...TileCacheOption) *TileCache {
	c := &TileCache{
		store:        store,
		maxTiles:     defaultMaxTiles,
		fetchTimeout: defaultFetchTimeout,
		l:            applogger.Nop(),
		metrics:      drepo.NopMetrics{},
		metas:        make(map[models.MetaKey]*models.TileMeta),
		inflight:     make(map[string]int),
		prefetching:  make(map[models.TileKey]struct{}),
		epochs:       make(map[string]uint64),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.tiles = cache.NewLRU[models.TileKey, []models.Candle](cache.WithMemoryMaxSize(c.maxTiles))
	return c
}

// GetMeta returns the tile layout for (fileID, tf). Failures are soft: they
// are logged and reported as (nil, false), and never cached.
func (c *TileCache) GetMeta(ctx context.Context, fileID, tf string) (*models.TileMeta, bool) {
	key := models.MetaKey{FileID: fileID, Timeframe: tf}

	c.mu.Lock()
	if meta, ok := c.metas[key]; ok {
		c.mu.Unlock()
		c.metrics.RecordCacheHit("meta")
		return meta, true
	}
	c.mu.Unlock()
	c.metrics.RecordCacheMiss("meta")

	flight := "meta:" + key.String()
	ch := c.group.DoChan(flight, func() (v interface{}, err error) {
		epoch := c.markInflight(flight, fileID)
		defer c.release(flight)
		defer recoverFetch(&err)

		fctx, cancel := c.fetchContext(ctx)
		defer cancel()

		start := time.Now()
		meta, err := c.store.TileMeta(fctx, fileID, tf)
		c.metrics.RecordLatency("meta_fetch", time.Since(start).Seconds())
		if err == nil && meta == nil {
			err = errNilMeta
		}
		if err != nil {
			c.metrics.RecordFetch("meta", "error")
			return nil, err
		}
		c.metrics.RecordFetch("meta", "ok")

		c.mu.Lock()
		if c.epochs[fileID] == epoch {
			c.metas[key] = meta
		}
		c.mu.Unlock()
		return meta, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.l.Warn("tile meta fetch failed",
				applogger.String("file", fileID),
				applogger.String("tf", tf),
				applogger.Error(res.Err),
			)
			return nil, false
		}
		return res.Val.(*models.TileMeta), true
	case <-ctx.Done():
		return nil, false
	}
}

// GetTile returns the decoded tile. A cache hit refreshes recency; concurrent
// misses for the same key share one fetch. Failures yield an empty slice.
// The returned slice is shared and must not be modified.
func (c *TileCache) GetTile(ctx context.Context, fileID, tf string, idx int) []models.Candle {
	key := models.TileKey{FileID: fileID, Timeframe: tf, Index: idx}

	c.mu.Lock()
	if tile, ok := c.tiles.Get(key); ok {
		c.mu.Unlock()
		c.metrics.RecordCacheHit("memory")
		return tile
	}
	c.mu.Unlock()
	c.metrics.RecordCacheMiss("memory")

	flight := tileFlight(key)
	ch := c.group.DoChan(flight, func() (interface{}, error) {
		return c.fetchTile(ctx, key, flight)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.l.Warn("tile fetch failed",
				applogger.String("tile", key.String()),
				applogger.Error(res.Err),
			)
			return []models.Candle{}
		}
		return res.Val.([]models.Candle)
	case <-ctx.Done():
		return []models.Candle{}
	}
}

// Prefetch schedules background fetches for indices that are not cached,
// in flight or already scheduled. It returns how many were scheduled.
func (c *TileCache) Prefetch(ctx context.Context, fileID, tf string, indices []int) int {
	bg := context.WithoutCancel(ctx)
	scheduled := 0
	for _, idx := range indices {
		key := models.TileKey{FileID: fileID, Timeframe: tf, Index: idx}

		c.mu.Lock()
		_, pending := c.prefetching[key]
		_, flying := c.inflight[tileFlight(key)]
		if pending || flying || c.tiles.Contains(key) {
			c.mu.Unlock()
			continue
		}
		c.prefetching[key] = struct{}{}
		c.mu.Unlock()

		scheduled++
		go func() {
			defer func() {
				c.mu.Lock()
				delete(c.prefetching, key)
				c.mu.Unlock()
			}()
			c.GetTile(bg, key.FileID, key.Timeframe, key.Index)
		}()
	}
	if scheduled > 0 {
		c.l.Debug("tile prefetch scheduled",
			applogger.String("file", fileID),
			applogger.String("tf", tf),
			applogger.Int("count", scheduled),
		)
	}
	return scheduled
}

// Invalidate drops every tile and meta entry of fileID from memory and from
// the L2 store. Fetches already in flight for the file still answer their
// callers but no longer store their result; new callers start a fresh fetch.
func (c *TileCache) Invalidate(ctx context.Context, fileID string) int {
	c.mu.Lock()
	c.epochs[fileID]++
	for flight := range c.inflight {
		if flightFile(flight) == fileID {
			c.group.Forget(flight)
		}
	}
	n := c.tiles.RemoveFunc(func(k models.TileKey) bool { return k.FileID == fileID })
	for k := range c.metas {
		if k.FileID == fileID {
			delete(c.metas, k)
			n++
		}
	}
	size := c.tiles.Len()
	c.mu.Unlock()

	c.metrics.SetCachedTiles(size)
	if c.l2 != nil {
		pattern := cache.BuildPattern(cache.GenerateKey(l2KeyPrefix, fileID+"/"))
		if err := c.l2.DeleteByPattern(ctx, pattern); err != nil {
			c.l.Warn("tile l2 invalidate failed", applogger.String("file", fileID), applogger.Error(err))
		}
	}
	c.l.Info("tile cache invalidated", applogger.String("file", fileID), applogger.Int("removed", n))
	return n
}

// Has reports whether the tile is cached without touching recency.
func (c *TileCache) Has(fileID, tf string, idx int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tiles.Contains(models.TileKey{FileID: fileID, Timeframe: tf, Index: idx})
}

func (c *TileCache) Stats() TileCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return TileCacheStats{
		Tiles:       c.tiles.Len(),
		Metas:       len(c.metas),
		Inflight:    len(c.inflight),
		Prefetching: len(c.prefetching),
		MaxTiles:    c.maxTiles,
	}
}

func (c *TileCache) fetchTile(ctx context.Context, key models.TileKey, flight string) (tile []models.Candle, err error) {
	c.mu.Lock()
	if t, ok := c.tiles.Peek(key); ok {
		// another flight for this key settled between our miss and now
		c.mu.Unlock()
		return t, nil
	}
	c.inflight[flight]++
	epoch := c.epochs[key.FileID]
	c.mu.Unlock()
	defer c.release(flight)
	defer recoverFetch(&err)

	fctx, cancel := c.fetchContext(ctx)
	defer cancel()

	body, fromL2 := c.readL2(fctx, key)
	if !fromL2 {
		start := time.Now()
		body, err = c.store.Tile(fctx, key.FileID, key.Timeframe, key.Index)
		c.metrics.RecordLatency("tile_fetch", time.Since(start).Seconds())
		if err != nil {
			c.metrics.RecordFetch("tile", "error")
			return nil, err
		}
		c.metrics.RecordFetch("tile", "ok")
	}

	tile = codec.Decode(body)
	if !c.insert(key, tile, epoch) {
		c.l.Debug("tile fetch outlived invalidation", applogger.String("tile", key.String()))
		return tile, nil
	}

	if !fromL2 {
		c.writeL2(fctx, key, body, epoch)
	}
	return tile, nil
}

// insert stores tile unless the file was invalidated after epoch was taken.
func (c *TileCache) insert(key models.TileKey, tile []models.Candle, epoch uint64) bool {
	c.mu.Lock()
	if c.epochs[key.FileID] != epoch {
		c.mu.Unlock()
		return false
	}
	evicted := c.tiles.Set(key, tile)
	size := c.tiles.Len()
	c.mu.Unlock()

	if evicted > 0 {
		c.metrics.RecordEviction("tile", evicted)
	}
	c.metrics.SetCachedTiles(size)
	return true
}

func (c *TileCache) readL2(ctx context.Context, key models.TileKey) ([]byte, bool) {
	if c.l2 == nil {
		return nil, false
	}
	body, err := c.l2.GetBytes(ctx, l2Key(key))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.l.Warn("tile l2 read failed", applogger.String("tile", key.String()), applogger.Error(err))
		}
		c.metrics.RecordCacheMiss("l2")
		return nil, false
	}
	c.metrics.RecordCacheHit("l2")
	return body, true
}

func (c *TileCache) writeL2(ctx context.Context, key models.TileKey, body []byte, epoch uint64) {
	if c.l2 == nil || len(body) == 0 {
		return
	}
	if err := c.l2.SetBytes(ctx, l2Key(key), body, c.l2TTL); err != nil {
		c.l.Warn("tile l2 write failed", applogger.String("tile", key.String()), applogger.Error(err))
		return
	}
	// an invalidation may have swept L2 between insert and the write above
	if c.epoch(key.FileID) != epoch {
		if err := c.l2.Delete(ctx, l2Key(key)); err != nil {
			c.l.Warn("tile l2 rollback failed", applogger.String("tile", key.String()), applogger.Error(err))
		}
	}
}

func (c *TileCache) epoch(fileID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochs[fileID]
}

func (c *TileCache) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	// followers share this fetch, so the leader leaving must not cancel it
	return context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
}

func (c *TileCache) markInflight(flight, fileID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[flight]++
	return c.epochs[fileID]
}

func (c *TileCache) release(flight string) {
	c.mu.Lock()
	c.inflight[flight]--
	if c.inflight[flight] <= 0 {
		delete(c.inflight, flight)
	}
	c.mu.Unlock()
}

func recoverFetch(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("fetch panic: %v", r)
	}
}

func tileFlight(key models.TileKey) string {
	return "tile:" + key.String()
}

// flightFile extracts the file id from a "kind:file/tf[/idx]" flight name.
func flightFile(flight string) string {
	_, rest, _ := strings.Cut(flight, ":")
	file, _, _ := strings.Cut(rest, "/")
	return file
}

func l2Key(key models.TileKey) string {
	return cache.GenerateKey(l2KeyPrefix, key.String())
}
