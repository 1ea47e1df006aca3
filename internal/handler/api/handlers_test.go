package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChartFeed/internal/domain/models"
	"ChartFeed/internal/service/codec"
	"ChartFeed/internal/service/ratelimit"
	"ChartFeed/internal/usecase"
	xlogger "ChartFeed/pkg/logger"
)

type stubStore struct {
	metaErr error
}

func (s stubStore) TileMeta(context.Context, string, string) (*models.TileMeta, error) {
	if s.metaErr != nil {
		return nil, s.metaErr
	}
	return &models.TileMeta{TileSize: 2, TileCount: 2, Tiles: []models.TileRange{
		{StartTs: 0, EndTs: 60_000},
		{StartTs: 120_000, EndTs: 180_000},
	}}, nil
}

func (s stubStore) Tile(_ context.Context, _, _ string, idx int) ([]byte, error) {
	if idx == 1 {
		return nil, errors.New("upstream 500")
	}
	return codec.Encode([]models.Candle{
		{T: 0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{T: 60_000, Open: 1.5, High: 3, Low: 1, Close: 2, Volume: 20},
	}), nil
}

type stubPager struct {
	mu       sync.Mutex
	smartErr error
}

func (p *stubPager) Smart(_ context.Context, req models.SmartRequest) (*models.SmartPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.smartErr != nil {
		return nil, p.smartErr
	}
	var cs []models.Candle
	for ts := int64(0); ts < 10*60_000; ts += 60_000 {
		if req.Bounds.Contains(ts) {
			cs = append(cs, models.Candle{T: ts, Open: 1, High: 2, Low: 0.5, Close: 1, Volume: 1})
		}
	}
	return &models.SmartPage{Data: cs, HasMoreLeft: true}, nil
}

func (p *stubPager) Page(context.Context, models.PageRequest) (*models.CandlePage, error) {
	return &models.CandlePage{}, nil
}

type closerSpy struct{ ids []string }

func (c *closerSpy) CloseSession(id string) { c.ids = append(c.ids, id) }

type fixture struct {
	e      *echo.Echo
	pager  *stubPager
	closer *closerSpy
}

func newFixture(t *testing.T, store stubStore) *fixture {
	t.Helper()
	require.NoError(t, Setup(prometheus.NewRegistry()))

	l := xlogger.Nop()
	f := &fixture{e: echo.New(), pager: &stubPager{}, closer: &closerSpy{}}
	tiles := usecase.NewTilesUseCase(usecase.NewTileCache(store))
	sessions := usecase.NewSessionManager(f.pager)

	NewTilesEchoHandler(l, tiles).RegisterRoutes(f.e)
	NewSessionsEchoHandler(l, sessions, ratelimit.New(1, 0.001), f.closer).RegisterRoutes(f.e)
	return f
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, into))
}

func TestTiles_JSONAndBinary(t *testing.T) {
	f := newFixture(t, stubStore{})

	rec := f.do(http.MethodGet, "/api/files/f1/tiles/1m/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-Candle-Count"))
	assert.Equal(t, immutableCacheControl, rec.Header().Get(echo.HeaderCacheControl))
	var tile tileResponse
	decode(t, rec, &tile)
	assert.Equal(t, 2, tile.Count)
	assert.Equal(t, models.TileRange{StartTs: 0, EndTs: 60_000}, tile.Range)

	rec = f.do(http.MethodGet, "/api/files/f1/tiles/1m/0?format=bin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, echo.MIMEOctetStream, rec.Header().Get(echo.HeaderContentType))
	assert.Len(t, rec.Body.Bytes(), 2*48)
	assert.Equal(t, int64(60_000), codec.Decode(rec.Body.Bytes())[1].T)
}

func TestTiles_EmptyTileIsNotCachedByBrowsers(t *testing.T) {
	f := newFixture(t, stubStore{})

	rec := f.do(http.MethodGet, "/api/files/f1/tiles/1m/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-Candle-Count"))
	assert.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))
}

func TestTiles_Errors(t *testing.T) {
	f := newFixture(t, stubStore{})

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/files/f1/tiles/1m/5", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/files/f1/tiles/7x/0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/files/f1/tiles/1m/0?format=xml", nil).Code)

	down := newFixture(t, stubStore{metaErr: errors.New("down")})
	assert.Equal(t, http.StatusBadGateway, down.do(http.MethodGet, "/api/files/f1/tiles/1m/meta", nil).Code)
}

func TestTiles_PrefetchInvalidateStats(t *testing.T) {
	f := newFixture(t, stubStore{})

	rec := f.do(http.MethodPost, "/api/files/f1/tiles/1m/prefetch", map[string][]int{"indices": {0, 9}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var scheduled map[string]int
	decode(t, rec, &scheduled)
	assert.Equal(t, 1, scheduled["scheduled"])

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/files/f1/tiles/1m/prefetch", map[string][]int{"indices": {}}).Code)

	f.do(http.MethodGet, "/api/files/f1/tiles/1m/0", nil)
	rec = f.do(http.MethodDelete, "/api/files/f1/cache", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats usecase.TileCacheStats
	decode(t, rec, &stats)
	assert.Equal(t, 200, stats.MaxTiles)
}

func TestSessions_Lifecycle(t *testing.T) {
	f := newFixture(t, stubStore{})

	rec := f.do(http.MethodPost, "/api/sessions", map[string]interface{}{
		"file_id": "f1",
		"start":   "1970-01-01T00:02:00Z",
		"end":     "1970-01-01T00:05:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view sessionView
	decode(t, rec, &view)
	require.NotEmpty(t, view.SessionID)
	assert.Equal(t, "1m", view.Timeframe)
	assert.Equal(t, int64(120_000), view.Candles[0].T)
	assert.Equal(t, int64(300_000), view.Candles[len(view.Candles)-1].T)
	id := view.SessionID

	rec = f.do(http.MethodGet, fmt.Sprintf("/api/sessions/%s?tf=5m", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &view)
	assert.Equal(t, "5m", view.ViewTimeframe)
	assert.Len(t, view.Candles, 2)

	rec = f.do(http.MethodPost, "/api/sessions/"+id+"/near-edge", map[string]bool{"left": true})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodPost, "/api/sessions/"+id+"/near-edge", map[string]bool{"left": true})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = f.do(http.MethodPost, "/api/sessions/"+id+"/timeframe", map[string]string{"timeframe": "1h"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &view)
	assert.Equal(t, "1h", view.Timeframe)

	rec = f.do(http.MethodPost, "/api/sessions/"+id+"/file", map[string]string{"file_id": "f2"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &view)
	assert.Equal(t, "f2", view.FileID)
	assert.Len(t, view.Candles, 10)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/sessions/"+id, nil).Code)
	assert.Equal(t, []string{id}, f.closer.ids)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/sessions/"+id, nil).Code)
}

func TestSessions_Errors(t *testing.T) {
	f := newFixture(t, stubStore{})

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/sessions", map[string]string{}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/sessions", map[string]string{"file_id": "f1", "start": "soon"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/sessions", map[string]string{"file_id": "f1", "start": "600000", "end": "60000"}).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/sessions/nope/timeframe", map[string]string{"timeframe": "1h"}).Code)

	f.pager.smartErr = errors.New("remote down")
	assert.Equal(t, http.StatusBadGateway, f.do(http.MethodPost, "/api/sessions", map[string]string{"file_id": "f1"}).Code)
}
