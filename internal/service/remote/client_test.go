package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChartFeed/internal/domain/models"
	"ChartFeed/internal/service/codec"
	xhttp "ChartFeed/pkg/http"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/file/f1/tile-meta/1m", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tile_size":50000,"tile_count":2,"tiles":[{"start_ts":1,"end_ts":10},{"start_ts":11,"end_ts":20}]}`))
	})
	mux.HandleFunc("/api/file/f1/tile/1m/1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(codec.Encode([]models.Candle{{T: 11, Open: 1, High: 2, Low: 0, Close: 1, Volume: 5}}))
	})
	mux.HandleFunc("/api/file/f1/smart", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "1m", q.Get("timeframe"))
		assert.Equal(t, "100", q.Get("limit"))
		assert.Equal(t, "end", q.Get("anchor"))
		assert.Equal(t, "5", q.Get("start_ts"))
		assert.Empty(t, q.Get("end_ts"))
		_, _ = w.Write([]byte(`{"data":[{"t":5,"o":1,"h":1,"l":1,"c":1,"v":1},{"t":6,"o":2,"h":2,"l":2,"c":2,"v":2}],
			"total":9,"returned":2,"first_cursor":5,"last_cursor":6,"has_more_left":false,"has_more_right":true}`))
	})
	mux.HandleFunc("/api/file/f1/candles", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "backward", q.Get("direction"))
		assert.Equal(t, "5", q.Get("cursor"))
		_, _ = w.Write([]byte(`{"data":{"t":[3,4],"o":[1,1],"h":[2,2],"l":[0,0],"c":[1,1],"v":[7,8]},
			"prev_cursor":3,"next_cursor":null,"has_more_left":true,"has_more_right":true}`))
	})
	mux.HandleFunc("/api/file/missing/tile/1m/0", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientTileMeta(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL+"/api/", time.Second)

	meta, err := c.TileMeta(context.Background(), "f1", "1m")
	require.NoError(t, err)
	assert.Equal(t, uint32(50000), meta.TileSize)
	assert.Len(t, meta.Tiles, 2)
	assert.Equal(t, 1, meta.TileFor(15))
}

func TestClientTile(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL+"/api", time.Second)

	body, err := c.Tile(context.Background(), "f1", "1m", 1)
	require.NoError(t, err)
	got := codec.Decode(body)
	require.Len(t, got, 1)
	assert.Equal(t, int64(11), got[0].T)

	_, err = c.Tile(context.Background(), "missing", "1m", 0)
	require.Error(t, err)
	assert.True(t, xhttp.IsStatus(err, http.StatusNotFound))
}

func TestClientSmart(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL+"/api", time.Second)

	page, err := c.Smart(context.Background(), models.SmartRequest{
		FileID: "f1", Timeframe: "1m", Limit: 100, Bounds: models.SessionBounds{StartTs: 5},
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, int64(6), page.Data[1].T)
	assert.Equal(t, int64(9), page.Total)
	require.NotNil(t, page.LastCursor)
	assert.Equal(t, int64(6), *page.LastCursor)
	assert.True(t, page.HasMoreRight)
}

func TestClientPage(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL+"/api", time.Second)

	page, err := c.Page(context.Background(), models.PageRequest{
		FileID: "f1", Timeframe: "1m", Limit: 2, Cursor: 5, Direction: models.Backward,
	})
	require.NoError(t, err)
	candles := page.Data.Candles()
	require.Len(t, candles, 2)
	assert.Equal(t, float64(8), candles[1].Volume)
	require.NotNil(t, page.PrevCursor)
	assert.Nil(t, page.NextCursor)
}

func TestFileURLEscapes(t *testing.T) {
	c := New("http://x/api", time.Second)
	assert.Equal(t, "http://x/api/file/a%2Fb/tile/1m/3", c.fileURL("a/b", "tile", "1m", "3"))
}
