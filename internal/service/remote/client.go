// Package remote talks to the candle store HTTP API.
package remote

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ChartFeed/internal/domain/models"
	drepo "ChartFeed/internal/domain/repository"
	xhttp "ChartFeed/pkg/http"
)

// Client implements TileStore and CandlePager over the remote HTTP API.
type Client struct {
	baseURL string
	http    *xhttp.Client
}

var (
	_ drepo.TileStore   = (*Client)(nil)
	_ drepo.CandlePager = (*Client)(nil)
)

// New creates a remote store client rooted at baseURL (the "{api}" prefix).
func New(baseURL string, timeout time.Duration, opts ...xhttp.ClientOption) *Client {
	opts = append([]xhttp.ClientOption{xhttp.WithTimeout(timeout)}, opts...)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    xhttp.NewClient(opts...),
	}
}

// TileMeta fetches GET {api}/file/{fileId}/tile-meta/{tf}.
func (c *Client) TileMeta(ctx context.Context, fileID, tf string) (*models.TileMeta, error) {
	var meta models.TileMeta
	if err := c.http.GetJSON(ctx, c.fileURL(fileID, "tile-meta", tf), nil, &meta); err != nil {
		return nil, fmt.Errorf("tile meta %s/%s: %w", fileID, tf, err)
	}
	if int(meta.TileCount) != len(meta.Tiles) && len(meta.Tiles) > 0 {
		return nil, fmt.Errorf("tile meta %s/%s: tile_count %d but %d ranges", fileID, tf, meta.TileCount, len(meta.Tiles))
	}
	return &meta, nil
}

// Tile fetches the raw body of GET {api}/file/{fileId}/tile/{tf}/{tileIdx}.
func (c *Client) Tile(ctx context.Context, fileID, tf string, idx int) ([]byte, error) {
	body, err := c.http.GetBytes(ctx, c.fileURL(fileID, "tile", tf, strconv.Itoa(idx)))
	if err != nil {
		return nil, fmt.Errorf("tile %s/%s/%d: %w", fileID, tf, idx, err)
	}
	return body, nil
}

// Smart fetches the seeding window from GET {api}/file/{fileId}/smart.
func (c *Client) Smart(ctx context.Context, req models.SmartRequest) (*models.SmartPage, error) {
	q := map[string][]string{
		"timeframe": {req.Timeframe},
		"limit":     {strconv.Itoa(req.Limit)},
		"anchor":    {anchorOrDefault(req.Anchor)},
	}
	if req.Bounds.StartTs > 0 {
		q["start_ts"] = []string{strconv.FormatInt(req.Bounds.StartTs, 10)}
	}
	if req.Bounds.EndTs > 0 {
		q["end_ts"] = []string{strconv.FormatInt(req.Bounds.EndTs, 10)}
	}

	var page models.SmartPage
	if err := c.http.GetJSON(ctx, c.fileURL(req.FileID, "smart"), q, &page); err != nil {
		return nil, fmt.Errorf("smart %s/%s: %w", req.FileID, req.Timeframe, err)
	}
	return &page, nil
}

// Page fetches one page from GET {api}/file/{fileId}/candles.
func (c *Client) Page(ctx context.Context, req models.PageRequest) (*models.CandlePage, error) {
	q := map[string][]string{
		"timeframe": {req.Timeframe},
		"limit":     {strconv.Itoa(req.Limit)},
		"cursor":    {strconv.FormatInt(req.Cursor, 10)},
		"direction": {req.Direction.String()},
	}

	var page models.CandlePage
	if err := c.http.GetJSON(ctx, c.fileURL(req.FileID, "candles"), q, &page); err != nil {
		return nil, fmt.Errorf("candles %s/%s %s: %w", req.FileID, req.Timeframe, req.Direction, err)
	}
	return &page, nil
}

func (c *Client) fileURL(fileID string, parts ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/file/")
	b.WriteString(url.PathEscape(fileID))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

func anchorOrDefault(a string) string {
	if a == "start" {
		return a
	}
	return "end"
}
