package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"ChartFeed/internal/domain/models"
	"ChartFeed/internal/service/codec"
	"ChartFeed/internal/service/metrics"
	"ChartFeed/internal/usecase"
	xhttp "ChartFeed/pkg/http"
	xlogger "ChartFeed/pkg/logger"
)

const immutableCacheControl = "public, max-age=31536000, immutable"

// TilesEchoHandler serves the shared tile cache over HTTP.
type TilesEchoHandler struct {
	logger *xlogger.Logger
	tiles  *usecase.TilesUseCase
}

func NewTilesEchoHandler(logger *xlogger.Logger, tiles *usecase.TilesUseCase) *TilesEchoHandler {
	return &TilesEchoHandler{logger: logger, tiles: tiles}
}

func (h *TilesEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/files/:file/tiles/:tf/meta", h.Meta)
	g.GET("/files/:file/tiles/:tf/:idx", h.Tile)
	g.POST("/files/:file/tiles/:tf/prefetch", h.Prefetch)
	g.DELETE("/files/:file/cache", h.Invalidate)
	g.GET("/cache/stats", h.Stats)
}

func (h *TilesEchoHandler) Meta(c echo.Context) error {
	defer observe("tile_meta", time.Now())
	req := &models.TileMetaRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	meta, err := h.tiles.Meta(c.Request().Context(), req.FileID, req.Timeframe)
	if err != nil {
		return h.fail(c, "tile_meta", err)
	}
	return xhttp.SuccessResponse(c, meta)
}

type tileResponse struct {
	FileID    string           `json:"file_id"`
	Timeframe string           `json:"timeframe"`
	Index     int              `json:"index"`
	Count     int              `json:"count"`
	Range     models.TileRange `json:"range"`
	Candles   []models.Candle  `json:"candles"`
}

// Tile answers with JSON or, for ?format=bin, the raw 48-byte records. Only
// non-empty tiles are marked immutable; an empty one may be a fetch failure.
func (h *TilesEchoHandler) Tile(c echo.Context) error {
	defer observe("tile", time.Now())
	req := &models.TileRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.tiles.GetTile(c.Request().Context(), usecase.GetTileParams{
		FileID:    req.FileID,
		Timeframe: req.Timeframe,
		Index:     req.Index,
	})
	if err != nil {
		return h.fail(c, "tile", err)
	}
	metrics.CandlesServed.WithLabelValues("tile").Add(float64(res.Count))

	hdr := c.Response().Header()
	hdr.Set("X-Candle-Count", strconv.Itoa(res.Count))
	if res.Count > 0 {
		hdr.Set(echo.HeaderCacheControl, immutableCacheControl)
	} else {
		hdr.Set(echo.HeaderCacheControl, "no-store")
	}

	if req.Format == "bin" {
		return c.Blob(http.StatusOK, echo.MIMEOctetStream, codec.Encode(res.Candles))
	}
	return xhttp.SuccessResponse(c, tileResponse{
		FileID:    res.FileID,
		Timeframe: res.Timeframe,
		Index:     res.Index,
		Count:     res.Count,
		Range:     res.Range,
		Candles:   res.Candles,
	})
}

func (h *TilesEchoHandler) Prefetch(c echo.Context) error {
	defer observe("prefetch", time.Now())
	req := &models.PrefetchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	n, err := h.tiles.Prefetch(c.Request().Context(), req.FileID, req.Timeframe, req.Indices)
	if err != nil {
		return h.fail(c, "prefetch", err)
	}
	return xhttp.DataResponse(c, http.StatusAccepted, map[string]int{"scheduled": n})
}

func (h *TilesEchoHandler) Invalidate(c echo.Context) error {
	defer observe("invalidate", time.Now())
	req := &models.InvalidateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	n, err := h.tiles.Invalidate(c.Request().Context(), req.FileID)
	if err != nil {
		return h.fail(c, "invalidate", err)
	}
	return xhttp.SuccessResponse(c, map[string]int{"removed": n})
}

func (h *TilesEchoHandler) Stats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.tiles.Stats())
}

func (h *TilesEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.Is(err, usecase.ErrTileOutOfRange):
		appErr = xhttp.NotFoundError(err.Error())
	case errors.Is(err, usecase.ErrTileMetaUnavailable):
		appErr = xhttp.UpstreamError("tile meta unavailable")
	default:
		appErr = xhttp.BadRequestError(err.Error())
	}
	metrics.APIErrors.WithLabelValues(endpoint, appErr.Code).Inc()
	h.logger.Warn("tiles request failed", xlogger.String("endpoint", endpoint), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, appErr.WithError(err))
}

func observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
