package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"ChartFeed/internal/domain/models"
	"ChartFeed/internal/service/metrics"
	"ChartFeed/internal/service/ratelimit"
	"ChartFeed/internal/service/resample"
	"ChartFeed/internal/usecase"
	xhttp "ChartFeed/pkg/http"
	xlogger "ChartFeed/pkg/logger"
	"ChartFeed/pkg/util"
)

// SessionsEchoHandler exposes streaming windows to a browser viewport.
type SessionsEchoHandler struct {
	logger   *xlogger.Logger
	sessions *usecase.SessionManager
	rl       *ratelimit.Limiter
	closers  []SessionCloser
}

// SessionCloser releases per-session resources held outside the manager.
type SessionCloser interface {
	CloseSession(id string)
}

func NewSessionsEchoHandler(logger *xlogger.Logger, sessions *usecase.SessionManager, rl *ratelimit.Limiter, closers ...SessionCloser) *SessionsEchoHandler {
	return &SessionsEchoHandler{logger: logger, sessions: sessions, rl: rl, closers: closers}
}

func (h *SessionsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/sessions")
	g.POST("", h.Open)
	g.GET("/:id", h.View)
	g.POST("/:id/near-edge", h.NearEdge)
	g.POST("/:id/timeframe", h.SwitchTimeframe)
	g.POST("/:id/file", h.SwitchFile)
	g.DELETE("/:id", h.Close)
}

// sessionView is a window snapshot, optionally resampled for display.
type sessionView struct {
	usecase.WindowState
	ViewTimeframe string `json:"view_timeframe"`
}

func (h *SessionsEchoHandler) Open(c echo.Context) error {
	defer observe("session_open", time.Now())
	req := &models.OpenSessionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	bounds, err := parseBounds(req.Start, req.End)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	w, err := h.sessions.Open(c.Request().Context(), usecase.OpenSessionParams{
		FileID:    req.FileID,
		Timeframe: req.Timeframe,
		Capacity:  req.Capacity,
		Anchor:    req.Anchor,
		Bounds:    bounds,
	})
	if err != nil {
		return h.fail(c, "session_open", err)
	}
	return xhttp.CreatedResponse(c, h.view(w.Snapshot(), ""))
}

// View returns the window; ?tf= resamples the raw buffer for display only.
func (h *SessionsEchoHandler) View(c echo.Context) error {
	defer observe("session_view", time.Now())
	req := &models.SessionViewRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	w, err := h.sessions.Get(req.ID)
	if err != nil {
		return h.fail(c, "session_view", err)
	}
	return xhttp.SuccessResponse(c, h.view(w.Snapshot(), req.Timeframe))
}

type nearEdgeResponse struct {
	Results      []usecase.LoadResult `json:"results"`
	Count        int                  `json:"count"`
	FirstCursor  int64                `json:"first_cursor"`
	LastCursor   int64                `json:"last_cursor"`
	HasMoreLeft  bool                 `json:"has_more_left"`
	HasMoreRight bool                 `json:"has_more_right"`
}

func (h *SessionsEchoHandler) NearEdge(c echo.Context) error {
	defer observe("near_edge", time.Now())
	req := &models.NearEdgeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if h.rl != nil && !h.rl.Allow(req.ID) {
		metrics.RateLimited.Inc()
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("near-edge rate limited"))
	}

	w, err := h.sessions.Get(req.ID)
	if err != nil {
		return h.fail(c, "near_edge", err)
	}

	results := w.CheckAndMaybeLoad(c.Request().Context(), usecase.NearEdge{Left: req.Left, Right: req.Right})
	if results == nil {
		results = []usecase.LoadResult{}
	}
	s := w.Snapshot()
	return xhttp.SuccessResponse(c, nearEdgeResponse{
		Results:      results,
		Count:        len(s.Candles),
		FirstCursor:  s.FirstCursor,
		LastCursor:   s.LastCursor,
		HasMoreLeft:  s.HasMoreLeft,
		HasMoreRight: s.HasMoreRight,
	})
}

func (h *SessionsEchoHandler) SwitchTimeframe(c echo.Context) error {
	defer observe("switch_timeframe", time.Now())
	req := &models.SwitchTimeframeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	w, err := h.sessions.SwitchTimeframe(c.Request().Context(), req.ID, req.Timeframe)
	if err != nil {
		return h.fail(c, "switch_timeframe", err)
	}
	return xhttp.SuccessResponse(c, h.view(w.Snapshot(), ""))
}

func (h *SessionsEchoHandler) SwitchFile(c echo.Context) error {
	defer observe("switch_file", time.Now())
	req := &models.SwitchFileRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	w, err := h.sessions.SwitchFile(c.Request().Context(), req.ID, req.FileID, req.Timeframe)
	if err != nil {
		return h.fail(c, "switch_file", err)
	}
	return xhttp.SuccessResponse(c, h.view(w.Snapshot(), ""))
}

func (h *SessionsEchoHandler) Close(c echo.Context) error {
	id := c.Param("id")
	if err := h.sessions.Close(id); err != nil {
		return h.fail(c, "session_close", err)
	}
	if h.rl != nil {
		h.rl.Forget(id)
	}
	for _, cl := range h.closers {
		cl.CloseSession(id)
	}
	return xhttp.NoContentResponse(c)
}

func (h *SessionsEchoHandler) view(s usecase.WindowState, tf string) sessionView {
	v := sessionView{WindowState: s, ViewTimeframe: s.Timeframe}
	if tf != "" && resample.Normalize(tf) != s.Timeframe {
		v.Candles = resample.Resample(s.Candles, tf)
		v.ViewTimeframe = resample.Normalize(tf)
	}
	metrics.CandlesServed.WithLabelValues("session").Add(float64(len(v.Candles)))
	return v
}

func (h *SessionsEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	var appErr *xhttp.AppError
	if errors.Is(err, usecase.ErrSessionNotFound) {
		appErr = xhttp.NotFoundError("session not found")
	} else {
		appErr = xhttp.UpstreamError("candle store unavailable")
		h.logger.Error("session request failed", xlogger.String("endpoint", endpoint), xlogger.Error(err))
	}
	metrics.APIErrors.WithLabelValues(endpoint, appErr.Code).Inc()
	return xhttp.AppErrorResponse(c, appErr.WithError(err))
}

func parseBounds(start, end string) (models.SessionBounds, error) {
	var b models.SessionBounds
	var ok bool
	if start != "" {
		if b.StartTs, ok = util.ParseMillis(start); !ok {
			return b, xhttp.NewAppError("ERR_TIME", "start", "start is not a valid time", http.StatusBadRequest)
		}
	}
	if end != "" {
		if b.EndTs, ok = util.ParseMillis(end); !ok {
			return b, xhttp.NewAppError("ERR_TIME", "end", "end is not a valid time", http.StatusBadRequest)
		}
	}
	if b.StartTs != 0 && b.EndTs != 0 && b.StartTs > b.EndTs {
		return b, xhttp.NewAppError("ERR_TIME", "start", "start must be <= end", http.StatusBadRequest)
	}
	return b, nil
}
