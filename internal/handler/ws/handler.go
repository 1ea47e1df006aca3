package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"ChartFeed/internal/usecase"
	xhttp "ChartFeed/pkg/http"
	applogger "ChartFeed/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// SessionSource resolves session ids to windows.
type SessionSource interface {
	Get(id string) (*usecase.Window, error)
}

// Handler upgrades GET /ws/sessions/:id and serves near_edge requests sent
// over the socket.
type Handler struct {
	hub      *Hub
	sessions SessionSource
	l        *applogger.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, sessions SessionSource, l *applogger.Logger, origins []string) *Handler {
	if l == nil {
		l = applogger.Nop()
	}
	return &Handler{
		hub:      hub,
		sessions: sessions,
		l:        l,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/sessions/:id", h.Subscribe)
}

func (h *Handler) Subscribe(c echo.Context) error {
	id := c.Param("id")
	w, err := h.sessions.Get(id)
	if err != nil {
		if errors.Is(err, usecase.ErrSessionNotFound) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundError("session not found"))
		}
		return xhttp.AppErrorResponse(c, xhttp.InternalError(err.Error()))
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.l.Warn("ws upgrade failed", applogger.String("session", id), applogger.Error(err))
		return nil
	}

	cl := &client{sessionID: id, conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	h.hub.register(cl)
	h.l.Info("ws client connected", applogger.String("session", id), applogger.Int("clients", h.hub.Clients(id)))

	go cl.writePump()
	h.readPump(cl, w)
	return nil
}

// request is a client frame: {"event":"near_edge","data":{"left":true}}.
type request struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (h *Handler) readPump(cl *client, w *usecase.Window) {
	defer h.hub.unregister(cl)

	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, msg, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.l.Debug("ws read failed", applogger.String("session", cl.sessionID), applogger.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var req request
		if err := json.Unmarshal(msg, &req); err != nil || req.Event == "" {
			h.reply(cl, EventResponse{Event: EventError, Error: "malformed frame"})
			continue
		}

		switch req.Event {
		case "near_edge":
			var edge usecase.NearEdge
			if len(req.Data) > 0 {
				if err := json.Unmarshal(req.Data, &edge); err != nil {
					h.reply(cl, EventResponse{Event: EventError, Error: "malformed near_edge"})
					continue
				}
			}
			// Window may have been replaced by a file switch.
			if cur, err := h.sessions.Get(cl.sessionID); err == nil {
				w = cur
			}
			results := w.CheckAndMaybeLoad(context.Background(), edge)
			h.reply(cl, EventResponse{Event: EventLoaded, Data: results})
		default:
			h.reply(cl, EventResponse{Event: EventError, Error: "unknown event " + req.Event})
		}
	}
}

func (h *Handler) reply(cl *client, msg EventResponse) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case cl.send <- b:
	case <-cl.done:
	}
}

type client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	once      sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
