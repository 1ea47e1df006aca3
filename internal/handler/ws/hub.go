package ws

import (
	"context"
	"encoding/json"
	"sync"

	"ChartFeed/internal/domain/models"
	"ChartFeed/internal/usecase"
	applogger "ChartFeed/pkg/logger"
)

const (
	EventEvicted = "evicted"
	EventLoaded  = "loaded"
	EventError   = "error"

	sendBuffer = 32
)

// EventResponse is the frame pushed to a viewport.
type EventResponse struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Hub fans window events out to the sockets subscribed to each session.
type Hub struct {
	l       *applogger.Logger
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

func NewHub(l *applogger.Logger) *Hub {
	if l == nil {
		l = applogger.Nop()
	}
	return &Hub{l: l, clients: make(map[string]map[*client]struct{})}
}

// OnEvicted pushes ev to every socket of ev.SessionID.
func (h *Hub) OnEvicted(_ context.Context, ev models.EvictionEvent) {
	h.Send(ev.SessionID, EventResponse{Event: EventEvicted, Data: ev})
}

// Send delivers msg to one session. Clients whose buffer is full are dropped.
func (h *Hub) Send(sessionID string, msg EventResponse) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.l.Error("ws marshal failed", applogger.String("event", msg.Event), applogger.Error(err))
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients[sessionID] {
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.l.Warn("ws client too slow, dropping", applogger.String("session", sessionID))
		h.unregister(c)
	}
}

// Clients returns the number of sockets attached to sessionID.
func (h *Hub) Clients(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// CloseSession disconnects every socket of a closed session.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	set := h.clients[sessionID]
	delete(h.clients, sessionID)
	h.mu.Unlock()
	for c := range set {
		c.close()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.sessionID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.sessionID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.sessionID)
		}
	}
	h.mu.Unlock()
	c.close()
}

var _ usecase.EvictionListener = (*Hub)(nil)
