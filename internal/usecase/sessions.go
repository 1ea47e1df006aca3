package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"ChartFeed/internal/domain/models"
	drepo "ChartFeed/internal/domain/repository"
	applogger "ChartFeed/pkg/logger"
)

var ErrSessionNotFound = errors.New("session not found")

// FanoutListener forwards eviction events to every listener in order.
type FanoutListener []EvictionListener

func (f FanoutListener) OnEvicted(ctx context.Context, ev models.EvictionEvent) {
	for _, l := range f {
		if l != nil {
			l.OnEvicted(ctx, ev)
		}
	}
}

// OpenSessionParams describes the first window of a session.
type OpenSessionParams struct {
	FileID    string
	Timeframe string
	Capacity  int
	BatchSize int
	Anchor    string
	Bounds    models.SessionBounds
}

type SessionOption func(*SessionManager)

func WithSessionLogger(l *applogger.Logger) SessionOption {
	return func(m *SessionManager) {
		if l != nil {
			m.l = l
		}
	}
}

func WithSessionMetrics(metrics drepo.Metrics) SessionOption {
	return func(m *SessionManager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithSessionListener receives eviction events from every window.
func WithSessionListener(listener EvictionListener) SessionOption {
	return func(m *SessionManager) {
		m.listener = listener
	}
}

// WithWindowOptions is appended to the options of every window created.
func WithWindowOptions(opts ...WindowOption) SessionOption {
	return func(m *SessionManager) {
		m.windowOpts = append(m.windowOpts, opts...)
	}
}

// WithWindowDefaults sets the capacity and batch size used when a session
// does not ask for its own.
func WithWindowDefaults(capacity, batchSize int) SessionOption {
	return func(m *SessionManager) {
		m.capacity = capacity
		m.batchSize = batchSize
	}
}

type session struct {
	window *Window
	params OpenSessionParams
}

// SessionManager owns the windows of all open chart sessions.
type SessionManager struct {
	pager      drepo.CandlePager
	l          *applogger.Logger
	metrics    drepo.Metrics
	listener   EvictionListener
	windowOpts []WindowOption
	capacity   int
	batchSize  int

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewSessionManager(pager drepo.CandlePager, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		pager:    pager,
		l:        applogger.Nop(),
		metrics:  drepo.NopMetrics{},
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open creates a session and seeds its window. Nothing is registered if
// seeding fails.
func (m *SessionManager) Open(ctx context.Context, p OpenSessionParams) (*Window, error) {
	id := uuid.NewString()
	w, err := m.newSeededWindow(ctx, id, p)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = &session{window: w, params: p}
	n := len(m.sessions)
	m.mu.Unlock()

	m.l.Info("session opened",
		applogger.String("session", id),
		applogger.String("file", p.FileID),
		applogger.String("tf", w.Timeframe()),
		applogger.Int("open_sessions", n),
	)
	return w, nil
}

// SwitchFile replaces the session window with a fresh one for fileID. The old
// window stays in place if the new one cannot be seeded.
func (m *SessionManager) SwitchFile(ctx context.Context, id, fileID, tf string) (*Window, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}

	p := s.params
	p.FileID = fileID
	p.Timeframe = tf
	p.Bounds = models.SessionBounds{}

	w, err := m.newSeededWindow(ctx, id, p)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, ok := m.sessions[id]; !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	m.sessions[id] = &session{window: w, params: p}
	m.mu.Unlock()

	m.l.Info("session file switched",
		applogger.String("session", id),
		applogger.String("file", fileID),
	)
	return w, nil
}

// SwitchTimeframe reseeds the existing window in place.
func (m *SessionManager) SwitchTimeframe(ctx context.Context, id, tf string) (*Window, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if err := s.window.Reseed(ctx, tf, s.params.Anchor); err != nil {
		return nil, err
	}
	return s.window, nil
}

func (m *SessionManager) Get(id string) (*Window, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return s.window, nil
}

func (m *SessionManager) Close(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	m.l.Info("session closed", applogger.String("session", id))
	return nil
}

func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *SessionManager) get(id string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *SessionManager) newSeededWindow(ctx context.Context, id string, p OpenSessionParams) (*Window, error) {
	opts := []WindowOption{
		WithWindowLogger(m.l),
		WithWindowMetrics(m.metrics),
		WithEvictionListener(m.listener),
	}
	opts = append(opts, m.windowOpts...)

	if p.Capacity <= 0 {
		p.Capacity = m.capacity
	}
	if p.BatchSize <= 0 {
		p.BatchSize = m.batchSize
	}

	w := NewWindow(m.pager, WindowParams{
		SessionID: id,
		FileID:    p.FileID,
		Timeframe: p.Timeframe,
		Capacity:  p.Capacity,
		BatchSize: p.BatchSize,
		Bounds:    p.Bounds,
	}, opts...)

	if err := w.Seed(ctx, p.Anchor); err != nil {
		return nil, err
	}
	return w, nil
}
