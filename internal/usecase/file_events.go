package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ChartFeed/internal/domain/models"
	drepo "ChartFeed/internal/domain/repository"
	pkgkafka "ChartFeed/pkg/kafka"
	applogger "ChartFeed/pkg/logger"
	"ChartFeed/pkg/queue"
)

var errMissingFileID = errors.New("file update without file_id")

// FileUpdateHandler invalidates cached tiles when the remote store announces
// that a file was re-tiled.
type FileUpdateHandler struct {
	topic   string
	cache   *TileCache
	l       *applogger.Logger
	metrics drepo.Metrics

	warm       queue.Enqueuer
	warmTFs    []string
	warmLatest int
}

type FileUpdateOption func(*FileUpdateHandler)

// WithWarmQueue enqueues a warm job for the newest tiles of each timeframe
// after a file is invalidated.
func WithWarmQueue(q queue.Enqueuer, timeframes []string, latest int) FileUpdateOption {
	return func(h *FileUpdateHandler) {
		h.warm = q
		h.warmTFs = timeframes
		h.warmLatest = latest
	}
}

func NewFileUpdateHandler(topic string, cache *TileCache, l *applogger.Logger, metrics drepo.Metrics, opts ...FileUpdateOption) *FileUpdateHandler {
	if l == nil {
		l = applogger.Nop()
	}
	if metrics == nil {
		metrics = drepo.NopMetrics{}
	}
	h := &FileUpdateHandler{topic: topic, cache: cache, l: l, metrics: metrics}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *FileUpdateHandler) Topic() string { return h.topic }

// incoming message schema: {file_id, updated_at}
func (h *FileUpdateHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		FileID    string `json:"file_id"`
		UpdatedAt int64  `json:"updated_at"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if m.FileID == "" {
		return errMissingFileID
	}

	start := time.Now()
	removed := h.cache.Invalidate(ctx, m.FileID)
	h.metrics.RecordLatency("file_update_invalidate", time.Since(start).Seconds())
	h.l.Debug("file update applied",
		applogger.String("file", m.FileID),
		applogger.Int64("updated_at", m.UpdatedAt),
		applogger.Int("removed", removed),
	)

	if h.warm != nil && len(h.warmTFs) > 0 {
		req := WarmRequest{FileID: m.FileID, Timeframes: h.warmTFs, Latest: h.warmLatest}
		if err := h.warm.Enqueue(ctx, WarmJobType, req); err != nil {
			h.l.Warn("warm enqueue failed", applogger.String("file", m.FileID), applogger.Error(err))
		}
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*FileUpdateHandler)(nil)

// PublishingListener forwards eviction events to an EventPublisher. Publish
// failures are logged; they never reach the window.
type PublishingListener struct {
	pub drepo.EventPublisher
	l   *applogger.Logger
}

func NewPublishingListener(pub drepo.EventPublisher, l *applogger.Logger) *PublishingListener {
	if l == nil {
		l = applogger.Nop()
	}
	return &PublishingListener{pub: pub, l: l}
}

func (p *PublishingListener) OnEvicted(ctx context.Context, ev models.EvictionEvent) {
	if err := p.pub.PublishEviction(context.WithoutCancel(ctx), ev); err != nil {
		p.l.Warn("eviction publish failed",
			applogger.String("session", ev.SessionID),
			applogger.Error(err),
		)
	}
}
